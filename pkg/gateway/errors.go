// Copyright 2025 Peerex, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies gateway processing failures.
type ErrorCode string

const (
	CodeRateLimitExceeded    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	CodeAuthorizationFailed  ErrorCode = "AUTHORIZATION_FAILED"
	CodeInvalidMessage       ErrorCode = "INVALID_MESSAGE"
	CodeValidationError      ErrorCode = "VALIDATION_ERROR"
	CodePIIDetected          ErrorCode = "PII_DETECTED"
	CodeChannelUnavailable   ErrorCode = "CHANNEL_UNAVAILABLE"
	CodeRAGServiceError      ErrorCode = "RAG_SERVICE_ERROR"
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
)

// ErrHandled signals that a pre-hook fully handled the message and no
// answer must be generated or delivered. ProcessMessage translates it
// into a (nil, nil) return.
var ErrHandled = errors.New("message handled by pre-hook")

// Error is a classified gateway failure. Recoverable marks transient
// conditions the caller may retry.
type Error struct {
	Code        ErrorCode
	Message     string
	Recoverable bool
	Cause       error
}

// NewError creates a gateway error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a gateway error wrapping a cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case CodeAuthorizationFailed:
		return http.StatusForbidden
	case CodeInvalidMessage, CodeValidationError, CodePIIDetected:
		return http.StatusBadRequest
	case CodeChannelUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsError coerces any error into a gateway error. Foreign errors are
// wrapped as INTERNAL_ERROR with the original preserved as cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return WrapError(CodeInternalError, "unexpected gateway failure", err)
}
