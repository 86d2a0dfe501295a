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

package httpclient

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryableErrorMessage(t *testing.T) {
	err := &RetryableError{
		StatusCode: 429,
		Message:    "rate limited",
		RetryAfter: 30 * time.Second,
	}
	assert.Equal(t, "HTTP 429: rate limited (retry after 30s)", err.Error())

	noDelay := &RetryableError{StatusCode: 500, Message: "server error"}
	assert.Equal(t, "HTTP 500: server error", noDelay.Error())
}

func TestRetryableErrorUnwrap(t *testing.T) {
	inner := errors.New("HTTP 503")
	err := &RetryableError{StatusCode: 503, Message: "unavailable", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.True(t, err.IsRetryable())
}
