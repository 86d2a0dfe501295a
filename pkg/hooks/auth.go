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

package hooks

import (
	"context"
	"log/slog"

	"github.com/peerex/hermod/pkg/auth"
	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/message"
)

// ChannelAuthPolicy says whether a channel requires a valid token and
// which role claim, if any, it additionally demands.
type ChannelAuthPolicy struct {
	RequireAuth  bool
	RequiredRole string
}

// AuthHook validates per-message auth tokens on channels that require
// them. Channels without a policy pass through untouched.
type AuthHook struct {
	validator auth.TokenValidator
	policies  map[string]ChannelAuthPolicy
	logger    *slog.Logger
}

// NewAuthHook creates the auth pre-hook. policies is keyed by channel
// id; channels absent from the map are open.
func NewAuthHook(validator auth.TokenValidator, policies map[string]ChannelAuthPolicy, logger *slog.Logger) *AuthHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHook{validator: validator, policies: policies, logger: logger}
}

// Name implements PreHook.
func (h *AuthHook) Name() string { return "auth" }

// Priority implements PreHook.
func (h *AuthHook) Priority() int { return PriorityCritical }

// Execute enforces the channel's auth policy against User.AuthToken.
func (h *AuthHook) Execute(ctx context.Context, in *message.Incoming) error {
	policy, ok := h.policies[in.ChannelID]
	if !ok || !policy.RequireAuth {
		return nil
	}

	if h.validator == nil {
		// Policy demands auth but no validator is configured. Reject
		// rather than silently waving traffic through.
		return gateway.NewError(gateway.CodeAuthenticationFailed,
			"authentication required but no validator is configured")
	}

	if in.User.AuthToken == "" {
		return gateway.NewError(gateway.CodeAuthenticationFailed, "authentication token is required")
	}

	claims, err := h.validator.ValidateToken(ctx, in.User.AuthToken)
	if err != nil {
		h.logger.Debug("Token validation failed",
			"channel", in.ChannelID,
			"error", err)
		return gateway.WrapError(gateway.CodeAuthenticationFailed, "invalid authentication token", err)
	}

	if policy.RequiredRole != "" && claims.Role != policy.RequiredRole {
		return gateway.NewError(gateway.CodeAuthorizationFailed, "insufficient role for this channel")
	}

	// The verified subject overrides whatever the adapter filled in.
	if claims.Subject != "" {
		in.User.ID = claims.Subject
	}
	return nil
}
