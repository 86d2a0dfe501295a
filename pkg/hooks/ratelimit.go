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
	"fmt"
	"log/slog"
	"time"

	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/ratelimit"
)

var _ gateway.HookRunner = (*Pipeline)(nil)

// RateLimitHook rejects users that exceed their per-channel request
// budget. Store failures fail open; admission control must not become
// an outage.
type RateLimitHook struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewRateLimitHook creates the rate limit pre-hook.
func NewRateLimitHook(limiter *ratelimit.Limiter, logger *slog.Logger) *RateLimitHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitHook{limiter: limiter, logger: logger}
}

// Name implements PreHook.
func (h *RateLimitHook) Name() string { return "ratelimit" }

// Priority implements PreHook.
func (h *RateLimitHook) Priority() int { return PriorityCritical }

// Execute checks the sender's budget for this window.
func (h *RateLimitHook) Execute(ctx context.Context, in *message.Incoming) error {
	identity := in.User.ID
	if identity == "" {
		identity = in.User.ChannelUserID
	}
	if identity == "" {
		// Anonymous traffic shares one bucket per channel.
		identity = "anonymous"
	}

	res, err := h.limiter.Allow(ctx, in.ChannelID+":"+identity)
	if err != nil {
		h.logger.Warn("Rate limit store unavailable; allowing message",
			"channel", in.ChannelID,
			"error", err)
	}
	if res != nil && !res.Allowed {
		retry := res.RetryAfter.Round(time.Second)
		if retry <= 0 {
			retry = time.Second
		}
		return gateway.NewError(gateway.CodeRateLimitExceeded,
			fmt.Sprintf("rate limit exceeded, retry in %s", retry))
	}
	return nil
}
