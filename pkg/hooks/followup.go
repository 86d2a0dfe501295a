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

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/gateway"
	"github.com/peerex/hermod/pkg/message"
)

// FollowupCaptureHook intercepts messages that answer a pending feedback
// follow-up prompt. A consumed clarification is stored as feedback and
// acknowledged on its channel instead of flowing into answer generation.
type FollowupCaptureHook struct {
	runtime *channel.Runtime
	plugins channel.PluginResolver
	logger  *slog.Logger
}

// NewFollowupCaptureHook creates the follow-up capture pre-hook.
func NewFollowupCaptureHook(runtime *channel.Runtime, plugins channel.PluginResolver, logger *slog.Logger) *FollowupCaptureHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &FollowupCaptureHook{runtime: runtime, plugins: plugins, logger: logger}
}

// Name implements PreHook.
func (h *FollowupCaptureHook) Name() string { return "followup_capture" }

// Priority implements PreHook.
func (h *FollowupCaptureHook) Priority() int { return PriorityHigh }

// Execute hands the message to the follow-up coordinator. When the
// coordinator consumes it the pipeline stops without generating an
// answer.
func (h *FollowupCaptureHook) Execute(ctx context.Context, in *message.Incoming) error {
	co := h.runtime.Followups()
	if co == nil || h.plugins == nil {
		return nil
	}

	plugin, ok := h.plugins.Get(in.ChannelID)
	if !ok {
		return nil
	}

	if co.ConsumeIfPending(ctx, in, plugin) {
		h.logger.Debug("Captured follow-up clarification",
			"channel", in.ChannelID,
			"message_id", in.MessageID)
		return gateway.ErrHandled
	}
	return nil
}
