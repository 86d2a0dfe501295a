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
	"strings"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/message"
)

// ConfidenceRouterHook decides how an answer leaves the system. High
// confidence ships directly, medium queues for staff review, low or
// unknown confidence and policy-sensitive questions always get a human.
type ConfidenceRouterHook struct {
	autoSend float64
	review   float64
	keywords []string
}

// NewConfidenceRouterHook creates the confidence router post-hook.
func NewConfidenceRouterHook(cfg *config.ConfidenceHookConfig) *ConfidenceRouterHook {
	h := &ConfidenceRouterHook{autoSend: 0.75, review: 0.45}
	if cfg != nil {
		if cfg.AutoSendThreshold != nil {
			h.autoSend = *cfg.AutoSendThreshold
		}
		if cfg.ReviewThreshold != nil {
			h.review = *cfg.ReviewThreshold
		}
		h.keywords = cfg.PolicyKeywords
	}
	return h
}

// Name implements PostHook.
func (h *ConfidenceRouterHook) Name() string { return "confidence_router" }

// Priority implements PostHook.
func (h *ConfidenceRouterHook) Priority() int { return PriorityNormal }

// Execute stamps the routing action on the outgoing answer.
func (h *ConfidenceRouterHook) Execute(_ context.Context, in *message.Incoming, out *message.Outgoing) error {
	if kw := h.matchKeyword(in.Question); kw != "" {
		out.RequiresHuman = true
		out.Metadata.RoutingAction = message.ActionNeedsHuman
		out.Metadata.RoutingReason = fmt.Sprintf("policy keyword: %q", kw)
		return nil
	}

	conf := out.Metadata.ConfidenceScore
	switch {
	case conf == nil:
		out.Metadata.RoutingAction = message.ActionNeedsHuman
		out.Metadata.RoutingReason = "confidence unavailable"
	case *conf >= h.autoSend:
		out.Metadata.RoutingAction = message.ActionAutoSend
	case *conf >= h.review:
		out.Metadata.RoutingAction = message.ActionQueueMedium
		out.Metadata.RoutingReason = fmt.Sprintf("confidence %.2f below auto-send threshold %.2f", *conf, h.autoSend)
	default:
		out.Metadata.RoutingAction = message.ActionNeedsHuman
		out.Metadata.RoutingReason = fmt.Sprintf("confidence %.2f below review threshold %.2f", *conf, h.review)
	}
	return nil
}

// matchKeyword returns the first policy keyword found in the question.
func (h *ConfidenceRouterHook) matchKeyword(question string) string {
	q := strings.ToLower(question)
	for _, kw := range h.keywords {
		if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
			return kw
		}
	}
	return ""
}
