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

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/message"
)

// SuggestionsHook attaches related-topic suggestions to auto-sent
// answers, derived from the titles of the documents the answer cites.
// Reviewed answers get none; staff curates those by hand.
type SuggestionsHook struct {
	max int
}

// NewSuggestionsHook creates the suggestions post-hook.
func NewSuggestionsHook(cfg *config.SuggestionsHookConfig) *SuggestionsHook {
	max := 3
	if cfg != nil && cfg.Max > 0 {
		max = cfg.Max
	}
	return &SuggestionsHook{max: max}
}

// Name implements PostHook.
func (h *SuggestionsHook) Name() string { return "suggestions" }

// Priority implements PostHook.
func (h *SuggestionsHook) Priority() int { return PriorityLow }

// Execute fills SuggestedQuestions from unique source titles.
func (h *SuggestionsHook) Execute(_ context.Context, _ *message.Incoming, out *message.Outgoing) error {
	if out.Metadata.RoutingAction != message.ActionAutoSend {
		return nil
	}

	seen := make(map[string]struct{}, len(out.Sources))
	for _, src := range out.Sources {
		if src.Title == "" {
			continue
		}
		if _, dup := seen[src.Title]; dup {
			continue
		}
		seen[src.Title] = struct{}{}
		out.SuggestedQuestions = append(out.SuggestedQuestions, src.Title)
		if len(out.SuggestedQuestions) >= h.max {
			break
		}
	}
	return nil
}
