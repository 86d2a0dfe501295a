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

package channel

import (
	"context"
	"sync"

	"github.com/peerex/hermod/pkg/message"
)

// PluginResolver looks up a registered plugin by channel id. The
// Registry implements it; services that deliver through channels
// (follow-up coordinator, escalation engine) depend on this narrow view.
type PluginResolver interface {
	Get(channelID string) (Plugin, bool)
}

// FollowupCoordinator is the feedback follow-up surface exposed to
// channels and hooks.
type FollowupCoordinator interface {
	// StartFollowup asks the reactor of a negatively-rated answer for a
	// clarification. It returns true when a pending follow-up is in
	// place afterwards (newly created or refreshed).
	StartFollowup(ctx context.Context, rec DeliveryRecord, channelID, externalMessageID, reactorID, identityHash string) bool

	// CancelFollowup withdraws a pending follow-up. Idempotent.
	CancelFollowup(ctx context.Context, channelID, externalMessageID, identityHash string)

	// ConsumeIfPending treats in as the awaited clarification when a
	// non-expired follow-up exists for its thread. It returns true when
	// the message was consumed and must not reach the RAG pipeline.
	ConsumeIfPending(ctx context.Context, in *message.Incoming, plugin Plugin) bool
}

// StaffResolver answers who counts as support staff.
type StaffResolver interface {
	IsStaff(userID string) bool

	// SupportHandle returns the channel-appropriate handle users can
	// contact directly ("@support:peerex.net", "support@peerex.com").
	SupportHandle(channelID string) string
}

// EscalationQueue is the read-only escalation view exposed to channel
// plugins.
type EscalationQueue interface {
	Counts(ctx context.Context) (map[string]int, error)
}

// ReactionSink consumes normalized reaction events from plugins.
type ReactionSink interface {
	// TrackDelivery records that rec was delivered under the native
	// externalMessageID so later reactions on it can be resolved.
	TrackDelivery(channelID, externalMessageID string, rec DeliveryRecord)

	// ProcessReaction handles a new reaction.
	ProcessReaction(ctx context.Context, ev ReactionEvent)

	// ProcessRedaction handles the removal of a previously processed
	// reaction, identified by the reaction's own event id.
	ProcessRedaction(ctx context.Context, channelID, reactionEventID string)
}

// Runtime hands plugins the shared services they may consult. It is a
// one-way reference: plugins hold the runtime, the runtime never holds
// plugins, which keeps the gateway/registry/plugin graph acyclic. The
// runtime is created empty before plugins are constructed and bound to
// the real services once the pipeline is assembled.
//
// Every getter is optional and nil-safe: a nil return means the service
// is not configured and the plugin degrades.
type Runtime struct {
	mu          sync.RWMutex
	followups   FollowupCoordinator
	staff       StaffResolver
	escalations EscalationQueue
	reactions   ReactionSink
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

// SetFollowups installs the follow-up coordinator.
func (r *Runtime) SetFollowups(c FollowupCoordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.followups = c
}

// SetStaff installs the staff resolver.
func (r *Runtime) SetStaff(s StaffResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staff = s
}

// SetEscalations installs the escalation queue view.
func (r *Runtime) SetEscalations(q EscalationQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = q
}

// SetReactions installs the reaction sink.
func (r *Runtime) SetReactions(s ReactionSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = s
}

// Followups returns the follow-up coordinator, or nil.
func (r *Runtime) Followups() FollowupCoordinator {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.followups
}

// Staff returns the staff resolver, or nil.
func (r *Runtime) Staff() StaffResolver {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.staff
}

// Escalations returns the escalation queue view, or nil.
func (r *Runtime) Escalations() EscalationQueue {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.escalations
}

// Reactions returns the reaction sink, or nil.
func (r *Runtime) Reactions() ReactionSink {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reactions
}
