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

// Package message defines the messages exchanged between channel plugins,
// the gateway, and the dispatcher.
//
// An Incoming message is created by a channel plugin, consumed by the
// gateway, and discarded once the Outgoing response has been emitted;
// it is never persisted.
package message

// Role values for chat history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// RoutingAction declares how the dispatcher must handle an outgoing message.
type RoutingAction string

const (
	// ActionAutoSend delivers the answer directly to the user.
	ActionAutoSend RoutingAction = "auto_send"

	// ActionNeedsClarification delivers directly; the answer asks the user
	// for more detail.
	ActionNeedsClarification RoutingAction = "needs_clarification"

	// ActionQueueMedium diverts the answer to the staff review queue.
	ActionQueueMedium RoutingAction = "queue_medium"

	// ActionNeedsHuman diverts the answer to the staff review queue.
	ActionNeedsHuman RoutingAction = "needs_human"

	// ActionEscalationNotice marks a queued-review notice constructed by
	// the dispatcher. Reactions on notices do not feed learning.
	ActionEscalationNotice RoutingAction = "escalation_notice"

	// ActionFollowupPrompt marks a clarification prompt sent by the
	// follow-up coordinator.
	ActionFollowupPrompt RoutingAction = "feedback_followup_prompt"

	// ActionFollowupAck marks the acknowledgement sent after a
	// clarification was recorded.
	ActionFollowupAck RoutingAction = "feedback_followup_ack"
)

// Direct reports whether the action means direct delivery to the user.
func (a RoutingAction) Direct() bool {
	return a == ActionAutoSend || a == ActionNeedsClarification
}

// Review reports whether the action diverts the answer to staff review.
func (a RoutingAction) Review() bool {
	return a == ActionQueueMedium || a == ActionNeedsHuman
}

// System reports whether the action marks a message the system already
// delivered itself (notices, follow-up prompts and acks).
func (a RoutingAction) System() bool {
	switch a {
	case ActionEscalationNotice, ActionFollowupPrompt, ActionFollowupAck:
		return true
	}
	return false
}

// User identifies the author of an incoming message.
type User struct {
	ID            string `json:"id"`
	ChannelUserID string `json:"channel_user_id,omitempty"`
	Session       string `json:"session,omitempty"`
	AuthToken     string `json:"auth_token,omitempty"`
}

// HistoryEntry is one turn of prior conversation.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Incoming is a user message presented to the gateway.
type Incoming struct {
	MessageID        string              `json:"message_id"`
	ChannelID        string              `json:"channel_id"`
	Question         string              `json:"question"`
	ChatHistory      []HistoryEntry      `json:"chat_history,omitempty"`
	User             User                `json:"user"`
	ChannelMetadata  map[string]string   `json:"channel_metadata,omitempty"`
	BypassHooks      map[string]struct{} `json:"-"`
	ChannelSignature string              `json:"channel_signature,omitempty"`
}

// Bypassed reports whether the named hook must be skipped for this message.
func (m *Incoming) Bypassed(hook string) bool {
	if m == nil || m.BypassHooks == nil {
		return false
	}
	_, ok := m.BypassHooks[hook]
	return ok
}

// DocumentReference points at a knowledge base document that contributed
// to an answer.
type DocumentReference struct {
	DocumentID     string  `json:"document_id"`
	Title          string  `json:"title"`
	URL            string  `json:"url,omitempty"`
	Section        string  `json:"section,omitempty"`
	Category       string  `json:"category,omitempty"`
	Protocol       string  `json:"protocol,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ResponseMetadata carries processing details alongside an answer.
type ResponseMetadata struct {
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	RAGStrategy      string        `json:"rag_strategy,omitempty"`
	ModelName        string        `json:"model_name,omitempty"`
	TokensUsed       int           `json:"tokens_used,omitempty"`
	ConfidenceScore  *float64      `json:"confidence_score,omitempty"`
	RoutingAction    RoutingAction `json:"routing_action,omitempty"`
	RoutingReason    string        `json:"routing_reason,omitempty"`
	Version          string        `json:"version,omitempty"`
	HooksExecuted    []string      `json:"hooks_executed,omitempty"`
}

// Outgoing is a response produced by the RAG pipeline or constructed by
// the dispatcher.
type Outgoing struct {
	MessageID          string              `json:"message_id"`
	InReplyTo          string              `json:"in_reply_to,omitempty"`
	ChannelID          string              `json:"channel_id"`
	Answer             string              `json:"answer"`
	Sources            []DocumentReference `json:"sources,omitempty"`
	User               User                `json:"user"`
	Metadata           ResponseMetadata    `json:"metadata"`
	SuggestedQuestions []string            `json:"suggested_questions,omitempty"`
	RequiresHuman      bool                `json:"requires_human"`
	OriginalQuestion   string              `json:"original_question,omitempty"`
}
