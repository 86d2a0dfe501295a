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

// Package channel defines the plugin contract for chat surfaces (web
// chat, Matrix, in-app) and the registry that manages their lifecycle.
//
// A plugin adapts one external chat surface: it normalizes native
// messages into message.Incoming, delivers message.Outgoing through the
// native API, and reports its own health. Plugins are registered with
// the Registry, started in priority order, and stopped in reverse.
package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/peerex/hermod/pkg/message"
)

// Plugin is one connected chat surface.
type Plugin interface {
	// ChannelID returns the stable channel identifier ("web", "matrix").
	ChannelID() string

	// Start brings the plugin up. It returns once the plugin is
	// operational; long-running loops run on their own goroutines.
	Start(ctx context.Context) error

	// Stop shuts the plugin down and releases its resources.
	Stop(ctx context.Context) error

	// SendMessage delivers out to the given target (room id, callback
	// URL). It returns true when the native API acknowledged delivery.
	SendMessage(ctx context.Context, target string, out *message.Outgoing) (bool, error)

	// DeliveryTarget extracts the delivery target from channel metadata.
	// Empty means the message cannot be delivered.
	DeliveryTarget(meta map[string]string) string

	// HealthCheck reports whether the plugin can currently deliver.
	HealthCheck(ctx context.Context) HealthStatus
}

// EscalationFormatter is implemented by plugins that render their own
// queued-review notice. The dispatcher falls back to a generic template
// when the plugin does not implement it.
type EscalationFormatter interface {
	FormatEscalationMessage(username string, escalationID int64, supportHandle string) string
}

// SystemMessenger is implemented by plugins that distinguish system
// messages (follow-up prompts, acknowledgements) from regular answers.
// The Matrix plugin sends these as m.notice so other bots ignore them.
type SystemMessenger interface {
	SendSystemMessage(ctx context.Context, target string, out *message.Outgoing) (bool, error)
}

// HealthStatus is the result of a plugin health probe.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy returns a passing health status stamped with the current time.
func Healthy() HealthStatus {
	return HealthStatus{Healthy: true, CheckedAt: time.Now()}
}

// Unhealthy returns a failing health status with a human-readable detail.
func Unhealthy(detail string) HealthStatus {
	return HealthStatus{Detail: detail, CheckedAt: time.Now()}
}

// DeliveryRecord describes a delivered answer so reactions on it can be
// traced back to the message they rate.
type DeliveryRecord struct {
	// InternalMessageID is the Outgoing.MessageID that was delivered.
	InternalMessageID string

	// Target is where the answer was delivered and where a follow-up
	// prompt can be sent.
	Target string

	// Username is the recipient's display handle, when known.
	Username string

	// RoutingAction of the delivered message. Reactions on system
	// messages (notices, prompts) do not feed learning.
	RoutingAction string
}

// ReactionEvent is a channel-native reaction normalized by a plugin.
type ReactionEvent struct {
	ChannelID string

	// EventID is the reaction's own native event id, used to resolve
	// later redactions.
	EventID string

	// ExternalMessageID is the native id of the reacted-to message.
	ExternalMessageID string

	ReactorID           string
	ReactorIdentityHash string

	// Reaction is the raw reaction key (emoji).
	Reaction string
}

// HashIdentity derives the stable pseudonymous hash recorded for a
// reactor. Raw user ids never reach the feedback store.
func HashIdentity(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
