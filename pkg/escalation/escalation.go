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

// Package escalation manages the review queue for AI answers that need
// a human: the persistent record lifecycle (pending, in_review,
// responded, closed), exclusive staff claims with stale reclamation,
// staff reply delivery back to the originating channel, and the learning
// and FAQ integrations driven by staff decisions.
package escalation

import (
	"errors"
	"time"

	"github.com/peerex/hermod/pkg/message"
)

// Status is the lifecycle state of an escalation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInReview  Status = "in_review"
	StatusResponded Status = "responded"
	StatusClosed    Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInReview, StatusResponded, StatusClosed:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no escalation exists for the id.
	ErrNotFound = errors.New("escalation not found")

	// ErrDuplicateMessage is returned when an escalation already exists
	// for the incoming message. One user message yields at most one
	// escalation.
	ErrDuplicateMessage = errors.New("escalation already exists for this message")

	// ErrClaimConflict is returned when a different staff member holds a
	// fresh claim on the escalation.
	ErrClaimConflict = errors.New("escalation is claimed by another staff member")

	// ErrNotClaimed is returned by Respond when the caller does not hold
	// the active claim.
	ErrNotClaimed = errors.New("escalation is not claimed by this staff member")

	// ErrNotResponded is returned when FAQ generation is requested
	// before a staff response exists.
	ErrNotResponded = errors.New("escalation has not been responded to")

	// ErrInvalidState is returned when an operation is not allowed in
	// the escalation's current status.
	ErrInvalidState = errors.New("operation not allowed in current escalation status")
)

// Escalation is one review-queue record.
type Escalation struct {
	ID              int64                       `json:"id"`
	MessageID       string                      `json:"message_id"`
	ChannelID       string                      `json:"channel_id"`
	UserID          string                      `json:"user_id"`
	Username        string                      `json:"username,omitempty"`
	ChannelMetadata map[string]string           `json:"channel_metadata,omitempty"`
	Question        string                      `json:"question"`
	AIDraftAnswer   string                      `json:"ai_draft_answer,omitempty"`
	Confidence      *float64                    `json:"confidence_score,omitempty"`
	RoutingAction   string                      `json:"routing_action,omitempty"`
	RoutingReason   string                      `json:"routing_reason,omitempty"`
	Sources         []message.DocumentReference `json:"sources,omitempty"`
	Status          Status                      `json:"status"`
	StaffID         string                      `json:"staff_id,omitempty"`
	ClaimedAt       *time.Time                  `json:"claimed_at,omitempty"`
	RespondedAt     *time.Time                  `json:"responded_at,omitempty"`
	StaffAnswer     string                      `json:"staff_answer,omitempty"`
	GeneratedFAQID  string                      `json:"generated_faq_id,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
}

// Create is the payload for a new escalation.
type Create struct {
	MessageID       string
	ChannelID       string
	UserID          string
	Username        string
	ChannelMetadata map[string]string
	Question        string
	AIDraftAnswer   string
	Confidence      *float64
	RoutingAction   string
	RoutingReason   string
	Sources         []message.DocumentReference
}

// Filter narrows List results. Zero fields are ignored. Only these
// columns are filterable; arbitrary column filtering is not supported.
type Filter struct {
	Status    Status
	ChannelID string
	UserID    string
	StaffID   string

	// Limit caps the result set. Zero applies the default of 50.
	Limit int

	// Offset skips rows for pagination.
	Offset int
}

// FAQResult is returned by GenerateFAQ.
type FAQResult struct {
	FAQID    string `json:"faq_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}
