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

package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/faq"
	"github.com/peerex/hermod/pkg/learning"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/notify"
	"github.com/peerex/hermod/pkg/observability"
)

// Delivery outcomes recorded when a staff answer is sent back.
const (
	DeliveryDelivered    = "delivered"
	DeliveryFailed       = "delivery_failed"
	DeliveryNotDelivered = "not_delivered"
)

// LearningSink receives one event per staff decision. The learning
// store implements it.
type LearningSink interface {
	Record(ctx context.Context, ev learning.Event) error
}

// Service drives the escalation lifecycle on top of the repository and
// wires the side effects: staff notification on create, channel
// delivery and learning on respond, FAQ generation from resolved
// records.
type Service struct {
	store    *Store
	cfg      *config.EscalationConfig
	plugins  channel.PluginResolver
	learning LearningSink
	notifier notify.Notifier
	faqs     *faq.Store
	logger   *slog.Logger
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithPlugins wires the channel resolver used to deliver staff answers.
func WithPlugins(resolver channel.PluginResolver) ServiceOption {
	return func(s *Service) { s.plugins = resolver }
}

// WithLearningSink wires the learning event sink.
func WithLearningSink(sink LearningSink) ServiceOption {
	return func(s *Service) { s.learning = sink }
}

// WithNotifier wires the staff notifier invoked on create.
func WithNotifier(n notify.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithFAQStore wires the FAQ store used by GenerateFAQ.
func WithFAQStore(store *faq.Store) ServiceOption {
	return func(s *Service) { s.faqs = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates the escalation service.
func NewService(store *Store, cfg *config.EscalationConfig, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("escalation store is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("escalation config is required")
	}

	s := &Service{
		store:    store,
		cfg:      cfg,
		notifier: notify.Noop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create inserts a pending escalation and notifies staff. The
// notification runs detached; its outcome never affects the caller.
func (s *Service) Create(ctx context.Context, c *Create) (*Escalation, error) {
	esc, err := s.store.Create(ctx, c)
	if err != nil {
		return nil, err
	}

	observability.GetGlobalMetrics().RecordEscalationCreated(ctx, esc.ChannelID)
	s.logger.Info("Escalation created",
		"escalation_id", esc.ID,
		"channel", esc.ChannelID,
		"routing_action", esc.RoutingAction)

	notifyCtx := context.WithoutCancel(ctx)
	go s.notifier.EscalationCreated(notifyCtx, notify.Escalation{
		ID:         esc.ID,
		ChannelID:  esc.ChannelID,
		Username:   esc.Username,
		Question:   esc.Question,
		Reason:     esc.RoutingReason,
		Confidence: esc.Confidence,
	})

	return esc, nil
}

// Claim gives staffID the exclusive right to answer the escalation.
func (s *Service) Claim(ctx context.Context, id int64, staffID string) (*Escalation, error) {
	esc, err := s.store.Claim(ctx, id, staffID, s.cfg.ClaimTTL)
	if err != nil {
		if errors.Is(err, ErrClaimConflict) {
			observability.GetGlobalMetrics().RecordEscalationClaimConflict(ctx)
		}
		return nil, err
	}

	s.logger.Info("Escalation claimed", "escalation_id", id, "staff_id", staffID)
	return esc, nil
}

// Respond records the staff answer, delivers it to the originating
// channel, and emits the learning event. Delivery and learning failures
// are logged and metered but never roll back the response.
func (s *Service) Respond(ctx context.Context, id int64, staffID, answer string) (*Escalation, error) {
	esc, err := s.store.Respond(ctx, id, staffID, answer)
	if err != nil {
		return nil, err
	}

	outcome := s.deliverStaffAnswer(ctx, esc)
	observability.GetGlobalMetrics().RecordEscalationResponded(ctx, outcome)

	s.recordLearning(ctx, esc, staffID)

	if s.cfg.CloseOnRespond {
		closed, err := s.store.Close(ctx, esc.ID)
		if err != nil {
			s.logger.Warn("Failed to auto-close escalation",
				"escalation_id", esc.ID,
				"error", err)
		} else {
			esc = closed
		}
	}

	s.logger.Info("Escalation responded",
		"escalation_id", esc.ID,
		"staff_id", staffID,
		"delivery", outcome)
	return esc, nil
}

// deliverStaffAnswer sends the staff answer back to the user and
// returns the metered outcome.
func (s *Service) deliverStaffAnswer(ctx context.Context, esc *Escalation) string {
	if s.plugins == nil {
		return DeliveryNotDelivered
	}
	plugin, ok := s.plugins.Get(esc.ChannelID)
	if !ok {
		s.logger.Warn("No plugin for escalation channel",
			"escalation_id", esc.ID,
			"channel", esc.ChannelID)
		return DeliveryNotDelivered
	}
	target := plugin.DeliveryTarget(esc.ChannelMetadata)
	if target == "" {
		s.logger.Warn("Escalation has no delivery target",
			"escalation_id", esc.ID,
			"channel", esc.ChannelID)
		return DeliveryNotDelivered
	}

	out := &message.Outgoing{
		MessageID:        uuid.NewString(),
		InReplyTo:        esc.MessageID,
		ChannelID:        esc.ChannelID,
		Answer:           esc.StaffAnswer,
		User:             message.User{ID: esc.UserID},
		OriginalQuestion: esc.Question,
	}
	out.Metadata.RoutingAction = message.ActionAutoSend
	out.Metadata.RoutingReason = "staff response"

	sent, err := plugin.SendMessage(ctx, target, out)
	switch {
	case err != nil:
		s.logger.Warn("Staff answer delivery failed",
			"escalation_id", esc.ID,
			"channel", esc.ChannelID,
			"error", err)
		return DeliveryFailed
	case !sent:
		return DeliveryFailed
	default:
		return DeliveryDelivered
	}
}

// recordLearning emits the approved/edited event for offline threshold
// tuning. Sink failures are logged and dropped.
func (s *Service) recordLearning(ctx context.Context, esc *Escalation, staffID string) {
	if s.learning == nil {
		return
	}

	action := learning.AdminActionEdited
	if strings.TrimSpace(esc.StaffAnswer) == strings.TrimSpace(esc.AIDraftAnswer) {
		action = learning.AdminActionApproved
	}

	ev := learning.Event{
		QuestionID:    fmt.Sprintf("escalation:%d", esc.ID),
		Confidence:    esc.Confidence,
		AdminAction:   action,
		RoutingAction: esc.RoutingAction,
		Metadata: map[string]string{
			"channel":  esc.ChannelID,
			"staff_id": staffID,
		},
	}
	if err := s.learning.Record(ctx, ev); err != nil {
		s.logger.Warn("Failed to record learning event",
			"escalation_id", esc.ID,
			"error", err)
	}
}

// Close moves a responded escalation to closed.
func (s *Service) Close(ctx context.Context, id int64) (*Escalation, error) {
	return s.store.Close(ctx, id)
}

// GenerateFAQ turns a resolved escalation into a verified FAQ entry and
// links it back to the record.
func (s *Service) GenerateFAQ(ctx context.Context, id int64, question, answer, category, protocol string) (*FAQResult, error) {
	if s.faqs == nil {
		return nil, fmt.Errorf("faq store is not configured")
	}

	esc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusResponded && esc.Status != StatusClosed {
		return nil, ErrNotResponded
	}

	if strings.TrimSpace(question) == "" {
		question = esc.Question
	}
	if strings.TrimSpace(answer) == "" {
		answer = esc.StaffAnswer
	}

	created, err := s.faqs.Create(faq.FAQ{
		Question: question,
		Answer:   answer,
		Category: category,
		Protocol: protocol,
		Source:   "Escalation",
		Verified: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create FAQ: %w", err)
	}

	if err := s.store.SetGeneratedFAQ(ctx, id, created.ID); err != nil {
		s.logger.Warn("Failed to link generated FAQ",
			"escalation_id", id,
			"faq_id", created.ID,
			"error", err)
	}

	s.logger.Info("FAQ generated from escalation",
		"escalation_id", id,
		"faq_id", created.ID)
	return &FAQResult{FAQID: created.ID, Question: created.Question, Answer: created.Answer}, nil
}

// List returns escalations matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]*Escalation, error) {
	return s.store.List(ctx, f)
}

// Counts returns per-status totals.
func (s *Service) Counts(ctx context.Context) (map[string]int, error) {
	return s.store.Counts(ctx)
}

// GetByID returns one escalation.
func (s *Service) GetByID(ctx context.Context, id int64) (*Escalation, error) {
	return s.store.GetByID(ctx, id)
}

// GetByMessageID returns the escalation for an incoming message.
func (s *Service) GetByMessageID(ctx context.Context, messageID string) (*Escalation, error) {
	return s.store.GetByMessageID(ctx, messageID)
}

// ResetStale releases claims older than the configured TTL.
func (s *Service) ResetStale(ctx context.Context) (int, error) {
	return s.store.ResetStale(ctx, s.cfg.ClaimTTL)
}

// PurgeOld deletes closed escalations older than age.
func (s *Service) PurgeOld(ctx context.Context, age time.Duration) (int, error) {
	return s.store.PurgeOld(ctx, age)
}

// RunMaintenance periodically releases stale claims and purges old
// closed records until ctx is cancelled.
func (s *Service) RunMaintenance(ctx context.Context) {
	m := s.cfg.Maintenance
	if m.Enabled != nil && !*m.Enabled {
		return
	}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.ResetStale == nil || *m.ResetStale {
				if released, err := s.ResetStale(ctx); err != nil {
					s.logger.Warn("Stale claim reset failed", "error", err)
				} else if released > 0 {
					s.logger.Info("Released stale claims", "count", released)
				}
			}
			if m.PurgeAfter > 0 {
				if purged, err := s.PurgeOld(ctx, m.PurgeAfter); err != nil {
					s.logger.Warn("Escalation purge failed", "error", err)
				} else if purged > 0 {
					s.logger.Info("Purged old escalations", "count", purged)
				}
			}
		}
	}
}

var _ channel.EscalationQueue = (*Service)(nil)
