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

// Package dispatch routes generated answers: high-confidence answers go
// straight to the user, the rest are queued for staff review and the
// user gets a notice instead of the draft.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/escalation"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
)

// genericNoticeTemplate is the queued-review notice used when the
// channel plugin does not format its own.
const genericNoticeTemplate = "Your question has been forwarded to our support team. A staff member will review and respond shortly. (Reference: #%d)"

// EscalationCreator inserts review-queue records. The escalation
// service implements it.
type EscalationCreator interface {
	Create(ctx context.Context, c *escalation.Create) (*escalation.Escalation, error)
}

// Dispatcher applies the routing decision stamped on an outgoing
// message.
type Dispatcher struct {
	plugins     channel.PluginResolver
	escalations EscalationCreator
	staff       channel.StaffResolver
	tracer      *observability.Tracer
	logger      *slog.Logger
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithStaff wires the staff resolver used for support handles in
// channel-formatted notices.
func WithStaff(staff channel.StaffResolver) Option {
	return func(d *Dispatcher) { d.staff = staff }
}

// WithTracer attaches the tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = tracer }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a dispatcher.
func New(plugins channel.PluginResolver, escalations EscalationCreator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		plugins:     plugins,
		escalations: escalations,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch routes out according to its routing action. It returns true
// only when a real answer (not a review notice) was delivered to the
// user.
func (d *Dispatcher) Dispatch(ctx context.Context, in *message.Incoming, out *message.Outgoing) bool {
	if out == nil {
		return false
	}

	action := out.Metadata.RoutingAction
	switch {
	case out.RequiresHuman:
		// A human was demanded; the routing action cannot override that.
		action = message.ActionNeedsHuman
	case action.Direct() || action.Review():
	default:
		d.logger.Warn("Unknown routing action, delivering directly",
			"action", string(action),
			"channel", out.ChannelID,
			"message_id", out.MessageID)
		observability.GetGlobalMetrics().RecordUnknownRoutingAction(ctx, string(action))
		action = message.ActionAutoSend
		out.Metadata.RoutingAction = action
	}

	ctx, span := d.tracer.StartDispatch(ctx, string(action), out.ChannelID)
	defer span.End()

	delivered := false
	if action.Review() {
		d.queueForReview(ctx, in, out)
	} else {
		delivered = d.deliverDirect(ctx, in, out)
	}

	observability.GetGlobalMetrics().RecordDispatch(ctx, string(action), delivered)
	return delivered
}

// deliverDirect ships the answer to the user.
func (d *Dispatcher) deliverDirect(ctx context.Context, in *message.Incoming, out *message.Outgoing) bool {
	plugin, ok := d.plugins.Get(out.ChannelID)
	if !ok {
		d.logger.Error("No plugin for outgoing channel",
			"channel", out.ChannelID,
			"message_id", out.MessageID)
		return false
	}

	target := plugin.DeliveryTarget(in.ChannelMetadata)
	if target == "" {
		d.logger.Warn("Dropping message without delivery target",
			"channel", out.ChannelID,
			"message_id", out.MessageID)
		return false
	}

	sent, err := plugin.SendMessage(ctx, target, out)
	if err != nil {
		d.logger.Error("Message delivery failed",
			"channel", out.ChannelID,
			"message_id", out.MessageID,
			"error", err)
		return false
	}
	return sent
}

// queueForReview creates the escalation and tells the user their
// question is with staff.
func (d *Dispatcher) queueForReview(ctx context.Context, in *message.Incoming, out *message.Outgoing) {
	username := resolveUsername(in)
	esc, err := d.escalations.Create(ctx, &escalation.Create{
		MessageID:       in.MessageID,
		ChannelID:       in.ChannelID,
		UserID:          in.User.ID,
		Username:        username,
		ChannelMetadata: in.ChannelMetadata,
		Question:        in.Question,
		AIDraftAnswer:   out.Answer,
		Confidence:      out.Metadata.ConfidenceScore,
		RoutingAction:   string(out.Metadata.RoutingAction),
		RoutingReason:   out.Metadata.RoutingReason,
		Sources:         out.Sources,
	})
	if err != nil {
		if errors.Is(err, escalation.ErrDuplicateMessage) {
			// A retry of the same message already queued one.
			d.logger.Debug("Escalation already exists, skipping notice",
				"channel", in.ChannelID,
				"message_id", in.MessageID)
			return
		}
		d.logger.Error("Failed to create escalation",
			"channel", in.ChannelID,
			"message_id", in.MessageID,
			"error", err)
		return
	}

	plugin, ok := d.plugins.Get(out.ChannelID)
	if !ok {
		d.logger.Error("No plugin for notice delivery",
			"channel", out.ChannelID,
			"escalation_id", esc.ID)
		return
	}
	target := plugin.DeliveryTarget(in.ChannelMetadata)
	if target == "" {
		d.logger.Warn("Escalation notice has no delivery target",
			"channel", out.ChannelID,
			"escalation_id", esc.ID)
		return
	}

	notice := d.buildNotice(plugin, out, username, esc.ID)
	if sent, err := plugin.SendMessage(ctx, target, notice); err != nil {
		d.logger.Warn("Escalation notice delivery failed",
			"channel", out.ChannelID,
			"escalation_id", esc.ID,
			"error", err)
	} else if !sent {
		d.logger.Warn("Escalation notice not acknowledged",
			"channel", out.ChannelID,
			"escalation_id", esc.ID)
	}
}

// buildNotice derives the queued-review notice from the suppressed
// answer. Reactions on the notice must not feed learning, so it carries
// its own routing action and no confidence.
func (d *Dispatcher) buildNotice(plugin channel.Plugin, out *message.Outgoing, username string, escalationID int64) *message.Outgoing {
	text := ""
	if formatter, ok := plugin.(channel.EscalationFormatter); ok {
		supportHandle := ""
		if d.staff != nil {
			supportHandle = d.staff.SupportHandle(out.ChannelID)
		}
		text = formatter.FormatEscalationMessage(username, escalationID, supportHandle)
	}
	if text == "" {
		text = fmt.Sprintf(genericNoticeTemplate, escalationID)
	}

	notice := *out
	notice.Answer = text
	notice.Sources = nil
	notice.SuggestedQuestions = nil
	notice.RequiresHuman = true
	notice.Metadata.ConfidenceScore = nil
	notice.Metadata.RoutingAction = message.ActionEscalationNotice
	return &notice
}

// resolveUsername picks the display handle recorded on the escalation.
func resolveUsername(in *message.Incoming) string {
	if name := in.ChannelMetadata["username"]; name != "" {
		return name
	}
	if in.User.ChannelUserID != "" {
		return in.User.ChannelUserID
	}
	return in.User.ID
}
