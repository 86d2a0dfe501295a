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

// Package notify announces new escalations to the support team.
//
// Notification delivery is fail-open: a Slack outage must never affect
// the escalation itself, so failures are logged and swallowed.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/peerex/hermod/pkg/config"
)

const postTimeout = 5 * time.Second

// Escalation is the subset of escalation data staff need to triage.
type Escalation struct {
	ID         int64
	ChannelID  string
	Username   string
	Question   string
	Reason     string
	Confidence *float64
}

// Notifier announces a newly queued escalation.
type Notifier interface {
	EscalationCreated(ctx context.Context, esc Escalation)
}

// Noop discards all notifications.
type Noop struct{}

// EscalationCreated implements Notifier.
func (Noop) EscalationCreated(context.Context, Escalation) {}

// Slack posts escalation announcements to a staff channel.
type Slack struct {
	api     *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlack creates a Slack notifier. apiURL overrides the Slack API
// endpoint and is used by tests; pass "" for production.
func NewSlack(token, channel, apiURL string, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []goslack.Option{}
	if apiURL != "" {
		opts = append(opts, goslack.OptionAPIURL(apiURL))
	}
	return &Slack{
		api:     goslack.New(token, opts...),
		channel: channel,
		logger:  logger.With("component", "slack-notifier"),
	}
}

// New builds a Notifier from config. Disabled or incomplete config
// yields the noop notifier.
func New(cfg *config.NotifyConfig, logger *slog.Logger) Notifier {
	if cfg == nil || !config.BoolValue(cfg.Slack.Enabled, false) || cfg.Slack.Token == "" || cfg.Slack.Channel == "" {
		return Noop{}
	}
	return NewSlack(cfg.Slack.Token, cfg.Slack.Channel, "", logger)
}

// EscalationCreated posts the announcement. Errors are logged, never
// returned; the caller has already committed the escalation.
func (s *Slack) EscalationCreated(ctx context.Context, esc Escalation) {
	if s == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	_, _, err := s.api.PostMessageContext(ctx, s.channel,
		goslack.MsgOptionBlocks(buildEscalationBlocks(esc)...))
	if err != nil {
		s.logger.Warn("failed to post escalation notification",
			"escalation_id", esc.ID,
			"error", err)
	}
}

func buildEscalationBlocks(esc Escalation) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType, fmt.Sprintf("New support escalation #%d", esc.ID), false, false))

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, "*Channel:*\n"+esc.ChannelID, false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, "*User:*\n"+esc.Username, false, false),
	}
	if esc.Confidence != nil {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("*Confidence:*\n%.2f", *esc.Confidence), false, false))
	}
	if esc.Reason != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType,
			"*Reason:*\n"+esc.Reason, false, false))
	}
	details := goslack.NewSectionBlock(nil, fields, nil)

	question := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, "> "+truncate(esc.Question, 500), false, false), nil, nil)

	return []goslack.Block{header, details, question}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
