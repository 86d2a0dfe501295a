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

// Package followup asks users who react negatively to an answer what
// was wrong with it, and records their next message in that thread as
// the clarification.
//
// Pending follow-ups live in memory only. A restart drops them, which
// costs one clarification opportunity and nothing else.
package followup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
)

const (
	promptText = "Thanks for the feedback. What was incorrect or missing in the previous AI answer? A short reply helps us improve."
	ackText    = "Thanks. I have recorded your clarification for quality improvement."
)

// ClarificationStore persists clarification text against the reaction
// row of the answer it explains. The feedback store implements it.
type ClarificationStore interface {
	UpdateFeedbackEntry(ctx context.Context, internalMessageID, explanation string, issues []string) error
}

// Analyzer tags clarification text with issue categories. The feedback
// analyzer implements it; analysis failures must degrade to no tags.
type Analyzer interface {
	AnalyzeFeedbackText(ctx context.Context, text string) []string
}

// pending is one awaited clarification.
type pending struct {
	rec          channel.DeliveryRecord
	channelID    string
	externalID   string
	identityHash string
	expiresAt    time.Time
}

// Coordinator tracks pending clarification requests. One mutex guards
// both indexes: byContext resolves an incoming message to its awaited
// follow-up, byReaction resolves a withdrawn reaction to the follow-up
// it started.
type Coordinator struct {
	plugins  channel.PluginResolver
	store    ClarificationStore
	analyzer Analyzer
	ttl      time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	byContext  map[string]*pending
	byReaction map[string]string
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithAnalyzer wires the issue-tag analyzer.
func WithAnalyzer(a Analyzer) Option {
	return func(c *Coordinator) { c.analyzer = a }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a follow-up coordinator.
func NewCoordinator(cfg *config.FollowupConfig, plugins channel.PluginResolver, store ClarificationStore, opts ...Option) *Coordinator {
	ttl := 10 * time.Minute
	if cfg != nil && cfg.TTL > 0 {
		ttl = cfg.TTL
	}
	if ttl < config.MinFollowupTTL {
		ttl = config.MinFollowupTTL
	}

	c := &Coordinator{
		plugins:    plugins,
		store:      store,
		ttl:        ttl,
		logger:     slog.Default(),
		byContext:  make(map[string]*pending),
		byReaction: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ channel.FollowupCoordinator = (*Coordinator)(nil)

// StartFollowup sends the reactor a clarification prompt and records
// the pending follow-up. A repeated reaction on the same answer only
// refreshes the window; a reaction on a newer answer supersedes the
// older follow-up.
func (c *Coordinator) StartFollowup(ctx context.Context, rec channel.DeliveryRecord, channelID, externalMessageID, reactorID, identityHash string) bool {
	if reactorID == "" || rec.Target == "" {
		return false
	}
	plugin, ok := c.plugins.Get(channelID)
	if !ok {
		c.logger.Warn("No plugin for follow-up prompt", "channel", channelID)
		return false
	}

	ckey := contextKey(channelID, rec.Target, reactorID)
	rkey := reactionKey(channelID, externalMessageID, identityHash)

	c.mu.Lock()
	if prev, exists := c.byContext[ckey]; exists {
		if prev.externalID == externalMessageID {
			// Repeat reaction on the same answer keeps the window open.
			prev.expiresAt = time.Now().Add(c.ttl)
			c.mu.Unlock()
			return true
		}
		delete(c.byReaction, reactionKey(prev.channelID, prev.externalID, prev.identityHash))
		observability.GetGlobalMetrics().RecordFollowupEvent(ctx, "superseded")
	}
	c.byContext[ckey] = &pending{
		rec:          rec,
		channelID:    channelID,
		externalID:   externalMessageID,
		identityHash: identityHash,
		expiresAt:    time.Now().Add(c.ttl),
	}
	c.byReaction[rkey] = ckey
	c.mu.Unlock()

	// The prompt is sent outside the lock; plugin sends can block.
	prompt := &message.Outgoing{
		MessageID: uuid.NewString(),
		InReplyTo: rec.InternalMessageID,
		ChannelID: channelID,
		Answer:    promptText,
		Metadata:  message.ResponseMetadata{RoutingAction: message.ActionFollowupPrompt},
	}
	sent, err := sendSystem(ctx, plugin, rec.Target, prompt)
	if err != nil || !sent {
		c.logger.Warn("Follow-up prompt delivery failed",
			"channel", channelID,
			"message_id", rec.InternalMessageID,
			"error", err)
		c.mu.Lock()
		if cur, exists := c.byContext[ckey]; exists && cur.externalID == externalMessageID {
			delete(c.byContext, ckey)
			delete(c.byReaction, rkey)
		}
		c.mu.Unlock()
		return false
	}

	observability.GetGlobalMetrics().RecordFollowupEvent(ctx, "started")
	c.logger.Info("Clarification requested",
		"channel", channelID,
		"message_id", rec.InternalMessageID)
	return true
}

// CancelFollowup withdraws the follow-up started by the given reaction.
func (c *Coordinator) CancelFollowup(ctx context.Context, channelID, externalMessageID, identityHash string) {
	rkey := reactionKey(channelID, externalMessageID, identityHash)

	c.mu.Lock()
	ckey, ok := c.byReaction[rkey]
	if ok {
		delete(c.byReaction, rkey)
		delete(c.byContext, ckey)
	}
	c.mu.Unlock()

	if ok {
		observability.GetGlobalMetrics().RecordFollowupEvent(ctx, "cancelled")
		c.logger.Debug("Follow-up cancelled", "channel", channelID)
	}
}

// ConsumeIfPending records in as the awaited clarification when a live
// follow-up exists for its thread. The pending entry survives a storage
// failure so the user can try again.
func (c *Coordinator) ConsumeIfPending(ctx context.Context, in *message.Incoming, plugin channel.Plugin) bool {
	if in == nil || plugin == nil {
		return false
	}
	target := plugin.DeliveryTarget(in.ChannelMetadata)
	if target == "" {
		return false
	}

	c.mu.Lock()
	var (
		ckey string
		p    *pending
	)
	for _, id := range []string{in.User.ChannelUserID, in.User.ID} {
		if id == "" {
			continue
		}
		if cand, ok := c.byContext[contextKey(in.ChannelID, target, id)]; ok {
			ckey, p = contextKey(in.ChannelID, target, id), cand
			break
		}
	}
	if p == nil {
		c.mu.Unlock()
		return false
	}
	rkey := reactionKey(p.channelID, p.externalID, p.identityHash)
	if time.Now().After(p.expiresAt) {
		delete(c.byContext, ckey)
		delete(c.byReaction, rkey)
		c.mu.Unlock()
		observability.GetGlobalMetrics().RecordFollowupEvent(ctx, "expired")
		c.logger.Debug("Follow-up expired before a clarification arrived",
			"channel", in.ChannelID,
			"message_id", p.rec.InternalMessageID)
		return false
	}
	rec := p.rec
	c.mu.Unlock()

	var issues []string
	if c.analyzer != nil {
		issues = c.analyzer.AnalyzeFeedbackText(ctx, in.Question)
	}
	if err := c.store.UpdateFeedbackEntry(ctx, rec.InternalMessageID, in.Question, issues); err != nil {
		c.logger.Error("Failed to store clarification",
			"channel", in.ChannelID,
			"message_id", rec.InternalMessageID,
			"error", err)
		return false
	}

	c.mu.Lock()
	delete(c.byContext, ckey)
	delete(c.byReaction, rkey)
	c.mu.Unlock()

	observability.GetGlobalMetrics().RecordFollowupEvent(ctx, "consumed")
	c.logger.Info("Clarification recorded",
		"channel", in.ChannelID,
		"message_id", rec.InternalMessageID,
		"issues", len(issues))

	ack := &message.Outgoing{
		MessageID: uuid.NewString(),
		InReplyTo: in.MessageID,
		ChannelID: in.ChannelID,
		Answer:    ackText,
		Metadata:  message.ResponseMetadata{RoutingAction: message.ActionFollowupAck},
	}
	if sent, err := sendSystem(ctx, plugin, target, ack); err != nil || !sent {
		c.logger.Warn("Clarification ack delivery failed",
			"channel", in.ChannelID,
			"error", err)
	}
	return true
}

// sendSystem prefers the plugin's system-message path so channels can
// render prompts differently from answers.
func sendSystem(ctx context.Context, plugin channel.Plugin, target string, out *message.Outgoing) (bool, error) {
	if m, ok := plugin.(channel.SystemMessenger); ok {
		return m.SendSystemMessage(ctx, target, out)
	}
	return plugin.SendMessage(ctx, target, out)
}

// contextKey identifies the conversation thread a clarification will
// arrive in.
func contextKey(channelID, target, reactorID string) string {
	return strings.ToLower(channelID) + "::" + target + "::" + reactorID
}

// reactionKey identifies the reaction that started a follow-up, for
// cancellation on withdrawal.
func reactionKey(channelID, externalMessageID, identityHash string) string {
	return strings.ToLower(channelID) + "::" + externalMessageID + "::" + identityHash
}
