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

// Package reactions turns channel-native reactions on delivered
// answers into feedback: thumbs-down starts a clarification follow-up,
// thumbs-up withdraws one, and every rated reaction lands in the
// feedback store.
package reactions

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/feedback"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
)

// defaultMaxTracked bounds the delivery and reaction-event indexes.
// Old entries are evicted first-in first-out; a reaction on an evicted
// delivery is treated like a reaction on an unknown message.
const defaultMaxTracked = 4096

// ReactionStore persists rated reactions. The feedback store
// implements it.
type ReactionStore interface {
	RecordReaction(ctx context.Context, internalMessageID, channelID, reactorHash, reaction, rating string) error
}

// reactionRef is what a later redaction needs to withdraw a follow-up.
type reactionRef struct {
	externalMessageID string
	identityHash      string
}

// Processor consumes normalized reaction events from channel plugins.
type Processor struct {
	store      ReactionStore
	followups  channel.FollowupCoordinator
	logger     *slog.Logger
	maxTracked int

	mu            sync.Mutex
	deliveries    map[string]channel.DeliveryRecord
	deliveryOrder []string
	events        map[string]reactionRef
	eventOrder    []string
}

// Option configures the Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMaxTracked overrides the delivery index bound.
func WithMaxTracked(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxTracked = n
		}
	}
}

// NewProcessor creates a reaction processor. Both store and followups
// may be nil; the processor degrades to logging.
func NewProcessor(store ReactionStore, followups channel.FollowupCoordinator, opts ...Option) *Processor {
	p := &Processor{
		store:      store,
		followups:  followups,
		logger:     slog.Default(),
		maxTracked: defaultMaxTracked,
		deliveries: make(map[string]channel.DeliveryRecord),
		events:     make(map[string]reactionRef),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ channel.ReactionSink = (*Processor)(nil)

// TrackDelivery records that rec was delivered under the channel's
// native message id, so later reactions on it can be resolved.
func (p *Processor) TrackDelivery(channelID, externalMessageID string, rec channel.DeliveryRecord) {
	if externalMessageID == "" || rec.InternalMessageID == "" {
		return
	}
	key := deliveryKey(channelID, externalMessageID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.deliveries[key]; !exists {
		p.deliveryOrder = append(p.deliveryOrder, key)
		for len(p.deliveryOrder) > p.maxTracked {
			oldest := p.deliveryOrder[0]
			p.deliveryOrder = p.deliveryOrder[1:]
			delete(p.deliveries, oldest)
		}
	}
	p.deliveries[key] = rec
}

// ProcessReaction maps a reaction to a rating and applies it.
func (p *Processor) ProcessReaction(ctx context.Context, ev channel.ReactionEvent) {
	rating, mapped := ratingFor(ev.Reaction)
	if !mapped {
		p.logger.Debug("Ignoring unmapped reaction",
			"channel", ev.ChannelID,
			"reaction", ev.Reaction)
		return
	}

	rec, tracked := p.lookupDelivery(ev.ChannelID, ev.ExternalMessageID)
	if !tracked {
		p.logger.Debug("Reaction on untracked message",
			"channel", ev.ChannelID,
			"external_message_id", ev.ExternalMessageID)
		return
	}
	if message.RoutingAction(rec.RoutingAction).System() {
		// Notices and prompts are not answers; reactions on them carry
		// no signal about answer quality.
		p.logger.Debug("Ignoring reaction on system message",
			"channel", ev.ChannelID,
			"message_id", rec.InternalMessageID)
		return
	}

	if p.store != nil {
		if err := p.store.RecordReaction(ctx, rec.InternalMessageID, ev.ChannelID, ev.ReactorIdentityHash, ev.Reaction, rating); err != nil {
			p.logger.Error("Failed to record reaction",
				"channel", ev.ChannelID,
				"message_id", rec.InternalMessageID,
				"error", err)
		}
	}
	observability.GetGlobalMetrics().RecordReaction(ctx, ev.ChannelID, rating)

	if ev.EventID != "" {
		p.rememberEvent(ev)
	}

	if p.followups == nil {
		return
	}
	switch rating {
	case feedback.RatingNegative:
		p.followups.StartFollowup(ctx, rec, ev.ChannelID, ev.ExternalMessageID, ev.ReactorID, ev.ReactorIdentityHash)
	case feedback.RatingPositive:
		p.followups.CancelFollowup(ctx, ev.ChannelID, ev.ExternalMessageID, ev.ReactorIdentityHash)
	}
}

// ProcessRedaction withdraws whatever the redacted reaction started.
func (p *Processor) ProcessRedaction(ctx context.Context, channelID, reactionEventID string) {
	key := eventKey(channelID, reactionEventID)

	p.mu.Lock()
	ref, ok := p.events[key]
	if ok {
		delete(p.events, key)
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Debug("Redaction of unknown reaction event",
			"channel", channelID,
			"event_id", reactionEventID)
		return
	}
	if p.followups != nil {
		p.followups.CancelFollowup(ctx, channelID, ref.externalMessageID, ref.identityHash)
	}
	p.logger.Debug("Reaction withdrawn",
		"channel", channelID,
		"event_id", reactionEventID)
}

func (p *Processor) lookupDelivery(channelID, externalMessageID string) (channel.DeliveryRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.deliveries[deliveryKey(channelID, externalMessageID)]
	return rec, ok
}

func (p *Processor) rememberEvent(ev channel.ReactionEvent) {
	key := eventKey(ev.ChannelID, ev.EventID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.events[key]; !exists {
		p.eventOrder = append(p.eventOrder, key)
		for len(p.eventOrder) > p.maxTracked {
			oldest := p.eventOrder[0]
			p.eventOrder = p.eventOrder[1:]
			delete(p.events, oldest)
		}
	}
	p.events[key] = reactionRef{
		externalMessageID: ev.ExternalMessageID,
		identityHash:      ev.ReactorIdentityHash,
	}
}

// ratingFor maps a raw reaction key to a rating. Emoji variation
// selectors are stripped first; clients disagree on sending "❤" vs
// "❤️".
func ratingFor(reaction string) (string, bool) {
	switch strings.ReplaceAll(strings.TrimSpace(reaction), "️", "") {
	case "👍", "❤":
		return feedback.RatingPositive, true
	case "👎":
		return feedback.RatingNegative, true
	}
	return "", false
}

func deliveryKey(channelID, externalMessageID string) string {
	return strings.ToLower(channelID) + "::" + externalMessageID
}

func eventKey(channelID, reactionEventID string) string {
	return strings.ToLower(channelID) + "::" + reactionEventID
}
