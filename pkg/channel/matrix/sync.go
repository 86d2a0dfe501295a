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

package matrix

import (
	"context"
	"strings"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/message"
)

// syncLoop keeps the client syncing until the plugin stops, retrying
// after transient failures.
func (p *Plugin) syncLoop(ctx context.Context) {
	for {
		p.setSyncErr(nil)
		err := p.api.Sync(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.setSyncErr(err)
			p.logger.Error("Matrix sync failed, retrying",
				"error", err,
				"retry_in", syncRetryDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(syncRetryDelay):
		}
	}
}

func (p *Plugin) setSyncErr(err error) {
	p.mu.Lock()
	p.syncErr = err
	p.mu.Unlock()
}

// accept filters out events the plugin must not react to: its own,
// pre-start history replayed by the initial sync, and rooms outside
// the configured set.
func (p *Plugin) accept(evt *event.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return false
	}
	if evt.Sender == p.userID {
		return false
	}
	if evt.Timestamp < p.startedAt {
		return false
	}
	if len(p.rooms) > 0 {
		if _, ok := p.rooms[evt.RoomID.String()]; !ok {
			return false
		}
	}
	return true
}

// onMessage handles m.room.message sync events.
func (p *Plugin) onMessage(ctx context.Context, evt *event.Event) {
	if !p.accept(evt) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	content.RemoveReplyFallback()
	if strings.TrimSpace(content.Body) == "" {
		return
	}
	// Staff replies in support rooms address users, not the bot.
	if staff := p.runtime.Staff(); staff != nil && staff.IsStaff(evt.Sender.String()) {
		p.logger.Debug("Ignoring staff-authored message",
			"sender", evt.Sender.String(),
			"room", evt.RoomID.String())
		return
	}

	// Each message is processed on its own goroutine; history walks
	// and the RAG pipeline must not stall the sync loop.
	go p.deliverInbound(ctx, evt, content)
}

func (p *Plugin) deliverInbound(ctx context.Context, evt *event.Event, content *event.MessageEventContent) {
	in := p.normalize(ctx, evt, content)

	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler == nil {
		return
	}
	handler(ctx, in)
}

// normalize converts a room message into the gateway's message shape.
func (p *Plugin) normalize(ctx context.Context, evt *event.Event, content *event.MessageEventContent) *message.Incoming {
	sender := evt.Sender.String()
	return &message.Incoming{
		MessageID:   evt.ID.String(),
		ChannelID:   channelID,
		Question:    content.Body,
		ChatHistory: p.replyHistory(ctx, evt.RoomID, replyTarget(content)),
		User: message.User{
			ID:            sender,
			ChannelUserID: sender,
		},
		ChannelMetadata: map[string]string{
			"room_id":  evt.RoomID.String(),
			"username": p.displayName(ctx, evt.Sender),
		},
	}
}

// replyTarget resolves which event a message answers: the explicit
// in-reply-to when present, else the thread root.
func replyTarget(content *event.MessageEventContent) id.EventID {
	rel := content.RelatesTo
	if rel == nil {
		return ""
	}
	if reply := rel.GetReplyTo(); reply != "" {
		return reply
	}
	if rel.Type == event.RelThread {
		return rel.EventID
	}
	return ""
}

// replyHistory walks the reply chain upward from start and returns it
// oldest-first. The visited set terminates malformed chains that loop
// back on themselves.
func (p *Plugin) replyHistory(ctx context.Context, roomID id.RoomID, start id.EventID) []message.HistoryEntry {
	if start == "" {
		return nil
	}
	p.mu.Lock()
	botID := p.userID
	p.mu.Unlock()

	var chain []message.HistoryEntry
	visited := make(map[id.EventID]struct{}, maxHistoryDepth)
	for next := start; next != "" && len(chain) < maxHistoryDepth; {
		if _, seen := visited[next]; seen {
			p.logger.Debug("Reply chain loops, stopping walk",
				"room", roomID.String(),
				"event_id", next.String())
			break
		}
		visited[next] = struct{}{}

		evt, err := p.api.GetEvent(ctx, roomID, next)
		if err != nil {
			p.logger.Debug("Reply chain walk stopped",
				"room", roomID.String(),
				"event_id", next.String(),
				"error", err)
			break
		}
		content := evt.Content.AsMessage()
		if content == nil {
			break
		}
		content.RemoveReplyFallback()

		role := message.RoleUser
		if evt.Sender == botID {
			role = message.RoleAssistant
		}
		chain = append(chain, message.HistoryEntry{Role: role, Content: content.Body})
		next = replyTarget(content)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// displayName resolves a user's display name, falling back to the mxid
// localpart. Results are cached; the cache resets when full.
func (p *Plugin) displayName(ctx context.Context, userID id.UserID) string {
	p.mu.Lock()
	if name, ok := p.names[userID]; ok {
		p.mu.Unlock()
		return name
	}
	p.mu.Unlock()

	name, err := p.api.DisplayName(ctx, userID)
	if err != nil || name == "" {
		name = localpart(userID.String())
	}

	p.mu.Lock()
	if len(p.names) >= maxCachedNames {
		p.names = make(map[id.UserID]string, maxCachedNames)
	}
	p.names[userID] = name
	p.mu.Unlock()
	return name
}

// onReaction forwards m.reaction events to the reaction processor.
func (p *Plugin) onReaction(ctx context.Context, evt *event.Event) {
	if !p.accept(evt) {
		return
	}
	sink := p.runtime.Reactions()
	if sink == nil {
		return
	}
	content := evt.Content.AsReaction()
	if content == nil || content.RelatesTo.EventID == "" {
		return
	}
	reactor := evt.Sender.String()
	sink.ProcessReaction(ctx, channel.ReactionEvent{
		ChannelID:           channelID,
		EventID:             evt.ID.String(),
		ExternalMessageID:   content.RelatesTo.EventID.String(),
		ReactorID:           reactor,
		ReactorIdentityHash: channel.HashIdentity(reactor),
		Reaction:            content.RelatesTo.Key,
	})
}

// onRedaction forwards reaction removals to the reaction processor.
func (p *Plugin) onRedaction(ctx context.Context, evt *event.Event) {
	if !p.accept(evt) {
		return
	}
	sink := p.runtime.Reactions()
	if sink == nil {
		return
	}
	redacts := evt.Redacts
	if redacts == "" {
		if content := evt.Content.AsRedaction(); content != nil {
			redacts = content.Redacts
		}
	}
	if redacts == "" {
		return
	}
	sink.ProcessRedaction(ctx, channelID, redacts.String())
}
