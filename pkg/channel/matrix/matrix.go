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

// Package matrix implements the Matrix channel plugin on top of
// mautrix.
//
// The plugin syncs the configured rooms, normalizes m.room.message
// events into the gateway's message shape (walking reply chains for
// conversation history), and forwards m.reaction / m.room.redaction
// events to the reaction processor. Answers are delivered as m.text
// replies; system traffic (queued-review notices, follow-up prompts)
// goes out as m.notice so other bots leave it alone.
package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/message"
)

const (
	channelID = "matrix"

	// syncRetryDelay spaces out reconnects after a failed sync.
	syncRetryDelay = 5 * time.Second

	// maxHistoryDepth bounds the reply-chain walk per message.
	maxHistoryDepth = 10

	// maxCachedNames bounds the display-name cache.
	maxCachedNames = 1024
)

// Handler consumes a normalized inbound message. The runtime wires it
// to the gateway/dispatcher pipeline before the plugin starts.
type Handler func(ctx context.Context, in *message.Incoming)

// Plugin is the Matrix channel.
type Plugin struct {
	cfg     *config.MatrixChannelConfig
	runtime *channel.Runtime
	logger  *slog.Logger
	api     api
	handler Handler

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	userID    id.UserID
	startedAt int64
	syncErr   error
	rooms     map[string]struct{}
	names     map[id.UserID]string
}

var (
	_ channel.Plugin              = (*Plugin)(nil)
	_ channel.SystemMessenger     = (*Plugin)(nil)
	_ channel.EscalationFormatter = (*Plugin)(nil)
)

// Option configures the plugin.
type Option func(*Plugin)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithHandler sets the inbound message handler.
func WithHandler(h Handler) Option {
	return func(p *Plugin) {
		p.handler = h
	}
}

// New creates the Matrix plugin. The mautrix client is built lazily on
// Start so that construction never touches the network.
func New(cfg *config.MatrixChannelConfig, runtime *channel.Runtime, opts ...Option) *Plugin {
	if cfg == nil {
		cfg = &config.MatrixChannelConfig{}
		cfg.SetDefaults()
	}
	p := &Plugin{
		cfg:     cfg,
		runtime: runtime,
		logger:  slog.Default(),
		names:   make(map[id.UserID]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ChannelID returns "matrix".
func (p *Plugin) ChannelID() string { return channelID }

// SetHandler installs the inbound message handler. It must be set
// before Start; the runtime binds it once the pipeline is assembled.
func (p *Plugin) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Start verifies the access token, joins the configured rooms, and
// launches the sync loop on its own goroutine.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if p.handler == nil {
		return fmt.Errorf("matrix channel has no message handler")
	}
	if p.api == nil {
		client, err := newMautrixAPI(p.cfg)
		if err != nil {
			return err
		}
		p.api = client
	}

	whoami, err := p.api.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("matrix token check failed: %w", err)
	}
	p.userID = whoami

	// Joining resolves aliases to room ids, which is also what inbound
	// events carry; a failed join falls back to the configured value.
	p.rooms = make(map[string]struct{}, len(p.cfg.Rooms))
	for _, room := range p.cfg.Rooms {
		roomID, err := p.api.JoinRoom(ctx, room)
		if err != nil {
			p.logger.Warn("Could not join configured room",
				"room", room,
				"error", err)
			p.rooms[room] = struct{}{}
			continue
		}
		p.rooms[roomID.String()] = struct{}{}
	}

	p.api.OnEvent(event.EventMessage, p.onMessage)
	p.api.OnEvent(event.EventReaction, p.onReaction)
	p.api.OnEvent(event.EventRedaction, p.onRedaction)

	p.startedAt = time.Now().UnixMilli()
	syncCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true
	go p.syncLoop(syncCtx)

	p.logger.Info("Matrix channel started",
		"user_id", whoami.String(),
		"rooms", len(p.cfg.Rooms))
	return nil
}

// Stop terminates the sync loop.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.api.StopSync()
	p.logger.Info("Matrix channel stopped")
	return nil
}

// HealthCheck reports sync health.
func (p *Plugin) HealthCheck(ctx context.Context) channel.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return channel.Unhealthy("not started")
	}
	if p.syncErr != nil {
		return channel.Unhealthy(fmt.Sprintf("sync failing: %v", p.syncErr))
	}
	return channel.Healthy()
}

// DeliveryTarget returns the room the message came from.
func (p *Plugin) DeliveryTarget(meta map[string]string) string {
	return meta["room_id"]
}

// SendMessage delivers an answer to a room as m.text.
func (p *Plugin) SendMessage(ctx context.Context, target string, out *message.Outgoing) (bool, error) {
	return p.send(ctx, target, out, event.MsgText)
}

// SendSystemMessage delivers system traffic as m.notice.
func (p *Plugin) SendSystemMessage(ctx context.Context, target string, out *message.Outgoing) (bool, error) {
	return p.send(ctx, target, out, event.MsgNotice)
}

func (p *Plugin) send(ctx context.Context, target string, out *message.Outgoing, msgType event.MessageType) (bool, error) {
	if target == "" {
		return false, fmt.Errorf("matrix delivery needs a room id")
	}
	content := &event.MessageEventContent{
		MsgType: msgType,
		Body:    out.Answer,
	}
	// InReplyTo carries the native event id of the question.
	if strings.HasPrefix(out.InReplyTo, "$") {
		content.RelatesTo = (&event.RelatesTo{}).SetReplyTo(id.EventID(out.InReplyTo))
	}

	eventID, err := p.api.SendMessage(ctx, id.RoomID(target), content)
	if err != nil {
		return false, fmt.Errorf("matrix send to %s failed: %w", target, err)
	}
	p.trackDelivery(eventID.String(), target, out)
	return true, nil
}

// trackDelivery registers the sent event with the reaction sink so
// reactions on it resolve back to the internal message.
func (p *Plugin) trackDelivery(externalID, target string, out *message.Outgoing) {
	sink := p.runtime.Reactions()
	if sink == nil {
		return
	}
	username := localpart(out.User.ChannelUserID)
	if username == "" {
		username = out.User.ID
	}
	sink.TrackDelivery(channelID, externalID, channel.DeliveryRecord{
		InternalMessageID: out.MessageID,
		Target:            target,
		Username:          username,
		RoutingAction:     string(out.Metadata.RoutingAction),
	})
}

// FormatEscalationMessage renders the queued-review notice for Matrix
// rooms.
func (p *Plugin) FormatEscalationMessage(username string, escalationID int64, supportHandle string) string {
	var b strings.Builder
	if username != "" {
		fmt.Fprintf(&b, "%s: ", username)
	}
	fmt.Fprintf(&b, "your question has been forwarded to our support team (ticket #%d). A staff member will reply in this room.", escalationID)
	if supportHandle != "" {
		fmt.Fprintf(&b, " For urgent issues you can reach %s directly.", supportHandle)
	}
	return b.String()
}

// localpart extracts the local part of a Matrix user id
// ("@carol:peerex.net" → "carol"). Non-mxid input passes through.
func localpart(userID string) string {
	s := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return s
}
