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

// Package webchat implements the HTTP web-chat channel plugin.
//
// Web chat is request/response shaped: the widget POSTs a question and
// either blocks for the answer or names a callback URL for asynchronous
// delivery. The plugin supports both. When the inbound request carries a
// callback URL (or the instance configures one), answers are POSTed
// there as JSON. Otherwise the plugin registers an in-process waiter for
// the message and the dispatcher's delivery lands on the waiter channel,
// where the HTTP handler picks it up and writes it into the still-open
// response.
//
// Keeping the waiter path inside the plugin means the dispatcher stays
// authoritative for every channel: a review-routed answer reaches the
// widget as the queued-review notice the dispatcher built, never as the
// suppressed draft.
package webchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/httpclient"
	"github.com/peerex/hermod/pkg/message"
)

// inlineTargetPrefix marks delivery targets that resolve to an
// in-process waiter instead of an HTTP callback.
const inlineTargetPrefix = "inline:"

// InboundRequest is the JSON body accepted by the web-chat endpoint.
type InboundRequest struct {
	MessageID   string                 `json:"message_id,omitempty"`
	Question    string                 `json:"question"`
	User        message.User           `json:"user"`
	ChatHistory []message.HistoryEntry `json:"chat_history,omitempty"`

	// CallbackURL switches this message to asynchronous delivery.
	CallbackURL string `json:"callback_url,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Plugin is one web-chat channel instance.
type Plugin struct {
	channelID string
	cfg       *config.WebchatChannelConfig
	client    *httpclient.Client
	runtime   *channel.Runtime
	logger    *slog.Logger

	mu      sync.Mutex
	started bool

	// Waiters for synchronous requests: message id → delivery channel.
	waiters map[string]chan *message.Outgoing
}

var (
	_ channel.Plugin          = (*Plugin)(nil)
	_ channel.SystemMessenger = (*Plugin)(nil)
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

// WithHTTPClient replaces the callback delivery client.
func WithHTTPClient(client *httpclient.Client) Option {
	return func(p *Plugin) {
		if client != nil {
			p.client = client
		}
	}
}

// New creates a web-chat plugin instance.
func New(channelID string, cfg *config.WebchatChannelConfig, runtime *channel.Runtime, opts ...Option) *Plugin {
	if cfg == nil {
		cfg = &config.WebchatChannelConfig{}
		cfg.SetDefaults()
	}
	p := &Plugin{
		channelID: channelID,
		cfg:       cfg,
		runtime:   runtime,
		logger:    slog.Default(),
		waiters:   make(map[string]chan *message.Outgoing),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			httpclient.WithMaxRetries(2),
		)
	}
	return p
}

// ChannelID returns the instance's channel id.
func (p *Plugin) ChannelID() string { return p.channelID }

// Start marks the plugin operational. Web chat has no connection to
// bring up; inbound traffic arrives through the HTTP server.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	p.logger.Info("Webchat channel started",
		"channel", p.channelID,
		"callback_url", p.cfg.CallbackURL != "")
	return nil
}

// Stop marks the plugin stopped and drops any pending waiters.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.waiters = make(map[string]chan *message.Outgoing)
	p.logger.Info("Webchat channel stopped", "channel", p.channelID)
	return nil
}

// HealthCheck reports whether the plugin accepts traffic.
func (p *Plugin) HealthCheck(ctx context.Context) channel.HealthStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return channel.Unhealthy("not started")
	}
	return channel.Healthy()
}

// Normalize converts an inbound HTTP request body into the gateway's
// message shape. Requests without a message id get a generated one.
func (p *Plugin) Normalize(req *InboundRequest) *message.Incoming {
	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	meta := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.CallbackURL != "" {
		meta["callback_url"] = req.CallbackURL
	}
	if req.CallbackURL == "" && p.cfg.CallbackURL == "" {
		// No callback anywhere: the caller is blocking on the HTTP
		// response, so route delivery to the in-process waiter.
		meta["inline_token"] = inlineTargetPrefix + messageID
	}

	return &message.Incoming{
		MessageID:       messageID,
		ChannelID:       p.channelID,
		Question:        req.Question,
		ChatHistory:     req.ChatHistory,
		User:            req.User,
		ChannelMetadata: meta,
	}
}

// DeliveryTarget picks the delivery target for a message: its own
// callback URL first, then the instance-wide callback, then the inline
// waiter token.
func (p *Plugin) DeliveryTarget(meta map[string]string) string {
	if url := meta["callback_url"]; url != "" {
		return url
	}
	if p.cfg.CallbackURL != "" {
		return p.cfg.CallbackURL
	}
	return meta["inline_token"]
}

// SendMessage delivers out to target. Inline targets resolve to the
// waiter registered for the message; everything else is an HTTP POST.
func (p *Plugin) SendMessage(ctx context.Context, target string, out *message.Outgoing) (bool, error) {
	if strings.HasPrefix(target, inlineTargetPrefix) {
		return p.deliverInline(target, out)
	}
	return p.deliverCallback(ctx, target, out)
}

// SendSystemMessage delivers system messages (follow-up prompts, acks)
// the same way as answers; web chat has no separate notice type.
func (p *Plugin) SendSystemMessage(ctx context.Context, target string, out *message.Outgoing) (bool, error) {
	return p.SendMessage(ctx, target, out)
}

func (p *Plugin) deliverInline(target string, out *message.Outgoing) (bool, error) {
	messageID := strings.TrimPrefix(target, inlineTargetPrefix)

	p.mu.Lock()
	ch, ok := p.waiters[messageID]
	p.mu.Unlock()
	if !ok {
		// The handler gave up (client disconnect, server shutdown).
		p.logger.Debug("No waiter for inline delivery",
			"channel", p.channelID,
			"message_id", messageID)
		return false, nil
	}

	// Non-blocking: the channel is buffered for exactly one delivery.
	select {
	case ch <- out:
	default:
		return false, fmt.Errorf("waiter for message %s already received a delivery", messageID)
	}

	p.trackDelivery(target, out)
	return true, nil
}

func (p *Plugin) deliverCallback(ctx context.Context, target string, out *message.Outgoing) (bool, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return false, fmt.Errorf("failed to encode delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return false, fmt.Errorf("callback delivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	p.trackDelivery(target, out)
	return true, nil
}

// trackDelivery registers the delivered message with the reaction sink
// so widget reactions on it can be resolved. Web chat reuses the
// internal message id as the external one.
func (p *Plugin) trackDelivery(target string, out *message.Outgoing) {
	sink := p.runtime.Reactions()
	if sink == nil {
		return
	}
	username := out.User.ChannelUserID
	if username == "" {
		username = out.User.ID
	}
	sink.TrackDelivery(p.channelID, out.MessageID, channel.DeliveryRecord{
		InternalMessageID: out.MessageID,
		Target:            target,
		Username:          username,
		RoutingAction:     string(out.Metadata.RoutingAction),
	})
}

// RegisterWaiter creates the delivery channel for a synchronous
// request. The handler must call ReleaseWaiter when done.
func (p *Plugin) RegisterWaiter(messageID string) <-chan *message.Outgoing {
	ch := make(chan *message.Outgoing, 1)
	p.mu.Lock()
	p.waiters[messageID] = ch
	p.mu.Unlock()
	return ch
}

// ReleaseWaiter drops the waiter for a message id. Idempotent.
func (p *Plugin) ReleaseWaiter(messageID string) {
	p.mu.Lock()
	delete(p.waiters, messageID)
	p.mu.Unlock()
}
