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

package webchat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/httpclient"
	"github.com/peerex/hermod/pkg/message"
)

type trackedDelivery struct {
	channelID  string
	externalID string
	rec        channel.DeliveryRecord
}

type sinkStub struct {
	tracked []trackedDelivery
}

func (s *sinkStub) TrackDelivery(channelID, externalMessageID string, rec channel.DeliveryRecord) {
	s.tracked = append(s.tracked, trackedDelivery{channelID, externalMessageID, rec})
}

func (s *sinkStub) ProcessReaction(context.Context, channel.ReactionEvent) {}
func (s *sinkStub) ProcessRedaction(context.Context, string, string)       {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPlugin(cfg *config.WebchatChannelConfig, sink channel.ReactionSink) *Plugin {
	if cfg == nil {
		cfg = &config.WebchatChannelConfig{}
	}
	cfg.SetDefaults()
	rt := channel.NewRuntime()
	if sink != nil {
		rt.SetReactions(sink)
	}
	return New("web", cfg, rt,
		WithLogger(testLogger()),
		WithHTTPClient(httpclient.New(httpclient.WithMaxRetries(0))))
}

func testAnswer(id string) *message.Outgoing {
	return &message.Outgoing{
		MessageID: id,
		InReplyTo: "in-1",
		ChannelID: "web",
		Answer:    "Escrow releases once both parties confirm.",
		User:      message.User{ID: "u1", ChannelUserID: "sess-9"},
		Metadata:  message.ResponseMetadata{RoutingAction: message.ActionAutoSend},
	}
}

func TestNormalizeGeneratesMessageID(t *testing.T) {
	p := newTestPlugin(nil, nil)

	in := p.Normalize(&InboundRequest{
		Question: "How does escrow work?",
		User:     message.User{ID: "u1", ChannelUserID: "sess-9"},
		ChatHistory: []message.HistoryEntry{
			{Role: message.RoleUser, Content: "Hi"},
		},
	})

	assert.NotEmpty(t, in.MessageID)
	assert.Equal(t, "web", in.ChannelID)
	assert.Equal(t, "How does escrow work?", in.Question)
	assert.Equal(t, "u1", in.User.ID)
	require.Len(t, in.ChatHistory, 1)
	assert.Equal(t, inlineTargetPrefix+in.MessageID, in.ChannelMetadata["inline_token"])
}

func TestNormalizeKeepsExplicitMessageID(t *testing.T) {
	p := newTestPlugin(nil, nil)

	in := p.Normalize(&InboundRequest{MessageID: "msg-42", Question: "hi"})

	assert.Equal(t, "msg-42", in.MessageID)
	assert.Equal(t, "inline:msg-42", in.ChannelMetadata["inline_token"])
}

func TestNormalizeCarriesCallbackURL(t *testing.T) {
	p := newTestPlugin(nil, nil)

	in := p.Normalize(&InboundRequest{
		Question:    "hi",
		CallbackURL: "https://widget.peerex.com/hook",
		Metadata:    map[string]string{"locale": "en"},
	})

	assert.Equal(t, "https://widget.peerex.com/hook", in.ChannelMetadata["callback_url"])
	assert.Equal(t, "en", in.ChannelMetadata["locale"])
	assert.NotContains(t, in.ChannelMetadata, "inline_token")
}

func TestNormalizeSkipsInlineTokenWithInstanceCallback(t *testing.T) {
	p := newTestPlugin(&config.WebchatChannelConfig{CallbackURL: "https://app.peerex.com/hook"}, nil)

	in := p.Normalize(&InboundRequest{Question: "hi"})

	assert.NotContains(t, in.ChannelMetadata, "inline_token")
	assert.NotContains(t, in.ChannelMetadata, "callback_url")
}

func TestDeliveryTargetPrecedence(t *testing.T) {
	p := newTestPlugin(&config.WebchatChannelConfig{CallbackURL: "https://app.peerex.com/hook"}, nil)

	assert.Equal(t, "https://widget.peerex.com/hook", p.DeliveryTarget(map[string]string{
		"callback_url": "https://widget.peerex.com/hook",
		"inline_token": "inline:msg-1",
	}))
	assert.Equal(t, "https://app.peerex.com/hook", p.DeliveryTarget(map[string]string{
		"inline_token": "inline:msg-1",
	}))

	bare := newTestPlugin(nil, nil)
	assert.Equal(t, "inline:msg-1", bare.DeliveryTarget(map[string]string{"inline_token": "inline:msg-1"}))
	assert.Empty(t, bare.DeliveryTarget(map[string]string{}))
}

func TestSendMessagePostsToCallback(t *testing.T) {
	var (
		gotMethod      string
		gotContentType string
		gotBody        message.Outgoing
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := &sinkStub{}
	p := newTestPlugin(nil, sink)
	out := testAnswer("out-1")

	sent, err := p.SendMessage(context.Background(), srv.URL, out)

	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "out-1", gotBody.MessageID)
	assert.Equal(t, "Escrow releases once both parties confirm.", gotBody.Answer)

	require.Len(t, sink.tracked, 1)
	assert.Equal(t, "web", sink.tracked[0].channelID)
	assert.Equal(t, "out-1", sink.tracked[0].externalID)
	assert.Equal(t, "out-1", sink.tracked[0].rec.InternalMessageID)
	assert.Equal(t, srv.URL, sink.tracked[0].rec.Target)
	assert.Equal(t, "sess-9", sink.tracked[0].rec.Username)
	assert.Equal(t, string(message.ActionAutoSend), sink.tracked[0].rec.RoutingAction)
}

func TestSendMessageReportsCallbackFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &sinkStub{}
	p := newTestPlugin(nil, sink)

	sent, err := p.SendMessage(context.Background(), srv.URL, testAnswer("out-1"))

	assert.False(t, sent)
	assert.Error(t, err)
	assert.Empty(t, sink.tracked)
}

func TestSendMessageDeliversInline(t *testing.T) {
	sink := &sinkStub{}
	p := newTestPlugin(nil, sink)
	out := testAnswer("out-1")

	ch := p.RegisterWaiter("out-1")
	sent, err := p.SendMessage(context.Background(), "inline:out-1", out)

	require.NoError(t, err)
	assert.True(t, sent)
	select {
	case got := <-ch:
		assert.Same(t, out, got)
	default:
		t.Fatal("expected a buffered inline delivery")
	}

	require.Len(t, sink.tracked, 1)
	assert.Equal(t, "inline:out-1", sink.tracked[0].rec.Target)
}

func TestSendMessageInlineWithoutWaiter(t *testing.T) {
	sink := &sinkStub{}
	p := newTestPlugin(nil, sink)

	sent, err := p.SendMessage(context.Background(), "inline:out-1", testAnswer("out-1"))

	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, sink.tracked)
}

func TestSendMessageInlineRejectsSecondDelivery(t *testing.T) {
	p := newTestPlugin(nil, nil)
	p.RegisterWaiter("out-1")

	sent, err := p.SendMessage(context.Background(), "inline:out-1", testAnswer("out-1"))
	require.NoError(t, err)
	require.True(t, sent)

	sent, err = p.SendMessage(context.Background(), "inline:out-1", testAnswer("out-1"))
	assert.False(t, sent)
	assert.Error(t, err)
}

func TestReleaseWaiterStopsInlineDelivery(t *testing.T) {
	p := newTestPlugin(nil, nil)
	p.RegisterWaiter("out-1")
	p.ReleaseWaiter("out-1")

	sent, err := p.SendMessage(context.Background(), "inline:out-1", testAnswer("out-1"))

	require.NoError(t, err)
	assert.False(t, sent)
}

func TestSendSystemMessageUsesSameDelivery(t *testing.T) {
	p := newTestPlugin(nil, nil)
	ch := p.RegisterWaiter("out-1")

	out := testAnswer("out-1")
	out.Metadata.RoutingAction = message.ActionFollowupPrompt
	sent, err := p.SendSystemMessage(context.Background(), "inline:out-1", out)

	require.NoError(t, err)
	assert.True(t, sent)
	select {
	case got := <-ch:
		assert.Equal(t, message.ActionFollowupPrompt, got.Metadata.RoutingAction)
	default:
		t.Fatal("expected a buffered inline delivery")
	}
}

func TestHealthCheckReflectsLifecycle(t *testing.T) {
	p := newTestPlugin(nil, nil)
	ctx := context.Background()

	assert.False(t, p.HealthCheck(ctx).Healthy)

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.HealthCheck(ctx).Healthy)

	require.NoError(t, p.Stop(ctx))
	status := p.HealthCheck(ctx)
	assert.False(t, status.Healthy)
	assert.Equal(t, "not started", status.Detail)
}

func TestStopDropsPendingWaiters(t *testing.T) {
	p := newTestPlugin(nil, nil)
	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	p.RegisterWaiter("out-1")

	require.NoError(t, p.Stop(ctx))

	sent, err := p.SendMessage(ctx, "inline:out-1", testAnswer("out-1"))
	require.NoError(t, err)
	assert.False(t, sent)
}
