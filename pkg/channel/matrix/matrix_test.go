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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/message"
)

type trackedDelivery struct {
	channelID  string
	externalID string
	rec        channel.DeliveryRecord
}

type sinkStub struct {
	tracked    []trackedDelivery
	reactions  []channel.ReactionEvent
	redactions []string
}

func (s *sinkStub) TrackDelivery(channelID, externalMessageID string, rec channel.DeliveryRecord) {
	s.tracked = append(s.tracked, trackedDelivery{channelID, externalMessageID, rec})
}

func (s *sinkStub) ProcessReaction(_ context.Context, ev channel.ReactionEvent) {
	s.reactions = append(s.reactions, ev)
}

func (s *sinkStub) ProcessRedaction(_ context.Context, _ string, reactionEventID string) {
	s.redactions = append(s.redactions, reactionEventID)
}

type staffStub struct{ staff map[string]bool }

func (s *staffStub) IsStaff(userID string) bool  { return s.staff[userID] }
func (s *staffStub) SupportHandle(string) string { return "@support:peerex.net" }

type sentEvent struct {
	roomID  id.RoomID
	content *event.MessageEventContent
}

type fakeAPI struct {
	userID    id.UserID
	whoamiErr error
	sendErr   error
	nextID    int
	joined    []string
	sent      []sentEvent
	handlers  map[event.Type]mautrix.EventHandler
	events    map[id.EventID]*event.Event
	names     map[id.UserID]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		userID:   "@hermod:peerex.net",
		handlers: make(map[event.Type]mautrix.EventHandler),
		events:   make(map[id.EventID]*event.Event),
		names:    make(map[id.UserID]string),
	}
}

func (f *fakeAPI) Whoami(context.Context) (id.UserID, error) {
	if f.whoamiErr != nil {
		return "", f.whoamiErr
	}
	return f.userID, nil
}

func (f *fakeAPI) JoinRoom(_ context.Context, room string) (id.RoomID, error) {
	f.joined = append(f.joined, room)
	if strings.HasPrefix(room, "#") {
		return "!resolved:peerex.net", nil
	}
	return id.RoomID(room), nil
}

func (f *fakeAPI) OnEvent(eventType event.Type, handler mautrix.EventHandler) {
	f.handlers[eventType] = handler
}

func (f *fakeAPI) Sync(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeAPI) StopSync() {}

func (f *fakeAPI) SendMessage(_ context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, sentEvent{roomID, content})
	return id.EventID(fmt.Sprintf("$sent%d", f.nextID)), nil
}

func (f *fakeAPI) GetEvent(_ context.Context, _ id.RoomID, eventID id.EventID) (*event.Event, error) {
	evt, ok := f.events[eventID]
	if !ok {
		return nil, fmt.Errorf("event not found: %s", eventID)
	}
	return evt, nil
}

func (f *fakeAPI) DisplayName(_ context.Context, userID id.UserID) (string, error) {
	if name, ok := f.names[userID]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no profile")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPlugin(cfg *config.MatrixChannelConfig, sink channel.ReactionSink, staff channel.StaffResolver) (*Plugin, *fakeAPI, chan *message.Incoming) {
	if cfg == nil {
		cfg = &config.MatrixChannelConfig{}
	}
	cfg.SetDefaults()
	rt := channel.NewRuntime()
	if sink != nil {
		rt.SetReactions(sink)
	}
	if staff != nil {
		rt.SetStaff(staff)
	}
	inbox := make(chan *message.Incoming, 4)
	p := New(cfg, rt,
		WithLogger(testLogger()),
		WithHandler(func(_ context.Context, in *message.Incoming) { inbox <- in }))
	fake := newFakeAPI()
	p.api = fake
	return p, fake, inbox
}

func startPlugin(t *testing.T, p *Plugin) {
	t.Helper()
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
}

func waitIncoming(t *testing.T, inbox <-chan *message.Incoming) *message.Incoming {
	t.Helper()
	select {
	case in := <-inbox:
		return in
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
		return nil
	}
}

func assertNoIncoming(t *testing.T, inbox <-chan *message.Incoming) {
	t.Helper()
	select {
	case in := <-inbox:
		t.Fatalf("unexpected inbound message: %s", in.MessageID)
	default:
	}
}

func textEvent(eventID, sender, room, body string) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		RoomID:    id.RoomID(room),
		Sender:    id.UserID(sender),
		Type:      event.EventMessage,
		Timestamp: time.Now().Add(time.Minute).UnixMilli(),
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func asReply(evt *event.Event, inReplyTo string) *event.Event {
	content := evt.Content.Parsed.(*event.MessageEventContent)
	content.RelatesTo = (&event.RelatesTo{}).SetReplyTo(id.EventID(inReplyTo))
	return evt
}

func testAnswer(id string) *message.Outgoing {
	return &message.Outgoing{
		MessageID: id,
		InReplyTo: "$q1",
		ChannelID: "matrix",
		Answer:    "Escrow releases once both parties confirm.",
		User:      message.User{ID: "@carol:peerex.net", ChannelUserID: "@carol:peerex.net"},
		Metadata:  message.ResponseMetadata{RoutingAction: message.ActionAutoSend},
	}
}

func TestStartRequiresHandler(t *testing.T) {
	p := New(&config.MatrixChannelConfig{}, channel.NewRuntime(), WithLogger(testLogger()))
	p.api = newFakeAPI()

	err := p.Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler")
}

func TestStartChecksToken(t *testing.T) {
	p, fake, _ := newTestPlugin(nil, nil, nil)
	fake.whoamiErr = errors.New("M_UNKNOWN_TOKEN")

	err := p.Start(context.Background())

	require.Error(t, err)
	assert.False(t, p.HealthCheck(context.Background()).Healthy)
}

func TestStartJoinsConfiguredRooms(t *testing.T) {
	cfg := &config.MatrixChannelConfig{Rooms: []string{"!support:peerex.net", "#help:peerex.net"}}
	p, fake, inbox := newTestPlugin(cfg, nil, nil)
	startPlugin(t, p)

	assert.Equal(t, []string{"!support:peerex.net", "#help:peerex.net"}, fake.joined)

	// The alias was resolved by the join; events in the resolved room
	// pass the filter.
	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$evt1", "@carol:peerex.net", "!resolved:peerex.net", "hello"))
	in := waitIncoming(t, inbox)
	assert.Equal(t, "$evt1", in.MessageID)
}

func TestInboundMessageNormalization(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	fake.names["@carol:peerex.net"] = "Carol"
	startPlugin(t, p)

	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$evt1", "@carol:peerex.net", "!support:peerex.net", "How does escrow work?"))

	in := waitIncoming(t, inbox)
	assert.Equal(t, "$evt1", in.MessageID)
	assert.Equal(t, "matrix", in.ChannelID)
	assert.Equal(t, "How does escrow work?", in.Question)
	assert.Equal(t, "@carol:peerex.net", in.User.ID)
	assert.Equal(t, "@carol:peerex.net", in.User.ChannelUserID)
	assert.Equal(t, "!support:peerex.net", in.ChannelMetadata["room_id"])
	assert.Equal(t, "Carol", in.ChannelMetadata["username"])
	assert.Empty(t, in.ChatHistory)
}

func TestInboundFallsBackToLocalpart(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	startPlugin(t, p)

	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$evt1", "@carol:peerex.net", "!support:peerex.net", "hi"))

	in := waitIncoming(t, inbox)
	assert.Equal(t, "carol", in.ChannelMetadata["username"])
}

func TestInboundIgnoresOwnMessages(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	startPlugin(t, p)

	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$own", string(fake.userID), "!support:peerex.net", "echo"))
	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$evt1", "@carol:peerex.net", "!support:peerex.net", "real"))

	in := waitIncoming(t, inbox)
	assert.Equal(t, "$evt1", in.MessageID)
	assertNoIncoming(t, inbox)
}

func TestInboundIgnoresStaffMessages(t *testing.T) {
	staff := &staffStub{staff: map[string]bool{"@alice:peerex.net": true}}
	p, fake, inbox := newTestPlugin(nil, nil, staff)
	startPlugin(t, p)

	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$staff", "@alice:peerex.net", "!support:peerex.net", "I'll take this one"))
	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$evt1", "@carol:peerex.net", "!support:peerex.net", "How does escrow work?"))

	in := waitIncoming(t, inbox)
	assert.Equal(t, "$evt1", in.MessageID)
	assertNoIncoming(t, inbox)
}

func TestInboundIgnoresHistoryReplay(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	startPlugin(t, p)

	old := textEvent("$old", "@carol:peerex.net", "!support:peerex.net", "from before restart")
	old.Timestamp = time.Now().Add(-time.Hour).UnixMilli()
	fake.handlers[event.EventMessage](context.Background(), old)

	assertNoIncoming(t, inbox)
}

func TestInboundIgnoresUnlistedRooms(t *testing.T) {
	cfg := &config.MatrixChannelConfig{Rooms: []string{"!support:peerex.net"}}
	p, fake, inbox := newTestPlugin(cfg, nil, nil)
	startPlugin(t, p)

	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$other", "@carol:peerex.net", "!random:peerex.net", "offtopic"))
	fake.handlers[event.EventMessage](context.Background(),
		textEvent("$evt1", "@carol:peerex.net", "!support:peerex.net", "ontopic"))

	in := waitIncoming(t, inbox)
	assert.Equal(t, "$evt1", in.MessageID)
	assertNoIncoming(t, inbox)
}

func TestInboundIgnoresNonTextMessages(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	startPlugin(t, p)

	emote := textEvent("$emote", "@carol:peerex.net", "!support:peerex.net", "waves")
	emote.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgEmote
	fake.handlers[event.EventMessage](context.Background(), emote)

	unparsed := textEvent("$raw", "@carol:peerex.net", "!support:peerex.net", "")
	unparsed.Content.Parsed = nil
	fake.handlers[event.EventMessage](context.Background(), unparsed)

	assertNoIncoming(t, inbox)
}

func TestReplyChainBecomesHistory(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	startPlugin(t, p)

	room := "!support:peerex.net"
	fake.events["$q1"] = textEvent("$q1", "@carol:peerex.net", room, "What is escrow?")
	fake.events["$a1"] = asReply(textEvent("$a1", string(fake.userID), room, "Escrow holds funds."), "$q1")

	fake.handlers[event.EventMessage](context.Background(),
		asReply(textEvent("$q2", "@carol:peerex.net", room, "And when is it released?"), "$a1"))

	in := waitIncoming(t, inbox)
	require.Len(t, in.ChatHistory, 2)
	assert.Equal(t, message.HistoryEntry{Role: message.RoleUser, Content: "What is escrow?"}, in.ChatHistory[0])
	assert.Equal(t, message.HistoryEntry{Role: message.RoleAssistant, Content: "Escrow holds funds."}, in.ChatHistory[1])
}

func TestReplyChainLoopTerminates(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	startPlugin(t, p)

	room := "!support:peerex.net"
	fake.events["$a"] = asReply(textEvent("$a", "@carol:peerex.net", room, "a"), "$b")
	fake.events["$b"] = asReply(textEvent("$b", "@carol:peerex.net", room, "b"), "$a")

	fake.handlers[event.EventMessage](context.Background(),
		asReply(textEvent("$q", "@carol:peerex.net", room, "looping"), "$a"))

	in := waitIncoming(t, inbox)
	assert.Len(t, in.ChatHistory, 2)
}

func TestReplyChainDepthBounded(t *testing.T) {
	p, fake, inbox := newTestPlugin(nil, nil, nil)
	startPlugin(t, p)

	room := "!support:peerex.net"
	for i := 1; i <= 15; i++ {
		evt := textEvent(fmt.Sprintf("$m%d", i), "@carol:peerex.net", room, fmt.Sprintf("message %d", i))
		if i > 1 {
			asReply(evt, fmt.Sprintf("$m%d", i-1))
		}
		fake.events[evt.ID] = evt
	}

	fake.handlers[event.EventMessage](context.Background(),
		asReply(textEvent("$q", "@carol:peerex.net", room, "latest"), "$m15"))

	in := waitIncoming(t, inbox)
	assert.Len(t, in.ChatHistory, maxHistoryDepth)
	// Oldest surviving entry first.
	assert.Equal(t, "message 6", in.ChatHistory[0].Content)
	assert.Equal(t, "message 15", in.ChatHistory[len(in.ChatHistory)-1].Content)
}

func TestReactionForwardedToSink(t *testing.T) {
	sink := &sinkStub{}
	p, fake, _ := newTestPlugin(nil, sink, nil)
	startPlugin(t, p)

	fake.handlers[event.EventReaction](context.Background(), &event.Event{
		ID:        "$react1",
		RoomID:    "!support:peerex.net",
		Sender:    "@carol:peerex.net",
		Type:      event.EventReaction,
		Timestamp: time.Now().Add(time.Minute).UnixMilli(),
		Content: event.Content{Parsed: &event.ReactionEventContent{
			RelatesTo: event.RelatesTo{Type: event.RelAnnotation, EventID: "$msg1", Key: "👎"},
		}},
	})

	require.Len(t, sink.reactions, 1)
	ev := sink.reactions[0]
	assert.Equal(t, "matrix", ev.ChannelID)
	assert.Equal(t, "$react1", ev.EventID)
	assert.Equal(t, "$msg1", ev.ExternalMessageID)
	assert.Equal(t, "@carol:peerex.net", ev.ReactorID)
	assert.Equal(t, channel.HashIdentity("@carol:peerex.net"), ev.ReactorIdentityHash)
	assert.Equal(t, "👎", ev.Reaction)
}

func TestOwnReactionIgnored(t *testing.T) {
	sink := &sinkStub{}
	p, fake, _ := newTestPlugin(nil, sink, nil)
	startPlugin(t, p)

	fake.handlers[event.EventReaction](context.Background(), &event.Event{
		ID:        "$react1",
		RoomID:    "!support:peerex.net",
		Sender:    fake.userID,
		Type:      event.EventReaction,
		Timestamp: time.Now().Add(time.Minute).UnixMilli(),
		Content: event.Content{Parsed: &event.ReactionEventContent{
			RelatesTo: event.RelatesTo{Type: event.RelAnnotation, EventID: "$msg1", Key: "👍"},
		}},
	})

	assert.Empty(t, sink.reactions)
}

func TestRedactionForwardedToSink(t *testing.T) {
	sink := &sinkStub{}
	p, fake, _ := newTestPlugin(nil, sink, nil)
	startPlugin(t, p)

	fake.handlers[event.EventRedaction](context.Background(), &event.Event{
		ID:        "$redact1",
		RoomID:    "!support:peerex.net",
		Sender:    "@carol:peerex.net",
		Type:      event.EventRedaction,
		Timestamp: time.Now().Add(time.Minute).UnixMilli(),
		Redacts:   "$react1",
	})

	fake.handlers[event.EventRedaction](context.Background(), &event.Event{
		ID:        "$redact2",
		RoomID:    "!support:peerex.net",
		Sender:    "@carol:peerex.net",
		Type:      event.EventRedaction,
		Timestamp: time.Now().Add(time.Minute).UnixMilli(),
		Content: event.Content{Parsed: &event.RedactionEventContent{
			Redacts: "$react2",
		}},
	})

	assert.Equal(t, []string{"$react1", "$react2"}, sink.redactions)
}

func TestSendMessageRepliesInRoom(t *testing.T) {
	sink := &sinkStub{}
	p, fake, _ := newTestPlugin(nil, sink, nil)

	sent, err := p.SendMessage(context.Background(), "!support:peerex.net", testAnswer("out-1"))

	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, id.RoomID("!support:peerex.net"), fake.sent[0].roomID)
	assert.Equal(t, event.MsgText, fake.sent[0].content.MsgType)
	assert.Equal(t, "Escrow releases once both parties confirm.", fake.sent[0].content.Body)
	assert.Equal(t, id.EventID("$q1"), fake.sent[0].content.RelatesTo.GetReplyTo())

	require.Len(t, sink.tracked, 1)
	assert.Equal(t, "matrix", sink.tracked[0].channelID)
	assert.Equal(t, "$sent1", sink.tracked[0].externalID)
	assert.Equal(t, "out-1", sink.tracked[0].rec.InternalMessageID)
	assert.Equal(t, "!support:peerex.net", sink.tracked[0].rec.Target)
	assert.Equal(t, "carol", sink.tracked[0].rec.Username)
	assert.Equal(t, string(message.ActionAutoSend), sink.tracked[0].rec.RoutingAction)
}

func TestSendMessageSkipsReplyRelationForForeignIDs(t *testing.T) {
	p, fake, _ := newTestPlugin(nil, nil, nil)
	out := testAnswer("out-1")
	out.InReplyTo = "in-1"

	sent, err := p.SendMessage(context.Background(), "!support:peerex.net", out)

	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, fake.sent, 1)
	assert.Nil(t, fake.sent[0].content.RelatesTo)
}

func TestSendSystemMessageUsesNotice(t *testing.T) {
	sink := &sinkStub{}
	p, fake, _ := newTestPlugin(nil, sink, nil)

	out := testAnswer("out-1")
	out.Metadata.RoutingAction = message.ActionFollowupPrompt
	sent, err := p.SendSystemMessage(context.Background(), "!support:peerex.net", out)

	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, fake.sent, 1)
	assert.Equal(t, event.MsgNotice, fake.sent[0].content.MsgType)
	require.Len(t, sink.tracked, 1)
	assert.Equal(t, string(message.ActionFollowupPrompt), sink.tracked[0].rec.RoutingAction)
}

func TestSendMessageFailures(t *testing.T) {
	p, fake, _ := newTestPlugin(nil, nil, nil)

	sent, err := p.SendMessage(context.Background(), "", testAnswer("out-1"))
	assert.False(t, sent)
	assert.Error(t, err)

	fake.sendErr = errors.New("M_FORBIDDEN")
	sent, err = p.SendMessage(context.Background(), "!support:peerex.net", testAnswer("out-1"))
	assert.False(t, sent)
	assert.Error(t, err)
}

func TestFormatEscalationMessage(t *testing.T) {
	p, _, _ := newTestPlugin(nil, nil, nil)

	withHandle := p.FormatEscalationMessage("carol", 7, "@support:peerex.net")
	assert.Equal(t, "carol: your question has been forwarded to our support team (ticket #7). "+
		"A staff member will reply in this room. For urgent issues you can reach @support:peerex.net directly.", withHandle)

	bare := p.FormatEscalationMessage("", 7, "")
	assert.Equal(t, "your question has been forwarded to our support team (ticket #7). "+
		"A staff member will reply in this room.", bare)
}

func TestDeliveryTargetUsesRoomID(t *testing.T) {
	p, _, _ := newTestPlugin(nil, nil, nil)

	assert.Equal(t, "!support:peerex.net", p.DeliveryTarget(map[string]string{"room_id": "!support:peerex.net"}))
	assert.Empty(t, p.DeliveryTarget(map[string]string{}))
}

func TestHealthCheckReflectsLifecycle(t *testing.T) {
	p, _, _ := newTestPlugin(nil, nil, nil)
	ctx := context.Background()

	assert.False(t, p.HealthCheck(ctx).Healthy)

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.HealthCheck(ctx).Healthy)

	require.NoError(t, p.Stop(ctx))
	status := p.HealthCheck(ctx)
	assert.False(t, status.Healthy)
	assert.Equal(t, "not started", status.Detail)
}
