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
	"fmt"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/peerex/hermod/pkg/config"
)

// api is the slice of the Matrix client surface the plugin uses. Tests
// replace it with a recording stub instead of a homeserver.
type api interface {
	Whoami(ctx context.Context) (id.UserID, error)
	JoinRoom(ctx context.Context, room string) (id.RoomID, error)
	OnEvent(eventType event.Type, handler mautrix.EventHandler)
	Sync(ctx context.Context) error
	StopSync()
	SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error)
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)
	DisplayName(ctx context.Context, userID id.UserID) (string, error)
}

// mautrixAPI adapts *mautrix.Client to the api interface.
type mautrixAPI struct {
	client *mautrix.Client
}

func newMautrixAPI(cfg *config.MatrixChannelConfig) (*mautrixAPI, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	// The HTTP timeout must outlive the sync long-poll.
	client.Client.Timeout = cfg.SyncTimeout + 30*time.Second
	return &mautrixAPI{client: client}, nil
}

func (m *mautrixAPI) Whoami(ctx context.Context) (id.UserID, error) {
	resp, err := m.client.Whoami(ctx)
	if err != nil {
		return "", err
	}
	return resp.UserID, nil
}

func (m *mautrixAPI) JoinRoom(ctx context.Context, room string) (id.RoomID, error) {
	resp, err := m.client.JoinRoom(ctx, room, &mautrix.ReqJoinRoom{})
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (m *mautrixAPI) OnEvent(eventType event.Type, handler mautrix.EventHandler) {
	m.client.Syncer.(*mautrix.DefaultSyncer).OnEventType(eventType, handler)
}

func (m *mautrixAPI) Sync(ctx context.Context) error { return m.client.SyncWithContext(ctx) }

func (m *mautrixAPI) StopSync() { m.client.StopSync() }

func (m *mautrixAPI) SendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) (id.EventID, error) {
	resp, err := m.client.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (m *mautrixAPI) GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	evt, err := m.client.GetEvent(ctx, roomID, eventID)
	if err != nil {
		return nil, err
	}
	// /event returns raw content; handlers expect it parsed.
	if evt.Content.Parsed == nil {
		_ = evt.Content.ParseRaw(evt.Type)
	}
	return evt, nil
}

func (m *mautrixAPI) DisplayName(ctx context.Context, userID id.UserID) (string, error) {
	resp, err := m.client.GetDisplayName(ctx, userID)
	if err != nil {
		return "", err
	}
	return resp.DisplayName, nil
}
