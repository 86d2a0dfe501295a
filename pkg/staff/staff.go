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

// Package staff resolves support staff identities from configuration.
package staff

import (
	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/config"
)

// Resolver answers staff identity questions from the static staff
// configuration. It indexes both canonical staff ids and per-channel
// user ids, so a Matrix mxid and the JWT subject of the same person
// both resolve.
type Resolver struct {
	byID     map[string]config.StaffMember
	handles  map[string]string
	fallback string
}

func NewResolver(cfg *config.StaffConfig) *Resolver {
	r := &Resolver{
		byID:     make(map[string]config.StaffMember),
		handles:  make(map[string]string, len(cfg.SupportHandles)),
		fallback: cfg.DefaultHandle,
	}
	for _, m := range cfg.Members {
		r.byID[m.ID] = m
		for _, channelUserID := range m.ChannelIDs {
			if channelUserID != "" {
				r.byID[channelUserID] = m
			}
		}
	}
	for channelID, handle := range cfg.SupportHandles {
		r.handles[channelID] = handle
	}
	return r
}

// IsStaff reports whether userID belongs to a configured staff member.
// Both canonical ids and channel-local user ids match.
func (r *Resolver) IsStaff(userID string) bool {
	if userID == "" {
		return false
	}
	_, ok := r.byID[userID]
	return ok
}

// Member returns the staff member behind userID.
func (r *Resolver) Member(userID string) (config.StaffMember, bool) {
	m, ok := r.byID[userID]
	return m, ok
}

// SupportHandle returns the support contact shown to users on the given
// channel, falling back to the deployment-wide default.
func (r *Resolver) SupportHandle(channelID string) string {
	if handle, ok := r.handles[channelID]; ok {
		return handle
	}
	return r.fallback
}

var _ channel.StaffResolver = (*Resolver)(nil)
