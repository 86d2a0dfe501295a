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

package config

import "fmt"

// StaffMember identifies one support staffer across channels.
type StaffMember struct {
	// ID is the canonical staff id (matches the JWT subject on the
	// staff API).
	ID string `yaml:"id"`

	// Name for logs and escalation records.
	Name string `yaml:"name,omitempty"`

	// ChannelIDs maps channel id to the staffer's user id on that
	// channel (e.g. matrix: "@alice:peerex.net"). Messages and
	// reactions from these ids are treated as staff.
	ChannelIDs map[string]string `yaml:"channel_ids,omitempty"`
}

// StaffConfig configures staff identity resolution.
type StaffConfig struct {
	// Members lists known staff.
	Members []StaffMember `yaml:"members,omitempty"`

	// SupportHandles maps channel id to the support account mention
	// used in escalation notices (e.g. "@support:peerex.net").
	SupportHandles map[string]string `yaml:"support_handles,omitempty"`

	// DefaultHandle is used when a channel has no specific handle.
	// Default: "@support"
	DefaultHandle string `yaml:"default_handle,omitempty"`
}

// SetDefaults applies default values.
func (c *StaffConfig) SetDefaults() {
	if c.DefaultHandle == "" {
		c.DefaultHandle = "@support"
	}
	if c.SupportHandles == nil {
		c.SupportHandles = make(map[string]string)
	}
}

// Validate checks the staff configuration.
func (c *StaffConfig) Validate() error {
	seen := make(map[string]bool, len(c.Members))
	for i, m := range c.Members {
		if m.ID == "" {
			return fmt.Errorf("members[%d]: id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("duplicate staff id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}
