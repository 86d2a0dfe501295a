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

import (
	"fmt"
	"time"
)

// WebchatChannelConfig configures one HTTP web-chat channel instance.
// Multiple instances (e.g. "web" and "app") share the plugin code but
// carry distinct channel ids, callbacks, and auth requirements.
type WebchatChannelConfig struct {
	// Enabled turns the instance on.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Priority orders startup (lower starts first).
	// Default: 100
	Priority int `yaml:"priority,omitempty"`

	// CallbackURL receives outbound deliveries when the incoming
	// message carries no callback_url metadata.
	CallbackURL string `yaml:"callback_url,omitempty"`

	// RequireAuth makes the auth pre-hook validate User.AuthToken for
	// this channel.
	// Default: false
	RequireAuth bool `yaml:"require_auth,omitempty"`

	// RequiredRole is the role claim needed on top of a valid token.
	// Empty accepts any authenticated user. Only meaningful with
	// RequireAuth.
	RequiredRole string `yaml:"required_role,omitempty"`

	// Timeout bounds outbound delivery POSTs.
	// Default: 15s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *WebchatChannelConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Priority == 0 {
		c.Priority = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

// Validate checks the instance configuration.
func (c *WebchatChannelConfig) Validate() error {
	if c.Priority < 0 {
		return fmt.Errorf("priority must be non-negative")
	}
	return nil
}

// MatrixChannelConfig configures the Matrix channel plugin.
type MatrixChannelConfig struct {
	// Enabled turns the plugin on.
	// Default: false
	Enabled *bool `yaml:"enabled,omitempty"`

	// Priority orders startup (lower starts first).
	// Default: 200
	Priority int `yaml:"priority,omitempty"`

	// Homeserver URL, e.g. "https://matrix.peerex.net".
	Homeserver string `yaml:"homeserver,omitempty"`

	// UserID of the bot account, e.g. "@support-bot:peerex.net".
	UserID string `yaml:"user_id,omitempty"`

	// AccessToken for the bot account. Supports ${VAR} expansion.
	AccessToken string `yaml:"access_token,omitempty"`

	// Rooms the bot answers in. Empty means all joined rooms.
	Rooms []string `yaml:"rooms,omitempty"`

	// SyncTimeout for a single long-poll sync request.
	// Default: 30s
	SyncTimeout time.Duration `yaml:"sync_timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *MatrixChannelConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(false)
	}
	if c.Priority == 0 {
		c.Priority = 200
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = 30 * time.Second
	}
}

// Validate checks the Matrix configuration.
func (c *MatrixChannelConfig) Validate() error {
	if !BoolValue(c.Enabled, false) {
		return nil
	}
	if c.Homeserver == "" {
		return fmt.Errorf("homeserver is required when matrix is enabled")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required when matrix is enabled")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access_token is required when matrix is enabled")
	}
	return nil
}

// ChannelsConfig configures channel plugins and registry startup.
type ChannelsConfig struct {
	// Webchat instances keyed by channel id.
	// Default: a single enabled "web" instance.
	Webchat map[string]*WebchatChannelConfig `yaml:"webchat,omitempty"`

	// Matrix plugin configuration.
	Matrix *MatrixChannelConfig `yaml:"matrix,omitempty"`

	// StartTimeout bounds each plugin's Start call.
	// Default: 30s
	StartTimeout time.Duration `yaml:"start_timeout,omitempty"`

	// ContinueOnError keeps starting remaining plugins after a failure
	// instead of aborting startup.
	// Default: false
	ContinueOnError bool `yaml:"continue_on_error,omitempty"`
}

// SetDefaults applies default values.
func (c *ChannelsConfig) SetDefaults() {
	if c.Webchat == nil {
		c.Webchat = make(map[string]*WebchatChannelConfig)
	}
	if len(c.Webchat) == 0 {
		c.Webchat["web"] = &WebchatChannelConfig{}
	}
	for id := range c.Webchat {
		if c.Webchat[id] != nil {
			c.Webchat[id].SetDefaults()
		}
	}
	if c.Matrix != nil {
		c.Matrix.SetDefaults()
	}
	if c.StartTimeout == 0 {
		c.StartTimeout = 30 * time.Second
	}
}

// Validate checks the channels configuration.
func (c *ChannelsConfig) Validate() error {
	for id, inst := range c.Webchat {
		if id == "" {
			return fmt.Errorf("webchat channel id must not be empty")
		}
		if inst != nil {
			if err := inst.Validate(); err != nil {
				return fmt.Errorf("webchat %q: %w", id, err)
			}
		}
	}
	if c.Matrix != nil {
		if err := c.Matrix.Validate(); err != nil {
			return fmt.Errorf("matrix: %w", err)
		}
	}
	return nil
}
