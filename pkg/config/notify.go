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

// SlackNotifyConfig configures Slack staff notifications.
type SlackNotifyConfig struct {
	// Enabled turns Slack notifications on.
	// Default: false
	Enabled *bool `yaml:"enabled,omitempty"`

	// Token is a bot token (xoxb-...). Supports ${VAR} expansion.
	Token string `yaml:"token,omitempty"`

	// Channel receives new-escalation announcements.
	Channel string `yaml:"channel,omitempty"`
}

// NotifyConfig configures staff notifications on new escalations.
type NotifyConfig struct {
	Slack SlackNotifyConfig `yaml:"slack,omitempty"`
}

// SetDefaults applies default values.
func (c *NotifyConfig) SetDefaults() {
	if c.Slack.Enabled == nil {
		c.Slack.Enabled = BoolPtr(false)
	}
}

// Validate checks the notify configuration.
func (c *NotifyConfig) Validate() error {
	if BoolValue(c.Slack.Enabled, false) {
		if c.Slack.Token == "" {
			return fmt.Errorf("slack.token is required when slack notifications are enabled")
		}
		if c.Slack.Channel == "" {
			return fmt.Errorf("slack.channel is required when slack notifications are enabled")
		}
	}
	return nil
}
