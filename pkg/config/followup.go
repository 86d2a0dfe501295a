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

// MinFollowupTTL is the floor for the pending-clarification window.
const MinFollowupTTL = 30 * time.Second

// FollowupConfig configures the feedback follow-up coordinator.
type FollowupConfig struct {
	// Enabled turns the coordinator on.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// TTL is how long a clarification request stays pending.
	// Floor 30s.
	// Default: 10m
	TTL time.Duration `yaml:"ttl,omitempty"`

	// AnalyzerLLM references a provider from the llms section used to
	// tag clarification text with issue categories. Empty disables
	// analysis (clarifications are stored verbatim).
	AnalyzerLLM string `yaml:"analyzer_llm,omitempty"`
}

// SetDefaults applies default values.
func (c *FollowupConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.TTL == 0 {
		c.TTL = 10 * time.Minute
	}
	if c.TTL < MinFollowupTTL {
		c.TTL = MinFollowupTTL
	}
}

// Validate checks the follow-up configuration.
func (c *FollowupConfig) Validate() error {
	if c.TTL < MinFollowupTTL {
		return fmt.Errorf("ttl must be at least %s", MinFollowupTTL)
	}
	return nil
}
