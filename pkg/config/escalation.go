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

// EscalationMaintenanceConfig configures the periodic maintenance loop.
type EscalationMaintenanceConfig struct {
	// Enabled runs the loop.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Interval between maintenance passes.
	// Default: 5m
	Interval time.Duration `yaml:"interval,omitempty"`

	// ResetStale releases claims older than the claim TTL.
	// Default: true
	ResetStale *bool `yaml:"reset_stale,omitempty"`

	// PurgeAfter deletes closed escalations older than this age.
	// Zero disables purging.
	// Default: 0 (disabled)
	PurgeAfter time.Duration `yaml:"purge_after,omitempty"`
}

// EscalationConfig configures the escalation engine.
type EscalationConfig struct {
	// ClaimTTL is how long a staff claim stays exclusive.
	// Default: 30m
	ClaimTTL time.Duration `yaml:"claim_ttl,omitempty"`

	// CloseOnRespond closes the escalation immediately after a
	// successful staff response.
	// Default: false
	CloseOnRespond bool `yaml:"close_on_respond,omitempty"`

	// Maintenance configures the periodic maintenance loop.
	Maintenance EscalationMaintenanceConfig `yaml:"maintenance,omitempty"`
}

// SetDefaults applies default values.
func (c *EscalationConfig) SetDefaults() {
	if c.ClaimTTL == 0 {
		c.ClaimTTL = 30 * time.Minute
	}
	if c.Maintenance.Enabled == nil {
		c.Maintenance.Enabled = BoolPtr(true)
	}
	if c.Maintenance.Interval == 0 {
		c.Maintenance.Interval = 5 * time.Minute
	}
	if c.Maintenance.ResetStale == nil {
		c.Maintenance.ResetStale = BoolPtr(true)
	}
}

// Validate checks the escalation configuration.
func (c *EscalationConfig) Validate() error {
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("claim_ttl must be positive")
	}
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be positive")
	}
	if c.Maintenance.PurgeAfter < 0 {
		return fmt.Errorf("maintenance.purge_after must be non-negative")
	}
	return nil
}
