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

// DedupeConfig configures the gateway idempotency cache. A repeated
// (channel_id, message_id) within the TTL is dropped unprocessed.
type DedupeConfig struct {
	// Backend is "memory" or "redis". Redis survives restarts and is
	// shared across replicas.
	// Default: memory
	Backend string `yaml:"backend,omitempty"`

	// TTL is how long a seen message id is remembered.
	// Default: 1h
	TTL time.Duration `yaml:"ttl,omitempty"`

	// Prefix namespaces Redis keys.
	// Default: "hermod:seen:"
	Prefix string `yaml:"prefix,omitempty"`
}

// SetDefaults applies default values.
func (c *DedupeConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.Prefix == "" {
		c.Prefix = "hermod:seen:"
	}
}

// Validate checks the dedupe configuration.
func (c *DedupeConfig) Validate() error {
	if c.Backend != "" && c.Backend != "memory" && c.Backend != "redis" {
		return fmt.Errorf("invalid backend %q (valid: memory, redis)", c.Backend)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	return nil
}
