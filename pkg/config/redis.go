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

// RedisConfig configures the Redis connection used by the idempotency
// cache when dedupe.backend is "redis".
type RedisConfig struct {
	// Addr is host:port.
	// Default: "localhost:6379"
	Addr string `yaml:"addr,omitempty"`

	// Password for AUTH. Supports ${VAR} expansion.
	Password string `yaml:"password,omitempty"`

	// DB selects the logical database.
	// Default: 0
	DB int `yaml:"db,omitempty"`

	// PoolSize caps concurrent connections.
	// Default: 10
	PoolSize int `yaml:"pool_size,omitempty"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty"`

	// ReadTimeout bounds a single command read.
	// Default: 3s
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *RedisConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
}

// Validate checks the Redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be non-negative")
	}
	return nil
}
