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

// Package dedupe implements the gateway idempotency cache. Channels
// redeliver messages (Matrix replays sync batches after reconnects, web
// clients retry POSTs), so the gateway drops any (channel, message id)
// pair it has answered within the TTL.
package dedupe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/peerex/hermod/pkg/config"
)

// sweepThreshold bounds the memory backend: a full expiry sweep runs
// whenever the map grows past it.
const sweepThreshold = 65536

// Cache remembers which messages were already processed.
type Cache interface {
	// Seen marks (channelID, messageID) as processed and reports whether
	// it had been marked before within the TTL. Backend failures fail
	// open: the message is treated as unseen.
	Seen(ctx context.Context, channelID, messageID string) bool

	Close() error
}

// New builds the cache selected by cfg.Backend.
func New(cfg *config.DedupeConfig, redisCfg *config.RedisConfig, logger *slog.Logger) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(cfg.TTL), nil
	case "redis":
		if redisCfg == nil {
			return nil, fmt.Errorf("dedupe backend is redis but no redis configuration is present")
		}
		return NewRedis(redisCfg, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown dedupe backend %q", cfg.Backend)
	}
}

// Memory is an in-process TTL cache. Entries expire lazily; a full
// sweep runs when the map grows past sweepThreshold.
type Memory struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

func (m *Memory) Seen(ctx context.Context, channelID, messageID string) bool {
	key := channelID + "\x00" + messageID
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, ok := m.entries[key]; ok && now.Before(expiry) {
		return true
	}
	m.entries[key] = now.Add(m.ttl)

	if len(m.entries) > sweepThreshold {
		for k, expiry := range m.entries {
			if now.After(expiry) {
				delete(m.entries, k)
			}
		}
	}
	return false
}

func (m *Memory) Close() error {
	return nil
}

// Redis backs the cache with a shared Redis instance so duplicates are
// caught across replicas and restarts. SET NX with expiry makes the
// check-and-mark atomic.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedis(redisCfg *config.RedisConfig, cfg *config.DedupeConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:        redisCfg.Addr,
		Password:    redisCfg.Password,
		DB:          redisCfg.DB,
		PoolSize:    redisCfg.PoolSize,
		DialTimeout: redisCfg.DialTimeout,
		ReadTimeout: redisCfg.ReadTimeout,
	})
	return &Redis{
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		logger: logger,
	}
}

func (r *Redis) Seen(ctx context.Context, channelID, messageID string) bool {
	key := r.prefix + channelID + ":" + messageID

	set, err := r.client.SetNX(ctx, key, 1, r.ttl).Result()
	if err != nil {
		r.logger.Warn("Dedupe check failed, treating message as unseen", "key", key, "error", err)
		return false
	}
	return !set
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var (
	_ Cache = (*Memory)(nil)
	_ Cache = (*Redis)(nil)
)
