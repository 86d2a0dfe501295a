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

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider loads config from a Consul KV key.
//
// Watching uses Consul blocking queries keyed on the entry's ModifyIndex.
type ConsulProvider struct {
	client *api.Client
	key    string
}

// NewConsulProvider creates a provider reading from the given KV key.
func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("consul endpoints are required")
	}
	if key == "" {
		return nil, fmt.Errorf("consul key is required")
	}

	cfg := api.DefaultConfig()
	cfg.Address = endpoints[0]

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulProvider{
		client: client,
		key:    key,
	}, nil
}

// Type returns TypeConsul.
func (p *ConsulProvider) Type() Type {
	return TypeConsul
}

// Load reads the KV entry.
func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	pair, _, err := p.client.KV().Get(p.key, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

// Watch runs blocking queries and signals when the entry's ModifyIndex moves.
func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)

		var lastIndex uint64
		for {
			if ctx.Err() != nil {
				return
			}

			opts := (&api.QueryOptions{
				WaitIndex: lastIndex,
				WaitTime:  5 * time.Minute,
			}).WithContext(ctx)

			pair, meta, err := p.client.KV().Get(p.key, opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("Consul watch error, retrying", "key", p.key, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
				continue
			}

			if pair == nil {
				slog.Warn("Consul key disappeared", "key", p.key)
				lastIndex = meta.LastIndex
				continue
			}

			if lastIndex != 0 && meta.LastIndex != lastIndex {
				select {
				case ch <- struct{}{}:
					slog.Debug("Consul config changed", "key", p.key)
				default:
				}
			}
			lastIndex = meta.LastIndex
		}
	}()

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

// Close is a no-op; the consul client holds no persistent connection.
func (p *ConsulProvider) Close() error {
	return nil
}

var _ Provider = (*ConsulProvider)(nil)
