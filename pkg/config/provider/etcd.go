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

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider loads config from an etcd key.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

// NewEtcdProvider creates a provider reading from the given etcd key.
func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if key == "" {
		return nil, fmt.Errorf("etcd key is required")
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &EtcdProvider{
		client: client,
		key:    key,
	}, nil
}

// Type returns TypeEtcd.
func (p *EtcdProvider) Type() Type {
	return TypeEtcd
}

// Load reads the key.
func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

// Watch subscribes to key updates via etcd's native watch stream.
func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	watchCh := p.client.Watch(ctx, p.key)

	go func() {
		defer close(ch)

		for resp := range watchCh {
			if err := resp.Err(); err != nil {
				slog.Error("Etcd watch error", "key", p.key, "error", err)
				continue
			}
			if len(resp.Events) == 0 {
				continue
			}
			select {
			case ch <- struct{}{}:
				slog.Debug("Etcd config changed", "key", p.key)
			default:
			}
		}
	}()

	slog.Info("Watching etcd key", "key", p.key)
	return ch, nil
}

// Close shuts down the etcd client.
func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)
