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

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider loads config from a ZooKeeper node.
//
// Watching re-arms a GetW watch after every event; ZooKeeper watches are
// one-shot.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

// NewZookeeperProvider creates a provider reading from the given node path.
func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	if path == "" {
		return nil, fmt.Errorf("zookeeper path is required")
	}

	conn, _, err := zk.Connect(endpoints, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	return &ZookeeperProvider{
		conn: conn,
		path: path,
	}, nil
}

// Type returns TypeZookeeper.
func (p *ZookeeperProvider) Type() Type {
	return TypeZookeeper
}

// Load reads the node data.
func (p *ZookeeperProvider) Load(ctx context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch re-arms one-shot node watches and signals on data changes.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	go func() {
		defer close(ch)

		for {
			if ctx.Err() != nil {
				return
			}

			_, _, eventCh, err := p.conn.GetW(p.path)
			if err != nil {
				slog.Error("Zookeeper watch error, retrying", "path", p.path, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				switch event.Type {
				case zk.EventNodeDataChanged:
					select {
					case ch <- struct{}{}:
						slog.Debug("Zookeeper config changed", "path", p.path)
					default:
					}
				case zk.EventNodeDeleted:
					slog.Warn("Zookeeper node was deleted", "path", p.path)
					return
				case zk.EventNotWatching:
					slog.Warn("Zookeeper watch lost", "path", p.path)
					return
				}
			}
		}
	}()

	slog.Info("Watching zookeeper path", "path", p.path)
	return ch, nil
}

// Close disconnects from ZooKeeper.
func (p *ZookeeperProvider) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)
