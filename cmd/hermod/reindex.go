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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peerex/hermod/pkg/logger"
	"github.com/peerex/hermod/pkg/runtime"
)

// ReindexCmd rebuilds the knowledge index from the configured sources
// and exits. Unlike the freshness check at serve startup it always
// rebuilds, so it also picks up chunking or embedding changes.
type ReindexCmd struct{}

func (c *ReindexCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	fmt.Printf("Rebuilding knowledge index (collection %q)...\n", cfg.Knowledge.Collection)
	start := time.Now()

	if err := runtime.BuildIndex(ctx, cfg, logger.GetLogger()); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	fmt.Printf("Knowledge index rebuilt in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
