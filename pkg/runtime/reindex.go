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

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/embedder"
	"github.com/peerex/hermod/pkg/faq"
	"github.com/peerex/hermod/pkg/knowledge"
	"github.com/peerex/hermod/pkg/vector"
)

// BuildIndex assembles only the indexing stack from cfg and runs one
// full knowledge rebuild, regardless of freshness. It backs the
// `hermod reindex` command and is useful after changing chunking or
// embedding settings, which file watching cannot detect.
func BuildIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (err error) {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Knowledge.VectorStore == "" {
		return fmt.Errorf("knowledge.vector_store is not configured")
	}
	if cfg.Knowledge.Embedder == "" {
		return fmt.Errorf("knowledge.embedder is not configured")
	}

	store, err := vector.NewFromConfig(cfg.VectorStores[cfg.Knowledge.VectorStore])
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	defer func() {
		err = errors.Join(err, store.Close())
	}()

	emb, err := embedder.NewFromConfig(cfg.Embedders[cfg.Knowledge.Embedder])
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	defer func() {
		err = errors.Join(err, emb.Close())
	}()

	faqs, err := faq.NewStore(&cfg.FAQ)
	if err != nil {
		return fmt.Errorf("faq store: %w", err)
	}

	loader := knowledge.NewLoader(&cfg.Knowledge, faqs, logger)
	manager := knowledge.NewManager(&cfg.Knowledge, loader, store, emb, logger)

	return manager.Rebuild(ctx)
}
