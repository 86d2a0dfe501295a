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

// Package knowledge owns the support knowledge index: corpus loading,
// change detection, and the rebuild pipeline that writes dense and
// sparse vectors into the configured vector store behind a serving
// alias.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/embedder"
	"github.com/peerex/hermod/pkg/observability"
	"github.com/peerex/hermod/pkg/retry"
	"github.com/peerex/hermod/pkg/sparse"
	"github.com/peerex/hermod/pkg/utils"
	"github.com/peerex/hermod/pkg/vector"
)

// probeText is embedded once per rebuild to discover the dense dimension
// the model actually produces.
const probeText = "What are the steps to open a trade?"

// Manager owns the knowledge index lifecycle: it detects stale indexes,
// runs rebuilds into fresh physical collections, and hands the query
// path a tokenizer loaded with the vocabulary the serving index was
// built with.
type Manager struct {
	cfg      *config.KnowledgeConfig
	loader   *Loader
	store    vector.Store
	embedder embedder.Provider
	logger   *slog.Logger

	tokMu     sync.RWMutex
	tokenizer *sparse.Tokenizer

	mu       sync.Mutex
	inFlight *rebuildRun
}

// rebuildRun lets concurrent rebuild requests share the outcome of the
// run already in progress.
type rebuildRun struct {
	done chan struct{}
	err  error
}

// NewManager creates a Manager. The tokenizer starts empty; call
// LoadPersistedVocabulary to restore the vocabulary of a prior build
// before serving queries.
func NewManager(cfg *config.KnowledgeConfig, loader *Loader, store vector.Store, emb embedder.Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		loader:    loader,
		store:     store,
		embedder:  emb,
		logger:    logger,
		tokenizer: newTokenizer(cfg),
	}
}

func newTokenizer(cfg *config.KnowledgeConfig) *sparse.Tokenizer {
	return sparse.New(
		sparse.WithMaxInputSize(cfg.Tokenizer.MaxInputSize),
		sparse.WithMaxVocabularySize(cfg.Tokenizer.MaxVocabularySize),
	)
}

// Collection returns the serving alias queries should address.
func (m *Manager) Collection() string {
	return m.cfg.Collection
}

// Tokenizer returns the query tokenizer for the serving index. It is
// swapped atomically after each successful rebuild so queries always
// score against the vocabulary the index was built with.
func (m *Manager) Tokenizer() *sparse.Tokenizer {
	m.tokMu.RLock()
	defer m.tokMu.RUnlock()
	return m.tokenizer
}

func (m *Manager) setTokenizer(tok *sparse.Tokenizer) {
	m.tokMu.Lock()
	m.tokenizer = tok
	m.tokMu.Unlock()
}

// LoadPersistedVocabulary restores the vocabulary written by the last
// successful build. A missing file is not an error; the tokenizer stays
// empty and sparse queries return no terms until the first rebuild.
func (m *Manager) LoadPersistedVocabulary() error {
	data, err := os.ReadFile(m.cfg.VocabularyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read vocabulary: %w", err)
	}

	tok := newTokenizer(m.cfg)
	if err := tok.LoadVocabulary(data); err != nil {
		return fmt.Errorf("failed to load vocabulary: %w", err)
	}
	m.setTokenizer(tok)

	stats := tok.Statistics()
	m.logger.Info("Loaded BM25 vocabulary",
		"path", m.cfg.VocabularyPath,
		"terms", stats.VocabularySize,
		"documents", stats.NumDocuments)
	return nil
}

// RebuildNeeded reports whether the serving index is stale and why.
// The index is stale when metadata is missing, the serving collection is
// missing, any tracked file's (mtime, size) changed, or the set of
// tracked files changed.
func (m *Manager) RebuildNeeded(ctx context.Context) (bool, string, error) {
	meta, err := LoadMetadata(m.cfg.MetadataPath)
	if err != nil {
		return false, "", err
	}
	if meta == nil {
		return true, "metadata missing", nil
	}

	physical, err := m.store.ResolveAlias(ctx, m.cfg.Collection)
	if err != nil {
		return false, "", fmt.Errorf("failed to resolve collection alias: %w", err)
	}
	if physical == "" {
		return true, "collection missing", nil
	}
	exists, err := m.store.CollectionExists(ctx, physical)
	if err != nil {
		return false, "", fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return true, "collection missing", nil
	}

	current, err := m.loader.Fingerprints(ctx)
	if err != nil {
		return false, "", err
	}
	if len(current) != len(meta.Sources) {
		return true, "source set changed", nil
	}
	for key, print := range current {
		recorded, ok := meta.Sources[key]
		if !ok {
			return true, "source set changed", nil
		}
		if !recorded.Equal(print) {
			return true, fmt.Sprintf("source changed: %s", key), nil
		}
	}

	return false, "", nil
}

// EnsureFresh rebuilds the index when RebuildNeeded says so, otherwise
// does nothing.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	needed, reason, err := m.RebuildNeeded(ctx)
	if err != nil {
		return err
	}
	if !needed {
		m.logger.Debug("Knowledge index up to date", "collection", m.cfg.Collection)
		return nil
	}

	m.logger.Info("Knowledge index rebuild required",
		"collection", m.cfg.Collection,
		"reason", reason)
	return m.Rebuild(ctx)
}

// Rebuild runs the full index build. At most one rebuild runs at a
// time; callers arriving while one is in progress wait for it and share
// its result. Queries keep hitting the serving alias throughout, which
// serves the prior build until the swap.
func (m *Manager) Rebuild(ctx context.Context) error {
	m.mu.Lock()
	if run := m.inFlight; run != nil {
		m.mu.Unlock()
		select {
		case <-run.done:
			return run.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	run := &rebuildRun{done: make(chan struct{})}
	m.inFlight = run
	m.mu.Unlock()

	run.err = m.rebuild(ctx)

	m.mu.Lock()
	m.inFlight = nil
	m.mu.Unlock()
	close(run.done)

	return run.err
}

func (m *Manager) rebuild(ctx context.Context) error {
	start := time.Now()
	metrics := observability.GetGlobalMetrics()

	err := m.buildIndex(ctx, start)
	if err != nil {
		metrics.RecordIndexRebuild(ctx, time.Since(start), 0, err)
		return err
	}
	return nil
}

func (m *Manager) buildIndex(ctx context.Context, start time.Time) error {
	metrics := observability.GetGlobalMetrics()

	if err := m.waitReachable(ctx); err != nil {
		return fmt.Errorf("vector store unreachable: %w", err)
	}

	// Fingerprint before reading so edits that land mid-build show up
	// as stale on the next check instead of being silently missed.
	prints, err := m.loader.Fingerprints(ctx)
	if err != nil {
		return err
	}

	docs, err := m.loader.Load(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("Loaded knowledge corpus",
		"documents", len(docs),
		"sources", len(m.cfg.Sources))

	tok := newTokenizer(m.cfg)
	docs = m.ingestCorpus(tok, docs)

	vocabData, err := tok.ExportVocabulary()
	if err != nil {
		return fmt.Errorf("failed to export vocabulary: %w", err)
	}
	if err := utils.EnsureDir(filepath.Dir(m.cfg.VocabularyPath)); err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(m.cfg.VocabularyPath, vocabData, 0o644); err != nil {
		return fmt.Errorf("failed to persist vocabulary: %w", err)
	}

	probe, err := m.embedder.Embed(ctx, probeText)
	if err != nil {
		return fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	dimension := len(probe)
	if dimension == 0 {
		return fmt.Errorf("embedder %s returned an empty probe vector", m.embedder.ModelName())
	}

	physical := fmt.Sprintf("%s__%d", m.cfg.Collection, time.Now().UnixNano())
	if err := m.store.CreateCollection(ctx, physical, dimension, "protocol", "type"); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", physical, err)
	}

	if err := m.upsertAll(ctx, physical, tok, docs); err != nil {
		if dropErr := m.store.DeleteCollection(ctx, physical); dropErr != nil {
			m.logger.Warn("Failed to drop partially built collection",
				"collection", physical,
				"error", dropErr)
		}
		return err
	}

	previous, err := m.store.ResolveAlias(ctx, m.cfg.Collection)
	if err != nil {
		return fmt.Errorf("failed to resolve collection alias: %w", err)
	}
	if err := m.store.SwapAlias(ctx, m.cfg.Collection, physical); err != nil {
		return fmt.Errorf("failed to swap collection alias: %w", err)
	}
	if previous != "" && previous != physical {
		if err := m.store.DeleteCollection(ctx, previous); err != nil {
			m.logger.Warn("Failed to drop previous collection",
				"collection", previous,
				"error", err)
		}
	}

	m.setTokenizer(tok)

	// The vocabulary was rewritten above; record its fresh fingerprint
	// so the next check does not flag our own write as a change.
	if info, err := os.Stat(m.cfg.VocabularyPath); err == nil {
		prints[vocabularySourceKey] = SourceFingerprint{
			Path:  m.cfg.VocabularyPath,
			Mtime: info.ModTime(),
			Size:  info.Size(),
		}
	}

	meta := &IndexMetadata{
		LastBuild: time.Now().UTC(),
		Sources:   prints,
		Qdrant: StoreMetadata{
			Collection:          physical,
			PointsUpserted:      len(docs),
			EmbeddingModel:      m.embedder.ModelName(),
			EmbeddingDimensions: dimension,
		},
	}
	if err := utils.EnsureDir(filepath.Dir(m.cfg.MetadataPath)); err != nil {
		return err
	}
	if err := SaveMetadata(m.cfg.MetadataPath, meta); err != nil {
		return err
	}

	elapsed := time.Since(start)
	metrics.RecordIndexRebuild(ctx, elapsed, len(docs), nil)
	m.logger.Info("Knowledge index rebuilt",
		"collection", physical,
		"alias", m.cfg.Collection,
		"points", len(docs),
		"dimension", dimension,
		"duration", elapsed)
	return nil
}

// waitReachable pings the vector store with exponential backoff before a
// rebuild so a store that is still starting up does not fail the build.
func (m *Manager) waitReachable(ctx context.Context) error {
	reach := m.cfg.Reachability
	r := retry.New(retry.Config{
		MaxRetries:   reach.MaxAttempts - 1,
		BaseDelay:    reach.BaseDelay,
		MaxDelay:     reach.MaxDelay,
		JitterFactor: 0.1,
	})
	return r.Do(ctx, "vector store ping", func() error {
		return m.store.Ping(ctx)
	})
}

// ingestCorpus feeds every document through the fresh tokenizer to build
// the vocabulary and corpus statistics. Documents the tokenizer rejects
// are dropped from the build with a warning.
func (m *Manager) ingestCorpus(tok *sparse.Tokenizer, docs []Document) []Document {
	kept := docs[:0]
	for i := range docs {
		if _, _, err := tok.TokenizeDocument(docs[i].Content); err != nil {
			m.logger.Warn("Dropping document from index",
				"title", docs[i].Title,
				"section", docs[i].Section,
				"error", err)
			continue
		}
		kept = append(kept, docs[i])
	}

	if stats := tok.Statistics(); stats.VocabularyAtLimit {
		m.logger.Warn("BM25 vocabulary reached its size limit; new terms were dropped",
			"limit", m.cfg.Tokenizer.MaxVocabularySize)
	}
	return kept
}

// upsertAll embeds and writes documents in batches. Sparse vectors come
// from the frozen tokenizer so every point is scored against the final
// corpus statistics.
func (m *Manager) upsertAll(ctx context.Context, collection string, tok *sparse.Tokenizer, docs []Document) error {
	batchSize := m.cfg.BatchSize
	sparseOK := m.store.SupportsSparse()

	for begin := 0; begin < len(docs); begin += batchSize {
		end := begin + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		chunk := docs[begin:end]

		texts := make([]string, len(chunk))
		for i := range chunk {
			texts[i] = chunk[i].Content
		}
		vectors, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed batch at %d: %w", begin, err)
		}
		if len(vectors) != len(chunk) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(chunk))
		}

		points := make([]vector.Document, 0, len(chunk))
		for i := range chunk {
			doc := &chunk[i]
			point := vector.Document{
				ID:       doc.PointID(),
				Content:  doc.Content,
				Dense:    vectors[i],
				Metadata: doc.Payload(),
			}
			if sparseOK {
				indices, values, err := tok.ScoreDocument(doc.Content)
				if err != nil {
					return fmt.Errorf("failed to score document %q: %w", doc.Title, err)
				}
				point.SparseIndices = indices
				point.SparseValues = values
			}
			points = append(points, point)
		}

		if err := m.store.UpsertBatch(ctx, collection, points); err != nil {
			return fmt.Errorf("failed to upsert batch at %d: %w", begin, err)
		}
	}
	return nil
}
