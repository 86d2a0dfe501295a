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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/peerex/hermod/pkg/config"
)

// ChromemStore implements Store using chromem-go for embedded storage.
//
// This is the zero-config backend for development and tests: pure Go,
// no external services, optional directory persistence. It is dense
// only; sparse queries fail with ErrSparseUnsupported and the
// retriever falls back to a single dense leg.
//
// Aliases are kept in process memory only. After a restart the serving
// alias is gone, which makes the next freshness check rebuild the
// index into a new collection.
type ChromemStore struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	aliases     map[string]string

	// embeddingFunc rejects calls; all vectors arrive precomputed.
	embeddingFunc chromem.EmbeddingFunc
}

// NewChromemStore opens an embedded chromem database.
func NewChromemStore(cfg *config.VectorStoreConfig) (*ChromemStore, error) {
	var db *chromem.DB
	var err error

	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem store at %s: %w", cfg.Path, err)
		}
		slog.Info("Opened persistent chromem vector store", "path", cfg.Path)
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory chromem vector store")
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("chromem store received text without a precomputed embedding")
	}

	return &ChromemStore{
		db:            db,
		collections:   make(map[string]*chromem.Collection),
		aliases:       make(map[string]string),
		embeddingFunc: identityEmbed,
	}, nil
}

// Name returns the backend identifier.
func (s *ChromemStore) Name() string {
	return "chromem"
}

// Ping always succeeds; the store is in-process.
func (s *ChromemStore) Ping(ctx context.Context) error {
	return nil
}

// SupportsSparse reports sparse vector support.
func (s *ChromemStore) SupportsSparse() bool {
	return false
}

// CreateCollection creates the collection. Chromem has no vector
// dimension declaration and no payload indexes, so denseDimension and
// indexFields are accepted and ignored.
func (s *ChromemStore) CreateCollection(ctx context.Context, collection string, denseDimension int, indexFields ...string) error {
	_, err := s.getCollection(collection)
	return err
}

// DeleteCollection removes a collection, its cached handle, and any
// alias that pointed at it.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection, err)
	}

	delete(s.collections, collection)
	for alias, target := range s.aliases {
		if target == collection {
			delete(s.aliases, alias)
		}
	}

	return nil
}

// CollectionExists reports whether a physical collection exists.
func (s *ChromemStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	_, exists := s.db.ListCollections()[collection]
	return exists, nil
}

// ListCollections returns all physical collection names, sorted.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	all := s.db.ListCollections()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SwapAlias points alias at collection. The target must exist.
func (s *ChromemStore) SwapAlias(ctx context.Context, alias, collection string) error {
	if _, exists := s.db.ListCollections()[collection]; !exists {
		return fmt.Errorf("cannot alias %q to missing collection %q", alias, collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = collection
	return nil
}

// ResolveAlias returns the collection an alias points to, or "".
func (s *ChromemStore) ResolveAlias(ctx context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliases[alias], nil
}

// UpsertBatch writes documents with precomputed dense embeddings.
// Sparse entries are ignored.
func (s *ChromemStore) UpsertBatch(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	chromemDocs := make([]chromem.Document, 0, len(docs))
	for _, doc := range docs {
		metadata := make(map[string]string, len(doc.Metadata))
		for k, v := range doc.Metadata {
			metadata[k] = fmt.Sprint(v)
		}

		chromemDocs = append(chromemDocs, chromem.Document{
			ID:        strconv.FormatUint(doc.ID, 10),
			Content:   doc.Content,
			Metadata:  metadata,
			Embedding: doc.Dense,
		})
	}

	if err := col.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert %d documents into %q: %w", len(chromemDocs), collection, err)
	}

	return nil
}

// QueryDense runs a cosine similarity query.
func (s *ChromemStore) QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the document count.
	if count := col.Count(); topK > count {
		topK = count
	}
	if topK <= 0 {
		return []Result{}, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}

	hits, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query against %q failed: %w", collection, err)
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		metadata := make(map[string]any, len(hit.Metadata))
		for k, v := range hit.Metadata {
			metadata[k] = v
		}

		results = append(results, Result{
			ID:       hit.ID,
			Content:  hit.Content,
			Metadata: metadata,
			Score:    hit.Similarity,
		})
	}

	return results, nil
}

// QuerySparse is not available on the embedded backend.
func (s *ChromemStore) QuerySparse(ctx context.Context, collection string, indices []uint32, values []float32, topK int, filter map[string]any) ([]Result, error) {
	return nil, fmt.Errorf("chromem: %w", ErrSparseUnsupported)
}

// Close releases nothing; persistent writes happen incrementally.
func (s *ChromemStore) Close() error {
	return nil
}

// getCollection resolves aliases and returns a cached handle, creating
// the collection on first use.
func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if target, ok := s.aliases[name]; ok {
		name = target
	}
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}

	s.collections[name] = col
	return col, nil
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
