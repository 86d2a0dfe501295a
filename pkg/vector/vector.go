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

// Package vector provides the vector store layer for the support corpus:
// a qdrant backend with named dense and sparse vector families, an
// embedded chromem backend for development, and a pinecone backend.
//
// Collections are generational. Index builds write into a fresh physical
// collection and atomically repoint a serving alias, so queries never
// observe a half-built index.
package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/registry"
)

// ErrSparseUnsupported is returned for sparse queries against dense-only
// stores. Callers should check SupportsSparse before issuing them.
var ErrSparseUnsupported = errors.New("sparse vectors not supported by this store")

// Document is a point to be written into a collection.
type Document struct {
	// ID is the stable numeric point identifier derived from the
	// document key hash.
	ID uint64

	// Content is the chunk text, stored in the payload under "content".
	Content string

	// Dense is the embedding for the dense vector family.
	Dense []float32

	// SparseIndices and SparseValues form the sparse family entry.
	// Both empty means the document carries no sparse vector.
	SparseIndices []uint32
	SparseValues  []float32

	// Metadata is stored as the point payload alongside the content.
	Metadata map[string]any
}

// Result is a single similarity search hit.
type Result struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
	Score    float32
}

// Store is the persistence contract for embedded support documents.
//
// Implementations are safe for concurrent use. Only qdrant implements
// the sparse vector family; dense-only stores report that through
// SupportsSparse and fail sparse queries with ErrSparseUnsupported.
type Store interface {
	// Name returns the backend identifier.
	Name() string

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// SupportsSparse reports whether the store accepts sparse vectors.
	SupportsSparse() bool

	// CreateCollection creates a physical collection with a dense
	// vector family of the given dimension. Stores that support sparse
	// vectors add the sparse family as well; indexFields receive
	// keyword payload indexes where the backend has them.
	CreateCollection(ctx context.Context, collection string, denseDimension int, indexFields ...string) error

	// DeleteCollection drops a physical collection and its points.
	DeleteCollection(ctx context.Context, collection string) error

	// CollectionExists reports whether a physical collection exists.
	// Aliases are not resolved.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// ListCollections returns all physical collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// SwapAlias atomically repoints alias to collection, creating the
	// alias when it does not exist yet.
	SwapAlias(ctx context.Context, alias, collection string) error

	// ResolveAlias returns the physical collection an alias points to,
	// or the empty string when the alias does not exist.
	ResolveAlias(ctx context.Context, alias string) (string, error)

	// UpsertBatch writes a batch of documents into a collection.
	UpsertBatch(ctx context.Context, collection string, docs []Document) error

	// QueryDense runs a similarity query against the dense family.
	// Filter entries are matched as keyword payload conditions, AND-joined.
	QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// QuerySparse runs a dot-product query against the sparse family.
	QuerySparse(ctx context.Context, collection string, indices []uint32, values []float32, topK int, filter map[string]any) ([]Result, error)

	// Close releases underlying connections.
	Close() error
}

// NewFromConfig creates a Store from configuration.
func NewFromConfig(cfg *config.VectorStoreConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector store config is required")
	}

	switch cfg.Provider {
	case config.VectorProviderQdrant:
		return NewQdrantStore(cfg)
	case config.VectorProviderChromem:
		return NewChromemStore(cfg)
	case config.VectorProviderPinecone:
		return NewPineconeStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector provider: %s (supported: qdrant, chromem, pinecone)", cfg.Provider)
	}
}

// Registry holds named vector stores.
type Registry struct {
	*registry.BaseRegistry[Store]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Store](),
	}
}

func (r *Registry) RegisterStore(name string, store Store) error {
	if name == "" {
		return fmt.Errorf("store name cannot be empty")
	}
	if store == nil {
		return fmt.Errorf("vector store cannot be nil")
	}
	return r.Register(name, store)
}

// CreateFromConfig builds the store and registers it under name.
func (r *Registry) CreateFromConfig(name string, cfg *config.VectorStoreConfig) (Store, error) {
	store, err := NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	if err := r.RegisterStore(name, store); err != nil {
		return nil, fmt.Errorf("failed to register vector store: %w", err)
	}

	return store, nil
}

func (r *Registry) GetStore(name string) (Store, error) {
	store, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("vector store '%s' not found", name)
	}
	return store, nil
}

// Close closes every registered store and clears the registry.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		store, exists := r.Get(name)
		if !exists {
			continue
		}
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close vector store '%s': %w", name, err))
		}
	}
	r.Clear()
	return errors.Join(errs...)
}
