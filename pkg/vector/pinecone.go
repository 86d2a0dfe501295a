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
	"sort"
	"strconv"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/peerex/hermod/pkg/config"
)

// PineconeStore implements Store against a managed Pinecone index.
//
// Pinecone has one fixed-dimension index per host and no collection
// management API suitable for generational rebuilds, so collections
// map onto namespaces within the configured index. Aliases are kept
// in process memory, as with the chromem backend.
//
// The backend is dense only; sparse queries fail with
// ErrSparseUnsupported.
type PineconeStore struct {
	client    *pinecone.Client
	indexHost string

	mu      sync.RWMutex
	aliases map[string]string
}

// NewPineconeStore creates a Pinecone-backed store.
func NewPineconeStore(cfg *config.VectorStoreConfig) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for pinecone")
	}
	if cfg.IndexHost == "" {
		return nil, fmt.Errorf("index host is required for pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	return &PineconeStore{
		client:    client,
		indexHost: cfg.IndexHost,
		aliases:   make(map[string]string),
	}, nil
}

// Name returns the backend identifier.
func (s *PineconeStore) Name() string {
	return "pinecone"
}

// Ping verifies the index host answers a stats request.
func (s *PineconeStore) Ping(ctx context.Context) error {
	_, err := s.indexStats(ctx)
	if err != nil {
		return fmt.Errorf("pinecone index unreachable: %w", err)
	}
	return nil
}

// SupportsSparse reports sparse vector support.
func (s *PineconeStore) SupportsSparse() bool {
	return false
}

// CreateCollection verifies the index dimension matches. Namespaces
// come into existence on first upsert, so there is nothing to create.
func (s *PineconeStore) CreateCollection(ctx context.Context, collection string, denseDimension int, indexFields ...string) error {
	stats, err := s.indexStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to describe pinecone index: %w", err)
	}

	if stats.Dimension != 0 && int(stats.Dimension) != denseDimension {
		return fmt.Errorf("pinecone index dimension %d does not match embedding dimension %d", stats.Dimension, denseDimension)
	}

	return nil
}

// DeleteCollection removes every vector in the namespace.
func (s *PineconeStore) DeleteCollection(ctx context.Context, collection string) error {
	conn, err := s.connect(collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("failed to delete namespace %q: %w", collection, err)
	}
	return nil
}

// CollectionExists reports whether the namespace holds any vectors.
func (s *PineconeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	stats, err := s.indexStats(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to describe pinecone index: %w", err)
	}

	_, exists := stats.Namespaces[collection]
	return exists, nil
}

// ListCollections returns all namespace names, sorted.
func (s *PineconeStore) ListCollections(ctx context.Context) ([]string, error) {
	stats, err := s.indexStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe pinecone index: %w", err)
	}

	names := make([]string, 0, len(stats.Namespaces))
	for name := range stats.Namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// SwapAlias points alias at the namespace. The namespace must already
// hold vectors.
func (s *PineconeStore) SwapAlias(ctx context.Context, alias, collection string) error {
	exists, err := s.CollectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("cannot alias %q to missing namespace %q", alias, collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = collection
	return nil
}

// ResolveAlias returns the namespace an alias points to, or "".
func (s *PineconeStore) ResolveAlias(ctx context.Context, alias string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliases[alias], nil
}

// UpsertBatch writes documents into the namespace. Sparse entries are
// ignored.
func (s *PineconeStore) UpsertBatch(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	conn, err := s.connect(collection)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(docs))
	for _, doc := range docs {
		metadata, err := buildPineconeMetadata(doc.Content, doc.Metadata)
		if err != nil {
			return err
		}

		vectors = append(vectors, &pinecone.Vector{
			Id:       strconv.FormatUint(doc.ID, 10),
			Values:   doc.Dense,
			Metadata: metadata,
		})
	}

	if _, err := conn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert %d vectors into %q: %w", len(vectors), collection, err)
	}

	return nil
}

// QueryDense runs a similarity query against the namespace.
func (s *PineconeStore) QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	conn, err := s.connect(s.resolve(collection))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("query against %q failed: %w", collection, err)
	}

	return convertPineconeMatches(resp.Matches), nil
}

// QuerySparse is not available on the pinecone backend.
func (s *PineconeStore) QuerySparse(ctx context.Context, collection string, indices []uint32, values []float32, topK int, filter map[string]any) ([]Result, error) {
	return nil, fmt.Errorf("pinecone: %w", ErrSparseUnsupported)
}

// Close releases nothing; connections are opened per operation.
func (s *PineconeStore) Close() error {
	return nil
}

// connect opens an index connection bound to the namespace.
func (s *PineconeStore) connect(namespace string) (*pinecone.IndexConnection, error) {
	conn, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      s.indexHost,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}
	return conn, nil
}

func (s *PineconeStore) indexStats(ctx context.Context) (*pinecone.DescribeIndexStatsResponse, error) {
	conn, err := s.connect("")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.DescribeIndexStats(ctx)
}

func (s *PineconeStore) resolve(collection string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if target, ok := s.aliases[collection]; ok {
		return target
	}
	return collection
}

// buildPineconeMetadata merges content into the metadata struct.
func buildPineconeMetadata(content string, metadata map[string]any) (*pinecone.Metadata, error) {
	merged := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		merged[k] = v
	}
	if content != "" {
		merged["content"] = content
	}
	if len(merged) == 0 {
		return nil, nil
	}

	converted, err := structpb.NewStruct(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to convert metadata: %w", err)
	}
	return converted, nil
}

// convertPineconeMatches converts Pinecone hits to Results.
func convertPineconeMatches(matches []*pinecone.ScoredVector) []Result {
	results := make([]Result, 0, len(matches))

	for _, match := range matches {
		if match.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			for k, v := range match.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}

		content := ""
		if contentValue, exists := metadata["content"]; exists {
			if contentStr, ok := contentValue.(string); ok {
				content = contentStr
			}
		}

		results = append(results, Result{
			ID:       match.Vector.Id,
			Content:  content,
			Vector:   match.Vector.Values,
			Metadata: metadata,
			Score:    match.Score,
		})
	}

	return results
}

// Ensure PineconeStore implements Store.
var _ Store = (*PineconeStore)(nil)
