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
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/peerex/hermod/pkg/config"
)

// Named vector families present in every corpus collection.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// QdrantStore implements Store against a Qdrant server over gRPC.
//
// Collections carry two named vector families: "dense" (cosine) for
// embeddings and "sparse" for BM25 term weights. Alias repoints use
// Qdrant's atomic alias update, so the serving alias always resolves
// to a fully built collection.
type QdrantStore struct {
	client  *qdrant.Client
	timeout time.Duration
}

// NewQdrantStore connects to a Qdrant server.
func NewQdrantStore(cfg *config.VectorStoreConfig) (*QdrantStore, error) {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334 // Qdrant gRPC port
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w\n"+
			"  TIP: Troubleshooting:\n"+
			"     - Ensure Qdrant is running\n"+
			"     - Verify host and port configuration (gRPC port, default 6334)\n"+
			"     - For Docker: docker run -p 6333:6333 -p 6334:6334 qdrant/qdrant",
			host, port, err)
	}

	return &QdrantStore{
		client:  client,
		timeout: cfg.Timeout,
	}, nil
}

// Name returns the backend identifier.
func (s *QdrantStore) Name() string {
	return "qdrant"
}

// Ping verifies the server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// SupportsSparse reports sparse vector support.
func (s *QdrantStore) SupportsSparse() bool {
	return true
}

// CreateCollection creates a collection with the dense and sparse
// families plus keyword payload indexes on indexFields.
func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, denseDimension int, indexFields ...string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(denseDimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", collection, err)
	}

	for _, field := range indexFields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("failed to create payload index on %q: %w", field, err)
		}
	}

	return nil
}

// DeleteCollection drops a physical collection.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection, err)
	}
	return nil
}

// CollectionExists reports whether a physical collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// ListCollections returns all physical collection names.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

// SwapAlias atomically repoints alias to collection. Deleting the old
// target and creating the new one happen in a single alias update, so
// there is no window where the alias is missing.
func (s *QdrantStore) SwapAlias(ctx context.Context, alias, collection string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	current, err := s.resolveAlias(ctx, alias)
	if err != nil {
		return err
	}

	actions := make([]*qdrant.AliasOperations, 0, 2)
	if current != "" {
		actions = append(actions, &qdrant.AliasOperations{
			Action: &qdrant.AliasOperations_DeleteAlias{
				DeleteAlias: &qdrant.DeleteAlias{AliasName: alias},
			},
		})
	}
	actions = append(actions, &qdrant.AliasOperations{
		Action: &qdrant.AliasOperations_CreateAlias{
			CreateAlias: &qdrant.CreateAlias{
				CollectionName: collection,
				AliasName:      alias,
			},
		},
	})

	if err := s.client.UpdateAliases(ctx, actions); err != nil {
		return fmt.Errorf("failed to repoint alias %q to %q: %w", alias, collection, err)
	}

	return nil
}

// ResolveAlias returns the collection an alias points to, or "".
func (s *QdrantStore) ResolveAlias(ctx context.Context, alias string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.resolveAlias(ctx, alias)
}

func (s *QdrantStore) resolveAlias(ctx context.Context, alias string) (string, error) {
	aliases, err := s.client.ListAliases(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list aliases: %w", err)
	}
	for _, a := range aliases {
		if a.GetAliasName() == alias {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

// UpsertBatch writes documents as points with named vectors. Wait is
// set so the batch is applied before the caller moves on; the rebuild
// swaps the alias right after the final batch.
func (s *QdrantStore) UpsertBatch(ctx context.Context, collection string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload, err := buildQdrantPayload(doc.Content, doc.Metadata)
		if err != nil {
			return err
		}

		vectors := map[string]*qdrant.Vector{
			denseVectorName: qdrant.NewVector(doc.Dense...),
		}
		if len(doc.SparseIndices) > 0 {
			vectors[sparseVectorName] = qdrant.NewVectorSparse(doc.SparseIndices, doc.SparseValues)
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(doc.ID),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %q: %w", len(points), collection, err)
	}

	return nil
}

// QueryDense runs a cosine similarity query against the dense family.
func (s *QdrantStore) QueryDense(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	return s.query(ctx, collection, qdrant.NewQuery(vector...), denseVectorName, topK, filter)
}

// QuerySparse runs a dot-product query against the sparse family.
func (s *QdrantStore) QuerySparse(ctx context.Context, collection string, indices []uint32, values []float32, topK int, filter map[string]any) ([]Result, error) {
	return s.query(ctx, collection, qdrant.NewQuerySparse(indices, values), sparseVectorName, topK, filter)
}

func (s *QdrantStore) query(ctx context.Context, collection string, query *qdrant.Query, using string, topK int, filter map[string]any) ([]Result, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          query,
		Using:          qdrant.PtrOf(using),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		req.Filter = buildQdrantFilter(filter)
	}

	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query against %q failed: %w", collection, err)
	}

	return convertScoredPoints(points), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func (s *QdrantStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// buildQdrantPayload converts content and metadata into a point payload.
// The content lives under the "content" key next to the metadata.
func buildQdrantPayload(content string, metadata map[string]any) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	for key, value := range metadata {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
		}
		payload[key] = val
	}

	if content != "" {
		val, err := qdrant.NewValue(content)
		if err != nil {
			return nil, fmt.Errorf("failed to convert content: %w", err)
		}
		payload["content"] = val
	}

	return payload, nil
}

// buildQdrantFilter converts a filter map to AND-joined keyword conditions.
func buildQdrantFilter(filter map[string]any) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(filter))

	for key, value := range filter {
		val, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}

		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: val.GetStringValue(),
						},
					},
				},
			},
		})
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

// convertScoredPoints converts Qdrant hits to Results.
func convertScoredPoints(points []*qdrant.ScoredPoint) []Result {
	results := make([]Result, 0, len(points))

	for _, point := range points {
		var id string
		if point.Id != nil && point.Id.PointIdOptions != nil {
			switch idType := point.Id.PointIdOptions.(type) {
			case *qdrant.PointId_Uuid:
				id = idType.Uuid
			case *qdrant.PointId_Num:
				id = strconv.FormatUint(idType.Num, 10)
			}
		}

		metadata := decodeQdrantPayload(point.Payload)

		content := ""
		if contentValue, exists := metadata["content"]; exists {
			if contentStr, ok := contentValue.(string); ok {
				content = contentStr
			}
		}

		results = append(results, Result{
			ID:       id,
			Content:  content,
			Metadata: metadata,
			Score:    point.Score,
		})
	}

	return results
}

func decodeQdrantPayload(payload map[string]*qdrant.Value) map[string]any {
	metadata := make(map[string]any, len(payload))
	for key, value := range payload {
		switch v := value.Kind.(type) {
		case *qdrant.Value_StringValue:
			metadata[key] = v.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[key] = v.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[key] = v.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[key] = v.BoolValue
		case *qdrant.Value_ListValue:
			if v.ListValue != nil {
				list := make([]any, len(v.ListValue.Values))
				for i, item := range v.ListValue.Values {
					switch itemVal := item.Kind.(type) {
					case *qdrant.Value_StringValue:
						list[i] = itemVal.StringValue
					case *qdrant.Value_IntegerValue:
						list[i] = itemVal.IntegerValue
					case *qdrant.Value_DoubleValue:
						list[i] = itemVal.DoubleValue
					case *qdrant.Value_BoolValue:
						list[i] = itemVal.BoolValue
					default:
						list[i] = item
					}
				}
				metadata[key] = list
			}
		default:
			metadata[key] = value
		}
	}
	return metadata
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
