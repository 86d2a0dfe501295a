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
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerex/hermod/pkg/config"
)

func newTestChromem(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(&config.VectorStoreConfig{
		Provider: config.VectorProviderChromem,
	})
	require.NoError(t, err)
	return store
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.VectorStoreConfig
		wantErr  string
		wantName string
		sparse   bool
	}{
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: "config is required",
		},
		{
			name: "chromem in memory",
			cfg: &config.VectorStoreConfig{
				Provider: config.VectorProviderChromem,
			},
			wantName: "chromem",
			sparse:   false,
		},
		{
			name: "qdrant",
			cfg: &config.VectorStoreConfig{
				Provider: config.VectorProviderQdrant,
				Host:     "localhost",
				Port:     6334,
			},
			wantName: "qdrant",
			sparse:   true,
		},
		{
			name: "pinecone",
			cfg: &config.VectorStoreConfig{
				Provider:  config.VectorProviderPinecone,
				APIKey:    "pc-test",
				IndexHost: "https://support-abc123.svc.us-east-1.pinecone.io",
			},
			wantName: "pinecone",
			sparse:   false,
		},
		{
			name: "pinecone without api key",
			cfg: &config.VectorStoreConfig{
				Provider:  config.VectorProviderPinecone,
				IndexHost: "https://support-abc123.svc.us-east-1.pinecone.io",
			},
			wantErr: "API key is required",
		},
		{
			name: "unsupported provider",
			cfg: &config.VectorStoreConfig{
				Provider: "weaviate",
			},
			wantErr: "unsupported vector provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewFromConfig(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantName, store.Name())
			assert.Equal(t, tt.sparse, store.SupportsSparse())
			assert.NoError(t, store.Close())
		})
	}
}

func TestChromemUpsertAndQueryDense(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	require.NoError(t, store.CreateCollection(ctx, "support", 3))

	docs := []Document{
		{
			ID:      1,
			Content: "How to withdraw bitcoin",
			Dense:   []float32{1, 0, 0},
			Metadata: map[string]any{
				"protocol": "legacy",
				"type":     "doc",
			},
		},
		{
			ID:      2,
			Content: "Reputation and feedback scores",
			Dense:   []float32{0, 1, 0},
			Metadata: map[string]any{
				"protocol": "new",
				"type":     "doc",
			},
		},
		{
			ID:      3,
			Content: "Withdrawal fee schedule",
			Dense:   []float32{0.9, 0.1, 0},
			Metadata: map[string]any{
				"protocol": "new",
				"type":     "faq",
			},
		},
	}
	require.NoError(t, store.UpsertBatch(ctx, "support", docs))

	results, err := store.QueryDense(ctx, "support", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "How to withdraw bitcoin", results[0].Content)
	assert.Equal(t, "legacy", results[0].Metadata["protocol"])
	assert.InDelta(t, 1.0, results[0].Score, 0.01)

	assert.Equal(t, "3", results[1].ID)
	assert.Greater(t, results[0].Score, results[1].Score)

	filtered, err := store.QueryDense(ctx, "support", []float32{1, 0, 0}, 3, map[string]any{"protocol": "new"})
	require.NoError(t, err)
	require.Len(t, filtered, 2)
	assert.Equal(t, "3", filtered[0].ID)
	assert.Equal(t, "2", filtered[1].ID)
}

func TestChromemQuerySparseUnsupported(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	_, err := store.QuerySparse(ctx, "support", []uint32{1, 2}, []float32{0.5, 0.5}, 5, nil)
	require.ErrorIs(t, err, ErrSparseUnsupported)
	assert.False(t, store.SupportsSparse())
}

func TestChromemTopKClampedToCollectionSize(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	require.NoError(t, store.UpsertBatch(ctx, "small", []Document{
		{ID: 1, Content: "a", Dense: []float32{1, 0}},
		{ID: 2, Content: "b", Dense: []float32{0, 1}},
	}))

	results, err := store.QueryDense(ctx, "small", []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.NoError(t, store.CreateCollection(ctx, "empty", 2))
	results, err = store.QueryDense(ctx, "empty", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemAliasLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	require.NoError(t, store.UpsertBatch(ctx, "kb__100", []Document{
		{ID: 1, Content: "old build", Dense: []float32{1, 0}},
	}))

	err := store.SwapAlias(ctx, "kb", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	require.NoError(t, store.SwapAlias(ctx, "kb", "kb__100"))

	target, err := store.ResolveAlias(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, "kb__100", target)

	results, err := store.QueryDense(ctx, "kb", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "old build", results[0].Content)

	// A new generation takes over atomically from the caller's view.
	require.NoError(t, store.UpsertBatch(ctx, "kb__200", []Document{
		{ID: 2, Content: "new build", Dense: []float32{1, 0}},
	}))
	require.NoError(t, store.SwapAlias(ctx, "kb", "kb__200"))

	results, err = store.QueryDense(ctx, "kb", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new build", results[0].Content)

	require.NoError(t, store.DeleteCollection(ctx, "kb__100"))
	exists, err := store.CollectionExists(ctx, "kb__100")
	require.NoError(t, err)
	assert.False(t, exists)

	target, err = store.ResolveAlias(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, "kb__200", target)

	// Dropping the alias target clears the alias too.
	require.NoError(t, store.DeleteCollection(ctx, "kb__200"))
	target, err = store.ResolveAlias(ctx, "kb")
	require.NoError(t, err)
	assert.Empty(t, target)
}

func TestChromemListCollections(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	require.NoError(t, store.CreateCollection(ctx, "kb__2", 2))
	require.NoError(t, store.CreateCollection(ctx, "kb__1", 2))

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"kb__1", "kb__2"}, names)
}

func TestChromemPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := &config.VectorStoreConfig{
		Provider: config.VectorProviderChromem,
		Path:     dir,
	}

	store, err := NewChromemStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.UpsertBatch(ctx, "support", []Document{
		{ID: 7, Content: "persisted chunk", Dense: []float32{1, 0}},
	}))
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(cfg)
	require.NoError(t, err)

	exists, err := reopened.CollectionExists(ctx, "support")
	require.NoError(t, err)
	assert.True(t, exists)

	results, err := reopened.QueryDense(ctx, "support", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted chunk", results[0].Content)

	// Aliases are process-local and do not survive the reopen.
	target, err := reopened.ResolveAlias(ctx, "kb")
	require.NoError(t, err)
	assert.Empty(t, target)
}

func TestBuildQdrantFilter(t *testing.T) {
	filter := buildQdrantFilter(map[string]any{
		"protocol": "legacy",
		"type":     "faq",
	})

	require.Len(t, filter.Must, 2)

	keywords := make(map[string]string, 2)
	for _, condition := range filter.Must {
		field := condition.GetField()
		require.NotNil(t, field)
		keywords[field.Key] = field.Match.GetKeyword()
	}

	assert.Equal(t, map[string]string{
		"protocol": "legacy",
		"type":     "faq",
	}, keywords)
}

func TestBuildQdrantPayloadRoundtrip(t *testing.T) {
	payload, err := buildQdrantPayload("Fee schedule for withdrawals", map[string]any{
		"protocol": "new",
		"chunk":    2,
		"verified": true,
	})
	require.NoError(t, err)

	decoded := decodeQdrantPayload(payload)
	assert.Equal(t, "Fee schedule for withdrawals", decoded["content"])
	assert.Equal(t, "new", decoded["protocol"])
	assert.Equal(t, int64(2), decoded["chunk"])
	assert.Equal(t, true, decoded["verified"])
}

func TestConvertScoredPoints(t *testing.T) {
	payload, err := buildQdrantPayload("Dispute resolution steps", map[string]any{
		"protocol": "legacy",
	})
	require.NoError(t, err)

	points := []*qdrant.ScoredPoint{
		{
			Id:      qdrant.NewIDNum(9223372036854775807),
			Score:   0.92,
			Payload: payload,
		},
		{
			Id:    qdrant.NewID("0b74b183-4f0b-4b4e-8c9a-9a3a64b9a001"),
			Score: 0.31,
		},
	}

	results := convertScoredPoints(points)
	require.Len(t, results, 2)

	assert.Equal(t, "9223372036854775807", results[0].ID)
	assert.Equal(t, "Dispute resolution steps", results[0].Content)
	assert.Equal(t, "legacy", results[0].Metadata["protocol"])
	assert.InDelta(t, 0.92, results[0].Score, 1e-6)

	assert.Equal(t, "0b74b183-4f0b-4b4e-8c9a-9a3a64b9a001", results[1].ID)
	assert.Empty(t, results[1].Content)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	store, err := reg.CreateFromConfig("main", &config.VectorStoreConfig{
		Provider: config.VectorProviderChromem,
	})
	require.NoError(t, err)

	got, err := reg.GetStore("main")
	require.NoError(t, err)
	assert.Same(t, store, got)

	_, err = reg.CreateFromConfig("main", &config.VectorStoreConfig{
		Provider: config.VectorProviderChromem,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	_, err = reg.GetStore("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	err = reg.RegisterStore("", store)
	require.Error(t, err)

	err = reg.RegisterStore("nil-store", nil)
	require.Error(t, err)

	require.NoError(t, reg.Close())
	assert.Zero(t, reg.Count())
}
