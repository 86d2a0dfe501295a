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

package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerex/hermod/pkg/config"
)

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.EmbedderConfig
		want    any
		wantErr string
	}{
		{
			name: "ollama",
			cfg:  &config.EmbedderConfig{Provider: config.EmbedderProviderOllama},
			want: &OllamaEmbedder{},
		},
		{
			name: "openai",
			cfg:  &config.EmbedderConfig{Provider: config.EmbedderProviderOpenAI, APIKey: "sk-test"},
			want: &OpenAIEmbedder{},
		},
		{
			name:    "openai without api key",
			cfg:     &config.EmbedderConfig{Provider: config.EmbedderProviderOpenAI},
			wantErr: "API key is required",
		},
		{
			name:    "unknown provider",
			cfg:     &config.EmbedderConfig{Provider: "cohere"},
			wantErr: "unsupported embedder provider",
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: "config is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewFromConfig(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, provider)
		})
	}
}

func TestOllamaEmbedderDefaults(t *testing.T) {
	e, err := NewOllamaEmbedder(&config.EmbedderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", e.ModelName())
	assert.Equal(t, 768, e.Dimension())
	assert.NoError(t, e.Close())
}

func TestOllamaEmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)

		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2}, {0.3, 0.4}},
		})
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(&config.EmbedderConfig{Host: server.URL})
	require.NoError(t, err)

	embeddings, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0.1, 0.2}, embeddings[0])
	assert.Equal(t, []float32{0.3, 0.4}, embeddings[1])
}

func TestOllamaEmbedSingleSendsString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "withdrawal fees", req.Input, "single input travels as a plain string")

		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.5, 0.6}},
		})
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(&config.EmbedderConfig{Host: server.URL})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "withdrawal fees")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.6}, vec)
}

func TestOllamaEmbedErrors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer server.Close()

		e, err := NewOllamaEmbedder(&config.EmbedderConfig{
			Host:       server.URL,
			MaxRetries: config.IntPtr(0),
		})
		require.NoError(t, err)

		_, err = e.Embed(context.Background(), "anything")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Ollama")
	})

	t.Run("empty embeddings", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{}})
		}))
		defer server.Close()

		e, err := NewOllamaEmbedder(&config.EmbedderConfig{Host: server.URL})
		require.NoError(t, err)

		_, err = e.Embed(context.Background(), "anything")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		e, err := NewOllamaEmbedder(&config.EmbedderConfig{Host: "http://localhost:1"})
		require.NoError(t, err)

		embeddings, err := e.EmbedBatch(context.Background(), nil)
		assert.NoError(t, err)
		assert.Nil(t, embeddings)
	})
}

func TestOpenAIEmbedBatchRestoresOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Model      string   `json:"model"`
			Input      []string `json:"input"`
			Dimensions *int     `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		require.NotNil(t, req.Dimensions, "text-embedding-3 models carry the dimensions parameter")
		assert.Equal(t, 1536, *req.Dimensions)

		// Items deliberately out of order.
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.3, 0.4}, "index": 1},
				{"embedding": []float32{0.1, 0.2}, "index": 0},
			},
		})
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		Provider: config.EmbedderProviderOpenAI,
		APIKey:   "sk-test",
		Host:     server.URL,
	})
	require.NoError(t, err)

	embeddings, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0.1, 0.2}, embeddings[0])
	assert.Equal(t, []float32{0.3, 0.4}, embeddings[1])
}

func TestOpenAIEmbedBatchSplitsRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"embedding": []float32{float32(i)}, "index": i}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(&config.EmbedderConfig{
		APIKey:    "sk-test",
		Host:      server.URL,
		BatchSize: 2,
	})
	require.NoError(t, err)

	embeddings, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, embeddings, 3)
	assert.Equal(t, int32(2), calls.Load(), "three texts with batch size two take two requests")
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	provider, err := reg.CreateFromConfig("default", &config.EmbedderConfig{
		Provider: config.EmbedderProviderOllama,
	})
	require.NoError(t, err)
	require.NotNil(t, provider)

	got, err := reg.GetEmbedder("default")
	require.NoError(t, err)
	assert.Same(t, provider, got)

	_, err = reg.CreateFromConfig("default", &config.EmbedderConfig{
		Provider: config.EmbedderProviderOllama,
	})
	assert.Error(t, err, "duplicate names are rejected")

	_, err = reg.GetEmbedder("missing")
	assert.Error(t, err)

	assert.Error(t, reg.RegisterEmbedder("", provider))
	assert.Error(t, reg.RegisterEmbedder("nil-provider", nil))
}
