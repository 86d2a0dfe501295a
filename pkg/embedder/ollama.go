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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/httpclient"
)

// Ollama's llama runner crashes with SIGABRT when it receives concurrent
// embedding requests, so all requests are serialized process-wide.
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder implements Provider using Ollama's embeddings API.
type OllamaEmbedder struct {
	httpClient *httpclient.Client
	baseURL    string
	model      string
	dimension  int
}

// ollamaEmbedRequest is the /api/embed payload. Input accepts a single
// string or an array of strings.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func NewOllamaEmbedder(cfg *config.EmbedderConfig) (*OllamaEmbedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	baseURL := strings.TrimSuffix(cfg.Host, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 768
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	maxRetries := 3
	if cfg.MaxRetries != nil {
		maxRetries = *cfg.MaxRetries
	}

	return &OllamaEmbedder{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithBaseDelay(time.Second),
		),
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("received empty embedding from Ollama")
	}
	return embeddings[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	slog.Debug("Ollama embedding request", "model", e.model, "count", len(texts))

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	reqBody, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("Ollama embedding failed", "error", err, "model", e.model, "count", len(texts))
		return nil, fmt.Errorf("failed to send request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("received empty embeddings from Ollama")
	}

	return response.Embeddings, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

func (e *OllamaEmbedder) Close() error {
	return nil
}
