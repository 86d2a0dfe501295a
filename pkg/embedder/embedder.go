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

// Package embedder provides dense embedding providers for the knowledge
// index. The index build embeds document chunks in batches; the retriever
// embeds one query at a time.
package embedder

import (
	"context"
	"fmt"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/registry"
)

// Provider produces vector embeddings from text.
type Provider interface {
	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the configured vector dimension. The index build
	// probes the real dimension with a test embedding; this value is a
	// hint for validation.
	Dimension() int

	// ModelName returns the model identifier recorded in index metadata.
	ModelName() string

	Close() error
}

// NewFromConfig creates a Provider from configuration.
func NewFromConfig(cfg *config.EmbedderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config is required")
	}

	switch cfg.Provider {
	case config.EmbedderProviderOllama:
		return NewOllamaEmbedder(cfg)
	case config.EmbedderProviderOpenAI:
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s (supported: ollama, openai)", cfg.Provider)
	}
}

// Registry holds named embedding providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

func (r *Registry) RegisterEmbedder(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("embedder name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("embedder provider cannot be nil")
	}
	return r.Register(name, provider)
}

// CreateFromConfig builds the provider and registers it under name.
func (r *Registry) CreateFromConfig(name string, cfg *config.EmbedderConfig) (Provider, error) {
	provider, err := NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder provider: %w", err)
	}

	if err := r.RegisterEmbedder(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register embedder: %w", err)
	}

	return provider, nil
}

func (r *Registry) GetEmbedder(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("embedder provider '%s' not found", name)
	}
	return provider, nil
}
