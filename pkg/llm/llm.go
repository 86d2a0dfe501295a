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

// Package llm provides text-generation providers for answer synthesis.
//
// The pipeline needs opaque completion with token accounting, nothing
// more: the RAG orchestrator assembles the full prompt and providers
// place the system preface wherever their API wants it.
package llm

import (
	"context"
	"fmt"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/registry"
)

// Response is a completed generation.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// TotalTokens returns the combined prompt and completion token count.
func (r *Response) TotalTokens() int {
	if r == nil {
		return 0
	}
	return r.InputTokens + r.OutputTokens
}

// Provider generates text completions.
type Provider interface {
	// Generate produces a completion. system may be empty.
	Generate(ctx context.Context, system, prompt string) (*Response, error)

	ModelName() string
	MaxTokens() int
	Temperature() float64
	Close() error
}

// NewFromConfig creates a Provider from configuration.
func NewFromConfig(cfg *config.LLMConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm config is required")
	}

	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case config.LLMProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	case config.LLMProviderOllama:
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (supported: anthropic, openai, gemini, ollama)", cfg.Provider)
	}
}

// Registry holds named LLM providers.
type Registry struct {
	*registry.BaseRegistry[Provider]
}

func NewRegistry() *Registry {
	return &Registry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

func (r *Registry) RegisterLLM(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("llm name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("llm provider cannot be nil")
	}
	return r.Register(name, provider)
}

// CreateFromConfig builds the provider and registers it under name.
func (r *Registry) CreateFromConfig(name string, cfg *config.LLMConfig) (Provider, error) {
	provider, err := NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}

	if err := r.RegisterLLM(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register llm: %w", err)
	}

	return provider, nil
}

func (r *Registry) GetLLM(name string) (Provider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("llm provider '%s' not found", name)
	}
	return provider, nil
}
