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

package config

import (
	"fmt"
	"time"
)

// EmbedderProvider identifies the embedding provider type.
type EmbedderProvider string

const (
	EmbedderProviderOllama EmbedderProvider = "ollama"
	EmbedderProviderOpenAI EmbedderProvider = "openai"
)

// EmbedderConfig configures an embedding provider.
type EmbedderConfig struct {
	// Provider type (ollama, openai).
	Provider EmbedderProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=Embedding provider,enum=ollama,enum=openai,default=ollama"`

	// Model name (e.g., "nomic-embed-text", "text-embedding-3-small").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Embedding model identifier"`

	// Host for Ollama or a custom OpenAI-compatible endpoint.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host,description=Provider host URL"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// Dimension of produced vectors. The index manager probes the real
	// dimension at build time; this value is a hint for validation.
	Dimension int `yaml:"dimension,omitempty" json:"dimension,omitempty" jsonschema:"title=Dimension,description=Embedding dimension,minimum=1,default=768"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-request timeout,default=30s"`

	// MaxRetries for transient API failures.
	MaxRetries *int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Retries on transient failures,minimum=0,default=3"`

	// BatchSize bounds texts per embedding request during index builds.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty" jsonschema:"title=Batch Size,description=Texts per embedding request,minimum=1,default=100"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderProviderOllama
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderProviderOllama:
			c.Model = "nomic-embed-text"
		case EmbedderProviderOpenAI:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.Host == "" && c.Provider == EmbedderProviderOllama {
		c.Host = "http://localhost:11434"
	}
	if c.APIKey == "" && c.Provider == EmbedderProviderOpenAI {
		c.APIKey = GetProviderAPIKey("openai")
	}
	if c.Dimension == 0 {
		switch c.Provider {
		case EmbedderProviderOllama:
			c.Dimension = 768
		case EmbedderProviderOpenAI:
			c.Dimension = 1536
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == nil {
		c.MaxRetries = IntPtr(3)
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	validProviders := map[EmbedderProvider]bool{
		EmbedderProviderOllama: true,
		EmbedderProviderOpenAI: true,
	}
	if c.Provider != "" && !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: ollama, openai)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Provider == EmbedderProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	return nil
}
