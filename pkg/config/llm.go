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
	"os"
	"time"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderGemini    LLMProvider = "gemini"
	LLMProviderOllama    LLMProvider = "ollama"
)

// LLMConfig configures an LLM provider.
type LLMConfig struct {
	// Provider type (anthropic, openai, gemini, ollama).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider,enum=anthropic,enum=openai,enum=gemini,enum=ollama,default=anthropic"`

	// Model name (e.g., "claude-sonnet-4-20250514", "gpt-4o").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Temperature for generation (0.0 - 2.0).
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2,default=0.2"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens to generate,minimum=1,default=1024"`

	// Timeout bounds a single generation request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Per-request timeout,default=60s"`

	// MaxRetries for transient API failures.
	MaxRetries *int `yaml:"max_retries,omitempty" json:"max_retries,omitempty" jsonschema:"title=Max Retries,description=Retries on transient failures,minimum=0,default=3"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	// Auto-detect provider from environment if not set
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}

	// Set default model per provider
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderOpenAI:
			c.Model = "gpt-4o-mini"
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		case LLMProviderOllama:
			c.Model = "llama3.2"
		}
	}

	// Get API key from environment if not set
	if c.APIKey == "" {
		c.APIKey = GetProviderAPIKey(string(c.Provider))
	}

	// Support answers should stay factual; default low temperature
	if c.Temperature == nil {
		temp := 0.2
		c.Temperature = &temp
	}

	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}

	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}

	if c.MaxRetries == nil {
		c.MaxRetries = IntPtr(3)
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	validProviders := map[LLMProvider]bool{
		LLMProviderAnthropic: true,
		LLMProviderOpenAI:    true,
		LLMProviderGemini:    true,
		LLMProviderOllama:    true,
	}

	if c.Provider != "" && !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q (valid: anthropic, openai, gemini, ollama)", c.Provider)
	}

	// Ollama doesn't require API key
	if c.Provider != LLMProviderOllama && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}

	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	return nil
}

// detectProviderFromEnv detects provider based on available API keys.
func detectProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return LLMProviderGemini
	}
	// Default to local Ollama so a bare config still starts
	return LLMProviderOllama
}
