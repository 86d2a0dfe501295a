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
)

// Config is the root hermod configuration.
type Config struct {
	Version     string `yaml:"version,omitempty"`
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`

	Server ServerConfig `yaml:"server,omitempty"`
	Logger LoggerConfig `yaml:"logger,omitempty"`

	Database DatabaseConfig `yaml:"database,omitempty"`
	Redis    *RedisConfig   `yaml:"redis,omitempty"`

	LLMs         map[string]*LLMConfig         `yaml:"llms,omitempty"`
	Embedders    map[string]*EmbedderConfig    `yaml:"embedders,omitempty"`
	VectorStores map[string]*VectorStoreConfig `yaml:"vector_stores,omitempty"`

	Knowledge KnowledgeConfig `yaml:"knowledge,omitempty"`
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`
	RAG       RAGConfig       `yaml:"rag,omitempty"`

	Channels ChannelsConfig `yaml:"channels,omitempty"`
	Hooks    HooksConfig    `yaml:"hooks,omitempty"`
	Dedupe   DedupeConfig   `yaml:"dedupe,omitempty"`

	Escalation EscalationConfig `yaml:"escalation,omitempty"`
	Followup   FollowupConfig   `yaml:"followup,omitempty"`
	FAQ        FAQConfig        `yaml:"faq,omitempty"`
	Staff      StaffConfig      `yaml:"staff,omitempty"`
	Notify     NotifyConfig     `yaml:"notify,omitempty"`
}

// ProcessConfigPipeline runs the full preprocessing, defaulting, and
// validation pipeline on a config built in code.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: config cannot be nil")
	}

	cfg.PreProcess()

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ProcessConfigPipeline: validation failed: %w", err)
	}

	return cfg, nil
}

// PreProcess performs cross-section wiring before defaults are applied.
func (c *Config) PreProcess() {
	c.initializeMaps()

	// A single configured provider becomes the implicit reference.
	if c.RAG.LLM == "" && len(c.LLMs) == 1 {
		c.RAG.LLM = soleKey(c.LLMs)
	}
	if c.Knowledge.Embedder == "" && len(c.Embedders) == 1 {
		c.Knowledge.Embedder = soleKey(c.Embedders)
	}
	if c.Knowledge.VectorStore == "" && len(c.VectorStores) == 1 {
		c.Knowledge.VectorStore = soleKey(c.VectorStores)
	}

	// Using Redis for dedupe implies a Redis section.
	if c.Dedupe.Backend == "redis" && c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
}

func (c *Config) initializeMaps() {
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if c.Embedders == nil {
		c.Embedders = make(map[string]*EmbedderConfig)
	}
	if c.VectorStores == nil {
		c.VectorStores = make(map[string]*VectorStoreConfig)
	}
}

// SetDefaults applies default values across all sections.
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "hermod"
	}

	c.initializeMaps()

	if len(c.LLMs) == 0 {
		c.LLMs["default-llm"] = &LLMConfig{}
	}
	if len(c.Embedders) == 0 {
		c.Embedders["default-embedder"] = &EmbedderConfig{}
	}
	if len(c.VectorStores) == 0 {
		c.VectorStores["default-vector"] = &VectorStoreConfig{}
	}

	if c.RAG.LLM == "" {
		c.RAG.LLM = "default-llm"
	}
	if c.Knowledge.Embedder == "" {
		c.Knowledge.Embedder = "default-embedder"
	}
	if c.Knowledge.VectorStore == "" {
		c.Knowledge.VectorStore = "default-vector"
	}

	for name := range c.LLMs {
		if c.LLMs[name] != nil {
			c.LLMs[name].SetDefaults()
		}
	}
	for name := range c.Embedders {
		if c.Embedders[name] != nil {
			c.Embedders[name].SetDefaults()
		}
	}
	for name := range c.VectorStores {
		if c.VectorStores[name] != nil {
			c.VectorStores[name].SetDefaults()
		}
	}

	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Database.SetDefaults()
	if c.Redis != nil {
		c.Redis.SetDefaults()
	}
	c.Knowledge.SetDefaults()
	c.Retrieval.SetDefaults()
	c.RAG.SetDefaults()
	c.Channels.SetDefaults()
	c.Hooks.SetDefaults()
	c.Dedupe.SetDefaults()
	c.Escalation.SetDefaults()
	c.Followup.SetDefaults()
	c.FAQ.SetDefaults()
	c.Staff.SetDefaults()
	c.Notify.SetDefaults()
}

// Validate checks every section and cross-section references.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger validation failed: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database validation failed: %w", err)
	}
	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis validation failed: %w", err)
		}
	}

	for name, llm := range c.LLMs {
		if llm != nil {
			if err := llm.Validate(); err != nil {
				return fmt.Errorf("LLM '%s' validation failed: %w", name, err)
			}
		}
	}
	for name, embedder := range c.Embedders {
		if embedder != nil {
			if err := embedder.Validate(); err != nil {
				return fmt.Errorf("embedder '%s' validation failed: %w", name, err)
			}
		}
	}
	for name, store := range c.VectorStores {
		if store != nil {
			if err := store.Validate(); err != nil {
				return fmt.Errorf("vector store '%s' validation failed: %w", name, err)
			}
		}
	}

	if err := c.Knowledge.Validate(); err != nil {
		return fmt.Errorf("knowledge validation failed: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval validation failed: %w", err)
	}
	if err := c.RAG.Validate(); err != nil {
		return fmt.Errorf("rag validation failed: %w", err)
	}
	if err := c.Channels.Validate(); err != nil {
		return fmt.Errorf("channels validation failed: %w", err)
	}
	if err := c.Hooks.Validate(); err != nil {
		return fmt.Errorf("hooks validation failed: %w", err)
	}
	if err := c.Dedupe.Validate(); err != nil {
		return fmt.Errorf("dedupe validation failed: %w", err)
	}
	if err := c.Escalation.Validate(); err != nil {
		return fmt.Errorf("escalation validation failed: %w", err)
	}
	if err := c.Followup.Validate(); err != nil {
		return fmt.Errorf("followup validation failed: %w", err)
	}
	if err := c.FAQ.Validate(); err != nil {
		return fmt.Errorf("faq validation failed: %w", err)
	}
	if err := c.Staff.Validate(); err != nil {
		return fmt.Errorf("staff validation failed: %w", err)
	}
	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify validation failed: %w", err)
	}

	if err := c.validateReferences(); err != nil {
		return fmt.Errorf("reference validation failed: %w", err)
	}

	return nil
}

func (c *Config) validateReferences() error {
	if c.RAG.LLM != "" {
		if _, exists := c.LLMs[c.RAG.LLM]; !exists {
			return fmt.Errorf("rag: llm '%s' not found (available: %v)",
				c.RAG.LLM, mapKeys(c.LLMs))
		}
	}

	if c.Knowledge.Embedder != "" {
		if _, exists := c.Embedders[c.Knowledge.Embedder]; !exists {
			return fmt.Errorf("knowledge: embedder '%s' not found (available: %v)",
				c.Knowledge.Embedder, mapKeys(c.Embedders))
		}
	}

	if c.Knowledge.VectorStore != "" {
		if _, exists := c.VectorStores[c.Knowledge.VectorStore]; !exists {
			return fmt.Errorf("knowledge: vector store '%s' not found (available: %v)",
				c.Knowledge.VectorStore, mapKeys(c.VectorStores))
		}
	}

	if c.Retrieval.FallbackStore != "" {
		if _, exists := c.VectorStores[c.Retrieval.FallbackStore]; !exists {
			return fmt.Errorf("retrieval: fallback store '%s' not found (available: %v)",
				c.Retrieval.FallbackStore, mapKeys(c.VectorStores))
		}
		if c.Retrieval.FallbackStore == c.Knowledge.VectorStore {
			return fmt.Errorf("retrieval: fallback store must differ from the primary store")
		}
	}

	if c.Followup.AnalyzerLLM != "" {
		if _, exists := c.LLMs[c.Followup.AnalyzerLLM]; !exists {
			return fmt.Errorf("followup: analyzer llm '%s' not found (available: %v)",
				c.Followup.AnalyzerLLM, mapKeys(c.LLMs))
		}
	}

	if c.Dedupe.Backend == "redis" && c.Redis == nil {
		return fmt.Errorf("dedupe: backend redis requires a redis section")
	}

	return nil
}

func mapKeys[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func soleKey[V any](m map[string]V) string {
	for k := range m {
		return k
	}
	return ""
}

// GetLLM returns the named LLM config.
func (c *Config) GetLLM(name string) (*LLMConfig, bool) {
	llm, exists := c.LLMs[name]
	return llm, exists
}

// GetEmbedder returns the named embedder config.
func (c *Config) GetEmbedder(name string) (*EmbedderConfig, bool) {
	e, exists := c.Embedders[name]
	return e, exists
}

// GetVectorStore returns the named vector store config.
func (c *Config) GetVectorStore(name string) (*VectorStoreConfig, bool) {
	v, exists := c.VectorStores[name]
	return v, exists
}
