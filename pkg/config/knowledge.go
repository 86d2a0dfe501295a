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

const (
	// DefaultMaxSourceFileSize caps individual corpus files.
	DefaultMaxSourceFileSize = 50 * 1024 * 1024

	// DefaultTokenizerMaxInput caps a single document fed to the BM25
	// tokenizer.
	DefaultTokenizerMaxInput = 256 * 1024

	// DefaultMaxVocabularySize caps distinct BM25 terms.
	DefaultMaxVocabularySize = 500_000
)

// KnowledgeSourceConfig describes one corpus directory.
type KnowledgeSourceConfig struct {
	// Name identifies the source in metadata and logs.
	Name string `yaml:"name,omitempty"`

	// Path is the directory holding corpus files (.md, .txt, .pdf,
	// .docx, .xlsx).
	Path string `yaml:"path"`

	// Category tags documents from this source.
	Category string `yaml:"category,omitempty"`
}

// TokenizerConfig bounds the sparse tokenizer.
type TokenizerConfig struct {
	// MaxInputSize caps a single document in bytes. Minimum 100 KiB.
	// Default: 256 KiB
	MaxInputSize int `yaml:"max_input_size,omitempty"`

	// MaxVocabularySize caps distinct terms. Beyond the cap new tokens
	// are dropped for indexing.
	// Default: 500000
	MaxVocabularySize int `yaml:"max_vocabulary_size,omitempty"`
}

// ReachabilityConfig controls the wait for the vector store before a
// rebuild.
type ReachabilityConfig struct {
	// MaxAttempts before giving up.
	// Default: 10
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// BaseDelay for the exponential backoff.
	// Default: 1s
	BaseDelay time.Duration `yaml:"base_delay,omitempty"`

	// MaxDelay caps a single backoff step.
	// Default: 30s
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// KnowledgeConfig configures the knowledge index manager.
type KnowledgeConfig struct {
	// Sources are the corpus directories to index.
	Sources []KnowledgeSourceConfig `yaml:"sources,omitempty"`

	// Collection is the serving alias name in the vector store.
	// Default: "support_kb"
	Collection string `yaml:"collection,omitempty"`

	// Embedder references an embedder from the embedders section.
	Embedder string `yaml:"embedder,omitempty"`

	// VectorStore references a store from the vector_stores section.
	VectorStore string `yaml:"vector_store,omitempty"`

	// VocabularyPath is where the BM25 vocabulary JSON is persisted.
	// Default: "data/vocabulary.json"
	VocabularyPath string `yaml:"vocabulary_path,omitempty"`

	// MetadataPath is where the index metadata JSON is persisted.
	// Default: "data/index_metadata.json"
	MetadataPath string `yaml:"metadata_path,omitempty"`

	// BatchSize for vector upserts during a rebuild.
	// Default: 64
	BatchSize int `yaml:"batch_size,omitempty"`

	// MaxFileSize caps individual corpus files in bytes.
	// Default: 50 MiB
	MaxFileSize int64 `yaml:"max_file_size,omitempty"`

	// Watch enables fsnotify watching of source directories with a
	// debounced automatic reindex.
	// Default: false
	Watch *bool `yaml:"watch,omitempty"`

	// WatchDebounce coalesces bursts of file events.
	// Default: 5s
	WatchDebounce time.Duration `yaml:"watch_debounce,omitempty"`

	// Tokenizer bounds the sparse tokenizer.
	Tokenizer TokenizerConfig `yaml:"tokenizer,omitempty"`

	// Reachability controls the pre-rebuild wait for the vector store.
	Reachability ReachabilityConfig `yaml:"reachability,omitempty"`
}

// SetDefaults applies default values.
func (c *KnowledgeConfig) SetDefaults() {
	if c.Collection == "" {
		c.Collection = "support_kb"
	}
	if c.VocabularyPath == "" {
		c.VocabularyPath = "data/vocabulary.json"
	}
	if c.MetadataPath == "" {
		c.MetadataPath = "data/index_metadata.json"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxSourceFileSize
	}
	if c.Watch == nil {
		c.Watch = BoolPtr(false)
	}
	if c.WatchDebounce == 0 {
		c.WatchDebounce = 5 * time.Second
	}
	if c.Tokenizer.MaxInputSize == 0 {
		c.Tokenizer.MaxInputSize = DefaultTokenizerMaxInput
	}
	if c.Tokenizer.MaxVocabularySize == 0 {
		c.Tokenizer.MaxVocabularySize = DefaultMaxVocabularySize
	}
	if c.Reachability.MaxAttempts == 0 {
		c.Reachability.MaxAttempts = 10
	}
	if c.Reachability.BaseDelay == 0 {
		c.Reachability.BaseDelay = time.Second
	}
	if c.Reachability.MaxDelay == 0 {
		c.Reachability.MaxDelay = 30 * time.Second
	}

	for i := range c.Sources {
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = fmt.Sprintf("source-%d", i+1)
		}
	}
}

// Validate checks the knowledge configuration.
func (c *KnowledgeConfig) Validate() error {
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}

	seen := make(map[string]bool, len(c.Sources))
	for _, src := range c.Sources {
		if src.Path == "" {
			return fmt.Errorf("source %q: path is required", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
	}

	if c.Tokenizer.MaxInputSize < 100*1024 {
		return fmt.Errorf("tokenizer.max_input_size must be at least %d bytes", 100*1024)
	}
	if c.Tokenizer.MaxVocabularySize <= 0 {
		return fmt.Errorf("tokenizer.max_vocabulary_size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Reachability.MaxAttempts <= 0 {
		return fmt.Errorf("reachability.max_attempts must be positive")
	}

	return nil
}
