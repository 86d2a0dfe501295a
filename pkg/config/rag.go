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

// RAGConfig configures answer generation.
type RAGConfig struct {
	// LLM references a provider from the llms section.
	LLM string `yaml:"llm,omitempty"`

	// MaxHistoryTurns kept when normalizing chat history.
	// Default: 5
	MaxHistoryTurns int `yaml:"max_history_turns,omitempty"`

	// MaxContextLength caps the retrieved-context block in characters
	// before token fitting.
	// Default: 8000
	MaxContextLength int `yaml:"max_context_length,omitempty"`

	// Timeout bounds a single generation call.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Guidance enables feedback-derived guidance bullets in the prompt.
	// Default: true
	Guidance *bool `yaml:"guidance,omitempty"`

	// GuidanceLimit caps guidance bullets per prompt.
	// Default: 5
	GuidanceLimit int `yaml:"guidance_limit,omitempty"`
}

// SetDefaults applies default values.
func (c *RAGConfig) SetDefaults() {
	if c.MaxHistoryTurns == 0 {
		c.MaxHistoryTurns = 5
	}
	if c.MaxContextLength == 0 {
		c.MaxContextLength = 8000
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Guidance == nil {
		c.Guidance = BoolPtr(true)
	}
	if c.GuidanceLimit == 0 {
		c.GuidanceLimit = 5
	}
}

// Validate checks the RAG configuration.
func (c *RAGConfig) Validate() error {
	if c.MaxHistoryTurns < 0 {
		return fmt.Errorf("max_history_turns must be non-negative")
	}
	if c.MaxContextLength <= 0 {
		return fmt.Errorf("max_context_length must be positive")
	}
	if c.GuidanceLimit < 0 {
		return fmt.Errorf("guidance_limit must be non-negative")
	}
	return nil
}
