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

// BreakerConfig configures the retrieval circuit breaker.
type BreakerConfig struct {
	// ResetInterval is how long the breaker stays open before a
	// half-open probe.
	// Default: 300s
	ResetInterval time.Duration `yaml:"reset_interval,omitempty"`
}

// RetrievalConfig configures hybrid retrieval.
type RetrievalConfig struct {
	// DenseWeight for score fusion.
	// Default: 0.7
	DenseWeight *float64 `yaml:"dense_weight,omitempty"`

	// SparseWeight for score fusion.
	// Default: 0.3
	SparseWeight *float64 `yaml:"sparse_weight,omitempty"`

	// TopK results returned to the orchestrator.
	// Default: 5
	TopK int `yaml:"top_k,omitempty"`

	// CandidateLimit fetched per leg before fusion.
	// Default: 20
	CandidateLimit int `yaml:"candidate_limit,omitempty"`

	// FallbackStore references a dense-only store from vector_stores
	// used when the primary store fails or the breaker is open.
	FallbackStore string `yaml:"fallback_store,omitempty"`

	// Breaker configures the primary-store circuit breaker.
	Breaker BreakerConfig `yaml:"breaker,omitempty"`
}

// SetDefaults applies default values.
func (c *RetrievalConfig) SetDefaults() {
	if c.DenseWeight == nil {
		c.DenseWeight = Float64Ptr(0.7)
	}
	if c.SparseWeight == nil {
		c.SparseWeight = Float64Ptr(0.3)
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.CandidateLimit == 0 {
		c.CandidateLimit = 20
	}
	if c.Breaker.ResetInterval == 0 {
		c.Breaker.ResetInterval = 300 * time.Second
	}
}

// Validate checks the retrieval configuration.
func (c *RetrievalConfig) Validate() error {
	if c.DenseWeight != nil && (*c.DenseWeight < 0 || *c.DenseWeight > 1) {
		return fmt.Errorf("dense_weight must be between 0 and 1")
	}
	if c.SparseWeight != nil && (*c.SparseWeight < 0 || *c.SparseWeight > 1) {
		return fmt.Errorf("sparse_weight must be between 0 and 1")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.CandidateLimit < c.TopK {
		return fmt.Errorf("candidate_limit must be at least top_k")
	}
	return nil
}
