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

// RateLimitHookConfig configures the per-user fixed-window limiter.
type RateLimitHookConfig struct {
	// Enabled turns the hook on.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Requests allowed per window per (user, channel).
	// Default: 20
	Requests int `yaml:"requests,omitempty"`

	// Window length.
	// Default: 1m
	Window time.Duration `yaml:"window,omitempty"`

	// Backend stores counters: "memory" or "sql".
	// Default: memory
	Backend string `yaml:"backend,omitempty"`
}

// PIIHookConfig configures PII scrubbing of inbound questions.
type PIIHookConfig struct {
	// Enabled turns the hook on.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Mode is "redact" (mask in place) or "block" (reject the message).
	// Default: redact
	Mode string `yaml:"mode,omitempty"`
}

// ConfidenceHookConfig configures the confidence router.
type ConfidenceHookConfig struct {
	// AutoSendThreshold: confidence at or above delivers directly.
	// Default: 0.75
	AutoSendThreshold *float64 `yaml:"auto_send_threshold,omitempty"`

	// ReviewThreshold: confidence at or above (but below auto-send)
	// queues for review; below forces human handling.
	// Default: 0.45
	ReviewThreshold *float64 `yaml:"review_threshold,omitempty"`

	// PolicyKeywords force human handling when present in the question.
	PolicyKeywords []string `yaml:"policy_keywords,omitempty"`
}

// SuggestionsHookConfig configures suggested follow-up questions.
type SuggestionsHookConfig struct {
	// Enabled turns the hook on.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty"`

	// Max suggestions attached to a response.
	// Default: 3
	Max int `yaml:"max,omitempty"`
}

// HooksConfig configures the built-in hook pipeline.
type HooksConfig struct {
	RateLimit   RateLimitHookConfig   `yaml:"ratelimit,omitempty"`
	PII         PIIHookConfig         `yaml:"pii,omitempty"`
	Confidence  ConfidenceHookConfig  `yaml:"confidence,omitempty"`
	Suggestions SuggestionsHookConfig `yaml:"suggestions,omitempty"`
}

// SetDefaults applies default values.
func (c *HooksConfig) SetDefaults() {
	if c.RateLimit.Enabled == nil {
		c.RateLimit.Enabled = BoolPtr(true)
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = 20
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}

	if c.PII.Enabled == nil {
		c.PII.Enabled = BoolPtr(true)
	}
	if c.PII.Mode == "" {
		c.PII.Mode = "redact"
	}

	if c.Confidence.AutoSendThreshold == nil {
		c.Confidence.AutoSendThreshold = Float64Ptr(0.75)
	}
	if c.Confidence.ReviewThreshold == nil {
		c.Confidence.ReviewThreshold = Float64Ptr(0.45)
	}
	if c.Confidence.PolicyKeywords == nil {
		c.Confidence.PolicyKeywords = []string{
			"dispute", "chargeback", "lawyer", "legal action",
			"hacked", "stolen", "scam", "fraud", "police", "lost funds",
		}
	}

	if c.Suggestions.Enabled == nil {
		c.Suggestions.Enabled = BoolPtr(true)
	}
	if c.Suggestions.Max == 0 {
		c.Suggestions.Max = 3
	}
}

// Validate checks the hooks configuration.
func (c *HooksConfig) Validate() error {
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("ratelimit.requests must be non-negative")
	}
	if c.RateLimit.Backend != "" && c.RateLimit.Backend != "memory" && c.RateLimit.Backend != "sql" {
		return fmt.Errorf("invalid ratelimit.backend %q (valid: memory, sql)", c.RateLimit.Backend)
	}

	if c.PII.Mode != "" && c.PII.Mode != "redact" && c.PII.Mode != "block" {
		return fmt.Errorf("invalid pii.mode %q (valid: redact, block)", c.PII.Mode)
	}

	auto := *c.Confidence.AutoSendThreshold
	review := *c.Confidence.ReviewThreshold
	if auto < 0 || auto > 1 {
		return fmt.Errorf("confidence.auto_send_threshold must be between 0 and 1")
	}
	if review < 0 || review > 1 {
		return fmt.Errorf("confidence.review_threshold must be between 0 and 1")
	}
	if review > auto {
		return fmt.Errorf("confidence.review_threshold must not exceed auto_send_threshold")
	}

	if c.Suggestions.Max < 0 {
		return fmt.Errorf("suggestions.max must be non-negative")
	}

	return nil
}
