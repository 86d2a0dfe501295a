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

// Package utils provides small shared helpers: atomic file writes and
// model-aware token counting.
package utils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for a specific model so prompt assembly can
// fit context and history into the model window instead of guessing by
// character length.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

// Message is a role-tagged piece of text for token counting.
type Message struct {
	Role    string
	Content string
}

var (
	// Encodings are expensive to initialize, cache them per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model. Models without a
// native tiktoken encoding (Claude, local Ollama models) fall back to
// cl100k_base, which is close enough for budget fitting.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{
			encoding: cached,
			model:    model,
		}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(GetEncodingForModel(model))
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{
		encoding: encoding,
		model:    model,
	}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens in a message list including per-message role
// overhead, following the OpenAI chat format accounting.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	// <|start|>role|content<|end|> per message.
	const tokensPerMessage = 3

	totalTokens := 0
	for _, msg := range messages {
		totalTokens += tokensPerMessage
		totalTokens += len(tc.encoding.Encode(msg.Role, nil, nil))
		totalTokens += len(tc.encoding.Encode(msg.Content, nil, nil))
	}

	// Every reply is primed with <|start|>assistant<|message|>.
	totalTokens += 3

	return totalTokens
}

// FitWithinLimit returns the suffix of messages that fits within the token
// budget, preferring the most recent ones.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := []Message{}
	currentTokens := 3 // reply priming

	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages([]Message{messages[i]})
		if currentTokens+msgTokens > maxTokens {
			break
		}
		fitted = append([]Message{messages[i]}, fitted...)
		currentTokens += msgTokens
	}

	return fitted
}

// GetModel returns the model name this counter was built for.
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// EstimateTokens gives a rough estimate for when no counter is available.
func EstimateTokens(text string) int {
	// Roughly four characters per token for English text.
	return len(text) / 4
}

// GetEncodingForModel maps a model name to its tiktoken encoding, falling
// back to cl100k_base for model families tiktoken does not know.
func GetEncodingForModel(model string) string {
	encodingMap := map[string]string{
		"gpt-4o":           "o200k_base",
		"gpt-4o-mini":      "o200k_base",
		"gpt-4":            "cl100k_base",
		"gpt-3.5-turbo":    "cl100k_base",
		"claude":           "cl100k_base",
		"claude-3":         "cl100k_base",
		"claude-3-5":       "cl100k_base",
		"claude-sonnet-4":  "cl100k_base",
		"claude-opus-4":    "cl100k_base",
		"llama":            "cl100k_base",
		"llama3":           "cl100k_base",
		"qwen":             "cl100k_base",
		"mistral":          "cl100k_base",
		"nomic-embed-text": "cl100k_base",
	}

	if encoding, exists := encodingMap[model]; exists {
		return encoding
	}

	// Longest prefix wins so gpt-4o-mini does not match gpt-4.
	best := ""
	encoding := "cl100k_base"
	for prefix, enc := range encodingMap {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			encoding = enc
		}
	}
	return encoding
}

// ModelContextWindow returns a conservative context window for the
// model, used to budget prompt assembly. Unknown models get 8192.
func ModelContextWindow(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gemini"):
		return 1_000_000
	case strings.Contains(m, "claude"):
		return 200_000
	case strings.Contains(m, "gpt-4o"), strings.Contains(m, "gpt-4.1"), strings.Contains(m, "gpt-4-turbo"):
		return 128_000
	case strings.Contains(m, "gpt-3.5"):
		return 16_384
	}
	return 8_192
}
