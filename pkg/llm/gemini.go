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

package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/peerex/hermod/pkg/config"
)

// GeminiProvider implements Provider for Google Gemini via the official
// genai SDK.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int
	temperature float64
}

func NewGeminiProvider(cfg *config.LLMConfig) (*GeminiProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	temperature := 0.2
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	// Constructors should not require a context; the SDK only uses it
	// for credential discovery here.
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, system, prompt string) (*Response, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.temperature)),
		MaxOutputTokens: int32(p.maxTokens),
	}
	if system != "" {
		genConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
			Role:  "user",
		}
	}

	genResp, err := p.client.Models.GenerateContent(ctx, p.model, contents, genConfig)
	if err != nil {
		return nil, fmt.Errorf("Gemini generation failed: %w", err)
	}

	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("received empty response from Gemini")
	}
	candidate := genResp.Candidates[0]

	var text strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("received empty response from Gemini")
	}

	result := &Response{
		Text:         text.String(),
		FinishReason: string(candidate.FinishReason),
	}
	if genResp.UsageMetadata != nil {
		result.InputTokens = int(genResp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(genResp.UsageMetadata.CandidatesTokenCount)
	}

	return result, nil
}

func (p *GeminiProvider) ModelName() string {
	return p.model
}

func (p *GeminiProvider) MaxTokens() int {
	return p.maxTokens
}

func (p *GeminiProvider) Temperature() float64 {
	return p.temperature
}

func (p *GeminiProvider) Close() error {
	return nil
}
