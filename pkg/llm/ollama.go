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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/httpclient"
)

// OllamaProvider implements Provider for a local Ollama server.
type OllamaProvider struct {
	httpClient  *httpclient.Client
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func NewOllamaProvider(cfg *config.LLMConfig) (*OllamaProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	model := cfg.Model
	if model == "" {
		model = "llama3.2"
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	maxRetries := 3
	if cfg.MaxRetries != nil {
		maxRetries = *cfg.MaxRetries
	}

	temperature := 0.2
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	return &OllamaProvider{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithBaseDelay(time.Second),
		),
		baseURL:     baseURL,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}, nil
}

func (p *OllamaProvider) Generate(ctx context.Context, system, prompt string) (*Response, error) {
	messages := make([]ollamaMessage, 0, 2)
	if system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: prompt})

	request := ollamaChatRequest{
		Model:    p.model,
		Messages: messages,
		Options: &ollamaOptions{
			Temperature: p.temperature,
			NumPredict:  p.maxTokens,
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", response.Error)
	}
	if response.Message.Content == "" {
		return nil, fmt.Errorf("received empty response from Ollama")
	}

	return &Response{
		Text:         response.Message.Content,
		InputTokens:  response.PromptEvalCount,
		OutputTokens: response.EvalCount,
		FinishReason: response.DoneReason,
	}, nil
}

func (p *OllamaProvider) ModelName() string {
	return p.model
}

func (p *OllamaProvider) MaxTokens() int {
	return p.maxTokens
}

func (p *OllamaProvider) Temperature() float64 {
	return p.temperature
}

func (p *OllamaProvider) Close() error {
	return nil
}
