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

// Package rag turns a question plus conversation history into an
// answer: retrieve documents, assemble the prompt, call the model, and
// report sources and confidence alongside the text.
package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/llm"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
	"github.com/peerex/hermod/pkg/retriever"
	"github.com/peerex/hermod/pkg/utils"
)

// Generation strategies reported in response metadata.
const (
	StrategyHybrid        = "hybrid"
	StrategyContextOnly   = "context_only"
	StrategyNoInformation = "no_information"
)

// Result is the structured outcome of answer generation. Answer is
// always user-presentable; failures surface as the apology text, never
// as an error string.
type Result struct {
	Answer     string
	Sources    []message.DocumentReference
	Confidence *float64
	Strategy   string
	ModelName  string
	TokensUsed int
}

// GuidanceSource supplies feedback-derived guidance bullets for a
// question. Implementations must be fast and safe to call on every
// message.
type GuidanceSource interface {
	Guidance(ctx context.Context, question string, limit int) []string
}

// Orchestrator coordinates retrieval and generation.
type Orchestrator struct {
	cfg       *config.RAGConfig
	retriever retriever.Retriever
	llm       llm.Provider
	guidance  GuidanceSource
	builder   *promptBuilder
	topK      int
	logger    *slog.Logger
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithGuidance attaches a feedback guidance source.
func WithGuidance(source GuidanceSource) Option {
	return func(o *Orchestrator) {
		o.guidance = source
	}
}

// WithTopK overrides how many documents are retrieved per question.
func WithTopK(topK int) Option {
	return func(o *Orchestrator) {
		if topK > 0 {
			o.topK = topK
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an Orchestrator. A token counter is built for the model;
// when that fails the context block falls back to the character cap
// alone.
func New(cfg *config.RAGConfig, ret retriever.Retriever, provider llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		retriever: ret,
		llm:       provider,
		topK:      5,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	builder := &promptBuilder{maxContextChars: cfg.MaxContextLength}
	if counter, err := utils.NewTokenCounter(provider.ModelName()); err == nil {
		builder.counter = counter
		window := utils.ModelContextWindow(provider.ModelName())
		// Leave room for the reply and the non-context prompt parts.
		budget := window - provider.MaxTokens() - 1024
		if budget < 512 {
			budget = 512
		}
		builder.contextBudget = budget
	} else {
		o.logger.Warn("Token counter unavailable; using character budget only",
			"model", provider.ModelName(),
			"error", err)
	}
	o.builder = builder

	return o
}

// Answer generates a reply for the question. The returned error is
// non-nil only when ctx is done; every other failure produces a
// presentable Result.
func (o *Orchestrator) Answer(ctx context.Context, question string, history []message.HistoryEntry) (*Result, error) {
	history = trimHistory(history, o.cfg.MaxHistoryTurns, o.logger)

	docs, err := o.retriever.Retrieve(ctx, question, o.topK, nil)
	if err != nil {
		// The resilient wrapper never errors; a bare retriever can.
		o.logger.Warn("Retrieval failed; answering without context", "error", err)
		docs = nil
	}

	result := &Result{
		ModelName:  o.llm.ModelName(),
		Sources:    references(docs),
		Confidence: meanScore(docs),
	}

	var system, prompt string
	switch {
	case len(docs) > 0:
		result.Strategy = StrategyHybrid
		system = systemPreface
		prompt = o.builder.buildPrompt(question, history, docs, o.guidanceBullets(ctx, question))
	case len(history) > 0:
		result.Strategy = StrategyContextOnly
		system = contextOnlyPreface
		prompt = o.builder.buildContextOnlyPrompt(question, history)
	default:
		result.Strategy = StrategyNoInformation
		result.Answer = NoInformationAnswer
		return result, nil
	}

	genCtx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	response, err := o.llm.Generate(genCtx, system, prompt)
	duration := time.Since(start)

	if err != nil {
		observability.GetGlobalMetrics().RecordLLMCall(ctx, o.llm.ModelName(), duration, 0, 0, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Error("Generation failed",
			"model", o.llm.ModelName(),
			"strategy", result.Strategy,
			"error", err)
		result.Answer = ApologyAnswer
		return result, nil
	}

	observability.GetGlobalMetrics().RecordLLMCall(ctx, o.llm.ModelName(), duration, response.InputTokens, response.OutputTokens, nil)
	result.Answer = response.Text
	result.TokensUsed = response.TotalTokens()
	return result, nil
}

func (o *Orchestrator) guidanceBullets(ctx context.Context, question string) []string {
	if o.guidance == nil || !config.BoolValue(o.cfg.Guidance, true) {
		return nil
	}
	return o.guidance.Guidance(ctx, question, o.cfg.GuidanceLimit)
}

// trimHistory drops unknown roles and keeps the most recent turns.
func trimHistory(history []message.HistoryEntry, maxTurns int, logger *slog.Logger) []message.HistoryEntry {
	kept := make([]message.HistoryEntry, 0, len(history))
	for _, turn := range history {
		switch turn.Role {
		case RoleUser, RoleAssistant:
			kept = append(kept, turn)
		default:
			logger.Warn("Dropping history entry with unknown role", "role", turn.Role)
		}
	}
	if maxTurns > 0 && len(kept) > maxTurns {
		kept = kept[len(kept)-maxTurns:]
	}
	return kept
}

// NormalizeHistory converts loosely typed history entries into
// role-tagged turns. It accepts {role, content} entries and the legacy
// {user, assistant} pair form, where one entry expands into up to two
// turns. Unknown shapes are dropped with a warning.
func NormalizeHistory(raw []map[string]any, logger *slog.Logger) []message.HistoryEntry {
	if logger == nil {
		logger = slog.Default()
	}

	history := make([]message.HistoryEntry, 0, len(raw))
	for _, entry := range raw {
		if role, ok := stringValue(entry["role"]); ok {
			content, _ := stringValue(entry["content"])
			switch role {
			case RoleUser, RoleAssistant:
				history = append(history, message.HistoryEntry{Role: role, Content: content})
			default:
				logger.Warn("Dropping history entry with unknown role", "role", role)
			}
			continue
		}

		userText, hasUser := stringValue(entry["user"])
		assistantText, hasAssistant := stringValue(entry["assistant"])
		if hasUser || hasAssistant {
			if hasUser {
				history = append(history, message.HistoryEntry{Role: RoleUser, Content: userText})
			}
			if hasAssistant {
				history = append(history, message.HistoryEntry{Role: RoleAssistant, Content: assistantText})
			}
			continue
		}

		logger.Warn("Dropping unrecognized history entry")
	}
	return history
}

func stringValue(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok && s != ""
}

// references converts retrieved documents to wire references, keeping
// retrieval order.
func references(docs []retriever.Document) []message.DocumentReference {
	if len(docs) == 0 {
		return nil
	}
	refs := make([]message.DocumentReference, len(docs))
	for i, doc := range docs {
		refs[i] = doc.Reference()
	}
	return refs
}

// meanScore is the mean fused score of the used documents; nil when
// retrieval came back empty.
func meanScore(docs []retriever.Document) *float64 {
	if len(docs) == 0 {
		return nil
	}
	var sum float64
	for _, doc := range docs {
		sum += doc.Score
	}
	mean := sum / float64(len(docs))
	return &mean
}
