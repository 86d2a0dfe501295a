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

// Package gateway is the single entry point for inbound support
// questions: validate, deduplicate, run pre-hooks, generate the answer,
// wrap it, run post-hooks.
//
// The gateway never delivers anything itself; the dispatcher owns
// delivery and review routing. A (nil, nil) return means the message
// was consumed without producing a response (duplicate, or fully
// handled by a pre-hook).
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/peerex/hermod/pkg/channel"
	"github.com/peerex/hermod/pkg/message"
	"github.com/peerex/hermod/pkg/observability"
	"github.com/peerex/hermod/pkg/rag"
)

// Message outcomes reported to metrics.
const (
	outcomeAnswered  = "answered"
	outcomeRejected  = "rejected"
	outcomeDuplicate = "duplicate"
	outcomeError     = "error"
)

// RAGService produces an answer for a question with history.
type RAGService interface {
	Answer(ctx context.Context, question string, history []message.HistoryEntry) (*rag.Result, error)
}

// HookRunner executes the pre and post hook chains. Both methods return
// the names of executed hooks in execution order, including a hook
// whose error aborted the chain.
type HookRunner interface {
	ExecutePre(ctx context.Context, in *message.Incoming) ([]string, error)
	ExecutePost(ctx context.Context, in *message.Incoming, out *message.Outgoing) ([]string, error)
}

// DedupeCache answers whether a (channel, message id) pair was already
// processed.
type DedupeCache interface {
	Seen(ctx context.Context, channelID, messageID string) bool
}

// Gateway routes incoming messages through hooks and the RAG service.
type Gateway struct {
	channels channel.PluginResolver
	rag      RAGService
	hooks    HookRunner
	dedupe   DedupeCache
	tracer   *observability.Tracer
	logger   *slog.Logger
	version  string
}

// Option configures the Gateway.
type Option func(*Gateway)

// WithHooks attaches the hook pipeline.
func WithHooks(hooks HookRunner) Option {
	return func(g *Gateway) { g.hooks = hooks }
}

// WithDedupe attaches the idempotency cache.
func WithDedupe(cache DedupeCache) Option {
	return func(g *Gateway) { g.dedupe = cache }
}

// WithTracer attaches the tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(g *Gateway) { g.tracer = tracer }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithVersion sets the version string stamped into response metadata.
func WithVersion(version string) Option {
	return func(g *Gateway) { g.version = version }
}

// New creates a Gateway. channels and ragService are required; hooks
// and dedupe are optional.
func New(channels channel.PluginResolver, ragService RAGService, opts ...Option) *Gateway {
	g := &Gateway{
		channels: channels,
		rag:      ragService,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ProcessMessage runs one incoming message through the full pipeline
// and returns the outgoing response. A nil response with nil error
// means the message required no response: it was a duplicate, or a
// pre-hook consumed it.
func (g *Gateway) ProcessMessage(ctx context.Context, in *message.Incoming) (*message.Outgoing, error) {
	start := time.Now()
	metrics := observability.GetGlobalMetrics()

	if err := g.validate(in); err != nil {
		metrics.RecordGatewayError(ctx, string(err.Code))
		if in != nil {
			metrics.RecordMessage(ctx, in.ChannelID, outcomeRejected, time.Since(start))
		}
		return nil, err
	}

	ctx, span := g.tracer.StartGatewayProcess(ctx, in.ChannelID, in.MessageID, in.User.ID)
	defer span.End()

	if g.dedupe != nil && g.dedupe.Seen(ctx, in.ChannelID, in.MessageID) {
		g.logger.Debug("Dropping duplicate message",
			"channel", in.ChannelID,
			"message_id", in.MessageID)
		metrics.RecordDuplicateDropped(ctx, in.ChannelID)
		metrics.RecordMessage(ctx, in.ChannelID, outcomeDuplicate, time.Since(start))
		return nil, nil
	}

	var preHooks []string
	if g.hooks != nil {
		var err error
		preHooks, err = g.hooks.ExecutePre(ctx, in)
		if err != nil {
			if errors.Is(err, ErrHandled) {
				metrics.RecordMessage(ctx, in.ChannelID, outcomeAnswered, time.Since(start))
				return nil, nil
			}
			gerr := AsError(err)
			g.tracer.RecordError(span, gerr)
			metrics.RecordGatewayError(ctx, string(gerr.Code))
			metrics.RecordMessage(ctx, in.ChannelID, outcomeRejected, time.Since(start))
			return nil, err
		}
	}

	result, err := g.rag.Answer(ctx, in.Question, in.ChatHistory)
	if err != nil || result == nil {
		gerr := &Error{
			Code:        CodeRAGServiceError,
			Message:     "answer generation failed",
			Recoverable: true,
			Cause:       err,
		}
		g.tracer.RecordError(span, gerr)
		metrics.RecordGatewayError(ctx, string(CodeRAGServiceError))
		metrics.RecordMessage(ctx, in.ChannelID, outcomeError, time.Since(start))
		return nil, gerr
	}

	out := &message.Outgoing{
		MessageID:        uuid.NewString(),
		InReplyTo:        in.MessageID,
		ChannelID:        in.ChannelID,
		Answer:           result.Answer,
		Sources:          result.Sources,
		User:             in.User,
		OriginalQuestion: in.Question,
		Metadata: message.ResponseMetadata{
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			RAGStrategy:      result.Strategy,
			ModelName:        result.ModelName,
			TokensUsed:       result.TokensUsed,
			ConfidenceScore:  result.Confidence,
			Version:          g.version,
			HooksExecuted:    preHooks,
		},
	}

	if g.hooks != nil {
		postHooks, err := g.hooks.ExecutePost(ctx, in, out)
		out.Metadata.HooksExecuted = append(out.Metadata.HooksExecuted, postHooks...)
		if err != nil {
			gerr := AsError(err)
			g.tracer.RecordError(span, gerr)
			metrics.RecordGatewayError(ctx, string(gerr.Code))
			metrics.RecordMessage(ctx, in.ChannelID, outcomeRejected, time.Since(start))
			return nil, err
		}
	}

	metrics.RecordMessage(ctx, in.ChannelID, outcomeAnswered, time.Since(start))
	return out, nil
}

// validate applies the entry checks that precede any processing.
func (g *Gateway) validate(in *message.Incoming) *Error {
	if in == nil {
		return NewError(CodeInvalidMessage, "message is required")
	}
	if strings.TrimSpace(in.Question) == "" {
		return NewError(CodeInvalidMessage, "question must not be empty")
	}
	if in.ChannelID == "" {
		return NewError(CodeInvalidMessage, "channel id is required")
	}
	if g.channels != nil {
		if _, ok := g.channels.Get(in.ChannelID); !ok {
			return NewError(CodeInvalidMessage, "unknown channel: "+in.ChannelID)
		}
	}
	return nil
}
