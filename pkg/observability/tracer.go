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

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps the OpenTelemetry tracer with gateway-specific helpers.
// All methods are safe on a nil receiver, which is what callers hold when
// tracing is disabled.
type Tracer struct {
	provider       *sdktrace.TracerProvider
	tracer         trace.Tracer
	capturePayload bool
	serviceName    string
}

// TracerOption configures the Tracer.
type TracerOption func(*Tracer)

// WithCapturePayloads enables capturing full LLM prompt/response in spans.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) {
		t.capturePayload = capture
	}
}

// NewTracer creates a new Tracer from configuration. It returns (nil, nil)
// when tracing is disabled; the nil Tracer is usable and produces no spans.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{
		provider:    provider,
		tracer:      provider.Tracer(cfg.ServiceName),
		serviceName: cfg.ServiceName,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// createExporter creates the appropriate span exporter based on configuration.
func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

// createOTLPExporter creates an OTLP gRPC exporter.
func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}

	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartGatewayProcess begins the top-level span for one incoming message.
func (t *Tracer) StartGatewayProcess(ctx context.Context, channelID, messageID, userID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanGatewayProcess,
		trace.WithAttributes(
			attribute.String(AttrChannelID, channelID),
			attribute.String(AttrMessageID, messageID),
			attribute.String(AttrUserID, userID),
		),
	)
}

// StartHook begins a span for a single hook execution.
func (t *Tracer) StartHook(ctx context.Context, hookName, phase string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanHookRun,
		trace.WithAttributes(
			attribute.String(AttrHookName, hookName),
			attribute.String(AttrHookPhase, phase),
		),
	)
}

// StartLLMCall begins a span for an LLM API call.
func (t *Tracer) StartLLMCall(ctx context.Context, model string, maxTokens int, temperature float64) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String(AttrGenAIOperationName, OpChat),
		attribute.String(AttrGenAIRequestModel, model),
	}

	if maxTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrGenAIRequestMaxTokens, maxTokens))
	}
	if temperature > 0 {
		attrs = append(attrs, attribute.Float64(AttrGenAIRequestTemperature, temperature))
	}

	return t.Start(ctx, SpanLLMCall, trace.WithAttributes(attrs...))
}

// StartEmbed begins a span for embedding generation.
func (t *Tracer) StartEmbed(ctx context.Context, model string, textLength int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanEmbed,
		trace.WithAttributes(
			attribute.String(AttrGenAIOperationName, OpEmbeddings),
			attribute.String(AttrEmbeddingModel, model),
			attribute.Int("text_length", textLength),
		),
	)
}

// StartRetrievalSearch begins a span for hybrid retrieval. The query text is
// deliberately not recorded; it may contain user data.
func (t *Tracer) StartRetrievalSearch(ctx context.Context, storeName string, topK int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanRetrievalSearch,
		trace.WithAttributes(
			attribute.String(AttrStoreName, storeName),
			attribute.Int(AttrTopK, topK),
		),
	)
}

// StartIndexRebuild begins a span for a knowledge index rebuild.
func (t *Tracer) StartIndexRebuild(ctx context.Context, collection string, sourceCount int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanIndexRebuild,
		trace.WithAttributes(
			attribute.String(AttrCollection, collection),
			attribute.Int(AttrSourceCount, sourceCount),
		),
	)
}

// StartDispatch begins a span for routing and delivering an answer.
func (t *Tracer) StartDispatch(ctx context.Context, action, channelID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanDispatch,
		trace.WithAttributes(
			attribute.String(AttrRoutingAction, action),
			attribute.String(AttrChannelID, channelID),
		),
	)
}

// AddRetrievalResults adds the result count to a retrieval span.
func (t *Tracer) AddRetrievalResults(span trace.Span, resultCount int) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int(AttrResultCount, resultCount))
}

// AddIndexStats adds point counts to a rebuild span.
func (t *Tracer) AddIndexStats(span trace.Span, pointCount int) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.Int(AttrPointCount, pointCount))
}

// AddLLMUsage adds token usage information to a span.
func (t *Tracer) AddLLMUsage(span trace.Span, inputTokens, outputTokens int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int(AttrGenAIUsageInputTokens, inputTokens),
		attribute.Int(AttrGenAIUsageOutputTokens, outputTokens),
	)
}

// AddLLMFinishReason adds the finish reason to a span.
func (t *Tracer) AddLLMFinishReason(span trace.Span, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrGenAIResponseFinishReason, reason))
}

// AddPayload adds the serialized prompt/response to a span (if capture is
// enabled).
func (t *Tracer) AddPayload(span trace.Span, prompt, response string) {
	if t == nil || span == nil || !t.capturePayload {
		return
	}
	if prompt != "" {
		span.SetAttributes(attribute.String(AttrLLMPrompt, prompt))
	}
	if response != "" {
		span.SetAttributes(attribute.String(AttrLLMResponse, response))
	}
}

// RecordError records an error on a span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// Shutdown gracefully shuts down the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// noopSpan returns a no-op span that satisfies the trace.Span interface.
func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
