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

// Package observability provides OpenTelemetry tracing and Prometheus metrics
// for the support gateway.
//
// The observability system has two main components:
//
//  1. Tracing: OpenTelemetry spans with OTLP export
//  2. Metrics: Prometheus counters and histograms
//
// Configure observability under the server section of hermod.yaml:
//
//	server:
//	  observability:
//	    tracing:
//	      enabled: true
//	      exporter: otlp
//	      endpoint: localhost:4317
//	      sampling_rate: 1.0
//	    metrics:
//	      enabled: true
//	      endpoint: /metrics
package observability

// =============================================================================
// Service Attributes (OpenTelemetry Semantic Conventions)
// =============================================================================

const (
	// AttrServiceName is the logical name of the service.
	AttrServiceName = "service.name"

	// AttrServiceVersion is the version of the service.
	AttrServiceVersion = "service.version"
)

// =============================================================================
// GenAI Semantic Conventions (OpenTelemetry GenAI SIG aligned)
// =============================================================================

const (
	// AttrGenAISystem identifies the GenAI system.
	AttrGenAISystem = "gen_ai.system"

	// AttrGenAIOperationName is the operation being performed.
	// Values: "chat", "embeddings"
	AttrGenAIOperationName = "gen_ai.operation.name"

	// AttrGenAIRequestModel is the name of the model being used.
	AttrGenAIRequestModel = "gen_ai.request.model"

	// AttrGenAIRequestTemperature is the temperature parameter.
	AttrGenAIRequestTemperature = "gen_ai.request.temperature"

	// AttrGenAIRequestMaxTokens is the maximum tokens requested.
	AttrGenAIRequestMaxTokens = "gen_ai.request.max_tokens"

	// AttrGenAIResponseFinishReason is why generation stopped.
	AttrGenAIResponseFinishReason = "gen_ai.response.finish_reason"

	// AttrGenAIUsageInputTokens is the number of input tokens.
	AttrGenAIUsageInputTokens = "gen_ai.usage.input_tokens"

	// AttrGenAIUsageOutputTokens is the number of output tokens.
	AttrGenAIUsageOutputTokens = "gen_ai.usage.output_tokens"
)

// =============================================================================
// Hermod-Specific Attributes
// =============================================================================

const (
	// AttrChannelID is the channel the message arrived on.
	AttrChannelID = "hermod.channel.id"

	// AttrMessageID is the channel-scoped message identifier.
	AttrMessageID = "hermod.message.id"

	// AttrUserID is the platform user identifier.
	AttrUserID = "hermod.user.id"

	// AttrHookName is the name of a processing hook.
	AttrHookName = "hermod.hook.name"

	// AttrHookPhase is the hook phase ("pre" or "post").
	AttrHookPhase = "hermod.hook.phase"

	// AttrRoutingAction is the routing decision for an answer.
	AttrRoutingAction = "hermod.routing.action"

	// AttrEscalationID is the escalation ticket identifier.
	AttrEscalationID = "hermod.escalation.id"

	// AttrLLMPrompt is the serialized LLM prompt (optional, for debugging).
	AttrLLMPrompt = "hermod.llm.prompt"

	// AttrLLMResponse is the serialized LLM response (optional, for debugging).
	AttrLLMResponse = "hermod.llm.response"
)

// =============================================================================
// Retrieval and Index Attributes
// =============================================================================

const (
	// AttrStoreName is the name of the vector store backing a search.
	AttrStoreName = "hermod.retrieval.store"

	// AttrResultCount is the number of search results.
	AttrResultCount = "hermod.retrieval.result_count"

	// AttrTopK is the requested number of results.
	AttrTopK = "hermod.retrieval.top_k"

	// AttrCollection is the vector collection alias.
	AttrCollection = "hermod.index.collection"

	// AttrSourceCount is the number of knowledge sources in a rebuild.
	AttrSourceCount = "hermod.index.source_count"

	// AttrPointCount is the number of points upserted during a rebuild.
	AttrPointCount = "hermod.index.point_count"

	// AttrEmbeddingModel is the embedding model used.
	AttrEmbeddingModel = "hermod.index.embedding_model"
)

// =============================================================================
// HTTP Attributes
// =============================================================================

const (
	// AttrHTTPMethod is the HTTP method.
	AttrHTTPMethod = "http.method"

	// AttrHTTPPath is the HTTP path (route pattern, not raw path).
	AttrHTTPPath = "http.route"

	// AttrHTTPStatusCode is the HTTP response status code.
	AttrHTTPStatusCode = "http.status_code"

	// AttrHTTPResponseSize is the response body size in bytes.
	AttrHTTPResponseSize = "http.response.body.size"
)

// =============================================================================
// Error Attributes
// =============================================================================

const (
	// AttrErrorType is the type of error that occurred.
	AttrErrorType = "error.type"

	// AttrErrorMessage is the error message.
	AttrErrorMessage = "error.message"
)

// =============================================================================
// Span Names
// =============================================================================

const (
	// SpanGatewayProcess is the top-level span for one message through the
	// gateway pipeline.
	SpanGatewayProcess = "hermod.gateway.process"

	// SpanHookRun is a span for a single hook execution.
	SpanHookRun = "hermod.hook.run"

	// SpanRAGAnswer is a span for answer generation.
	SpanRAGAnswer = "hermod.rag.answer"

	// SpanLLMCall is a span for an LLM API call.
	SpanLLMCall = "hermod.llm.call"

	// SpanEmbed is a span for embedding generation.
	SpanEmbed = "hermod.embed"

	// SpanRetrievalSearch is a span for hybrid retrieval.
	SpanRetrievalSearch = "hermod.retrieval.search"

	// SpanIndexRebuild is a span for a knowledge index rebuild.
	SpanIndexRebuild = "hermod.index.rebuild"

	// SpanDispatch is a span for routing and delivering an answer.
	SpanDispatch = "hermod.dispatch.deliver"

	// SpanHTTPRequest is a span for HTTP request handling.
	SpanHTTPRequest = "hermod.http.request"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultServiceName is the default service name for tracing.
	DefaultServiceName = "hermod"

	// DefaultNamespace is the default metric name prefix.
	DefaultNamespace = "hermod"

	// DefaultSamplingRate is the default trace sampling rate.
	DefaultSamplingRate = 1.0

	// DefaultOTLPEndpoint is the default OTLP endpoint.
	DefaultOTLPEndpoint = "localhost:4317"

	// DefaultMetricsPath is the default Prometheus metrics endpoint.
	DefaultMetricsPath = "/metrics"
)

// =============================================================================
// GenAI Operation Names (for AttrGenAIOperationName)
// =============================================================================

const (
	// OpChat is a chat completion operation.
	OpChat = "chat"

	// OpEmbeddings is an embeddings generation operation.
	OpEmbeddings = "embeddings"
)
