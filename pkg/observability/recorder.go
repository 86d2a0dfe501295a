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
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records gateway domain measurements. Implementations must tolerate
// being called with a zero value of themselves; callers hold either the
// Prometheus recorder or NoopMetrics.
type Metrics interface {
	// RecordMessage records one message through the gateway pipeline.
	// Outcome is the terminal state: "answered", "rejected", "duplicate",
	// "error".
	RecordMessage(ctx context.Context, channel, outcome string, duration time.Duration)

	// RecordGatewayError counts a pipeline error by its error code.
	RecordGatewayError(ctx context.Context, code string)

	// RecordDuplicateDropped counts a message dropped by the idempotency
	// cache.
	RecordDuplicateDropped(ctx context.Context, channel string)

	// RecordHookFailure counts a hook error or recovered panic.
	RecordHookFailure(ctx context.Context, hook, phase string)

	// RecordRetrieval records one hybrid search against a store.
	RecordRetrieval(ctx context.Context, store string, duration time.Duration, err error)

	// RecordRetrievalFallback counts a search served by the fallback store.
	RecordRetrievalFallback(ctx context.Context)

	// RecordLLMCall records one LLM request.
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)

	// RecordDispatch counts a routing decision and whether anything was
	// delivered for it.
	RecordDispatch(ctx context.Context, action string, delivered bool)

	// RecordUnknownRoutingAction counts a routing action the dispatcher did
	// not recognize.
	RecordUnknownRoutingAction(ctx context.Context, action string)

	// RecordEscalationCreated counts a new escalation ticket.
	RecordEscalationCreated(ctx context.Context, channel string)

	// RecordEscalationClaimConflict counts a claim rejected because the
	// ticket is held by someone else.
	RecordEscalationClaimConflict(ctx context.Context)

	// RecordEscalationResponded counts a staff response by delivery outcome:
	// "delivered", "delivery_failed", "not_delivered".
	RecordEscalationResponded(ctx context.Context, outcome string)

	// RecordFollowupEvent counts a feedback follow-up lifecycle event:
	// "started", "superseded", "consumed", "cancelled", "expired".
	RecordFollowupEvent(ctx context.Context, event string)

	// RecordReaction counts a user reaction by rating: "positive",
	// "negative", "other".
	RecordReaction(ctx context.Context, channel, rating string)

	// RecordIndexRebuild records one knowledge index rebuild.
	RecordIndexRebuild(ctx context.Context, duration time.Duration, points int, err error)

	// RecordHTTPRequest records one handled HTTP request.
	RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, responseSize int)

	// Handler serves the metrics endpoint.
	Handler() http.Handler
}

// PrometheusMetrics implements Metrics on OpenTelemetry instruments exported
// through a Prometheus registry. A zero value records nothing.
type PrometheusMetrics struct {
	handler http.Handler

	messagesTotal   metric.Int64Counter
	messageDuration metric.Float64Histogram
	gatewayErrors   metric.Int64Counter
	duplicatesTotal metric.Int64Counter
	hookFailures    metric.Int64Counter

	retrievalDuration  metric.Float64Histogram
	retrievalErrors    metric.Int64Counter
	retrievalFallbacks metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrors       metric.Int64Counter

	dispatchTotal  metric.Int64Counter
	unknownActions metric.Int64Counter

	escalationsCreated   metric.Int64Counter
	escalationConflicts  metric.Int64Counter
	escalationsResponded metric.Int64Counter

	followupsTotal metric.Int64Counter
	reactionsTotal metric.Int64Counter

	rebuildsTotal   metric.Int64Counter
	rebuildDuration metric.Float64Histogram
	pointsUpserted  metric.Int64Counter

	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram
	httpResponseSize metric.Int64Histogram
}

func (m *PrometheusMetrics) RecordMessage(ctx context.Context, channel, outcome string, duration time.Duration) {
	if m == nil || m.messagesTotal == nil || m.messageDuration == nil {
		return
	}

	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
	m.messageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("channel", channel),
	))
}

func (m *PrometheusMetrics) RecordGatewayError(ctx context.Context, code string) {
	if m == nil || m.gatewayErrors == nil {
		return
	}
	m.gatewayErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (m *PrometheusMetrics) RecordDuplicateDropped(ctx context.Context, channel string) {
	if m == nil || m.duplicatesTotal == nil {
		return
	}
	m.duplicatesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *PrometheusMetrics) RecordHookFailure(ctx context.Context, hook, phase string) {
	if m == nil || m.hookFailures == nil {
		return
	}
	m.hookFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("hook", hook),
		attribute.String("phase", phase),
	))
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, store string, duration time.Duration, err error) {
	if m == nil || m.retrievalDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("store", store))
	m.retrievalDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil && m.retrievalErrors != nil {
		m.retrievalErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordRetrievalFallback(ctx context.Context) {
	if m == nil || m.retrievalFallbacks == nil {
		return
	}
	m.retrievalFallbacks.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)

	if err != nil && m.llmErrors != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

func (m *PrometheusMetrics) RecordDispatch(ctx context.Context, action string, delivered bool) {
	if m == nil || m.dispatchTotal == nil {
		return
	}
	m.dispatchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("delivered", delivered),
	))
}

func (m *PrometheusMetrics) RecordUnknownRoutingAction(ctx context.Context, action string) {
	if m == nil || m.unknownActions == nil {
		return
	}
	m.unknownActions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *PrometheusMetrics) RecordEscalationCreated(ctx context.Context, channel string) {
	if m == nil || m.escalationsCreated == nil {
		return
	}
	m.escalationsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func (m *PrometheusMetrics) RecordEscalationClaimConflict(ctx context.Context) {
	if m == nil || m.escalationConflicts == nil {
		return
	}
	m.escalationConflicts.Add(ctx, 1)
}

func (m *PrometheusMetrics) RecordEscalationResponded(ctx context.Context, outcome string) {
	if m == nil || m.escalationsResponded == nil {
		return
	}
	m.escalationsResponded.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *PrometheusMetrics) RecordFollowupEvent(ctx context.Context, event string) {
	if m == nil || m.followupsTotal == nil {
		return
	}
	m.followupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *PrometheusMetrics) RecordReaction(ctx context.Context, channel, rating string) {
	if m == nil || m.reactionsTotal == nil {
		return
	}
	m.reactionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("rating", rating),
	))
}

func (m *PrometheusMetrics) RecordIndexRebuild(ctx context.Context, duration time.Duration, points int, err error) {
	if m == nil || m.rebuildsTotal == nil || m.rebuildDuration == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.rebuildsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.rebuildDuration.Record(ctx, duration.Seconds())

	if points > 0 && m.pointsUpserted != nil {
		m.pointsUpserted.Add(ctx, int64(points))
	}
}

func (m *PrometheusMetrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration, responseSize int) {
	if m == nil || m.httpRequests == nil || m.httpDuration == nil {
		return
	}

	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(statusCode)),
	))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
	if m.httpResponseSize != nil {
		m.httpResponseSize.Record(ctx, int64(responseSize), metric.WithAttributes(
			attribute.String("route", route),
		))
	}
}

// Handler serves the Prometheus scrape endpoint. When metrics are disabled it
// responds 503 so probes can tell the difference from an empty exposition.
func (m *PrometheusMetrics) Handler() http.Handler {
	if m == nil || m.handler == nil {
		return NoopMetrics{}.Handler()
	}
	return m.handler
}

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder. It never
// returns nil; before SetGlobalMetrics it returns NoopMetrics.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if globalMetrics == nil {
		return NoopMetrics{}
	}
	return globalMetrics
}
