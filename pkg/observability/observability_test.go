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
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracingConfigDefaults(t *testing.T) {
	cfg := TracingConfig{}
	cfg.SetDefaults()

	assert.Equal(t, "hermod", cfg.ServiceName)
	assert.Equal(t, "otlp", cfg.Exporter)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SamplingRate)
	assert.True(t, cfg.IsInsecure())
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestTracingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TracingConfig
		wantErr bool
	}{
		{
			name: "disabled skips validation",
			cfg:  TracingConfig{Enabled: false, SamplingRate: 99},
		},
		{
			name: "stdout exporter accepted",
			cfg:  TracingConfig{Enabled: true, Exporter: "stdout", Endpoint: "ignored", SamplingRate: 0.5},
		},
		{
			name:    "sampling rate out of range",
			cfg:     TracingConfig{Enabled: true, Exporter: "otlp", Endpoint: "localhost:4317", SamplingRate: 1.5},
			wantErr: true,
		},
		{
			name:    "unknown exporter",
			cfg:     TracingConfig{Enabled: true, Exporter: "jaeger", Endpoint: "localhost:14268", SamplingRate: 1.0},
			wantErr: true,
		},
		{
			name:    "missing endpoint",
			cfg:     TracingConfig{Enabled: true, Exporter: "otlp", SamplingRate: 1.0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetricPrefix(t *testing.T) {
	assert.Equal(t, "hermod_", metricPrefix(MetricsConfig{}))
	assert.Equal(t, "hermod_gateway_", metricPrefix(MetricsConfig{Namespace: "hermod", Subsystem: "gateway"}))
	assert.Equal(t, "peerex_", metricPrefix(MetricsConfig{Namespace: "peerex"}))
}

func TestZeroPrometheusMetricsIsSafe(t *testing.T) {
	ctx := context.Background()
	var m *PrometheusMetrics

	assert.NotPanics(t, func() {
		m.RecordMessage(ctx, "web", "answered", 100*time.Millisecond)
		m.RecordGatewayError(ctx, "INTERNAL_ERROR")
		m.RecordDuplicateDropped(ctx, "web")
		m.RecordHookFailure(ctx, "pii", "pre")
		m.RecordRetrieval(ctx, "qdrant", 20*time.Millisecond, nil)
		m.RecordRetrievalFallback(ctx)
		m.RecordLLMCall(ctx, "gpt-4o-mini", 500*time.Millisecond, 100, 50, nil)
		m.RecordDispatch(ctx, "auto_send", true)
		m.RecordUnknownRoutingAction(ctx, "banana")
		m.RecordEscalationCreated(ctx, "matrix")
		m.RecordEscalationClaimConflict(ctx)
		m.RecordEscalationResponded(ctx, "delivered")
		m.RecordFollowupEvent(ctx, "started")
		m.RecordReaction(ctx, "matrix", "negative")
		m.RecordIndexRebuild(ctx, time.Second, 128, nil)
		m.RecordHTTPRequest(ctx, "GET", "/health", 200, time.Millisecond, 2)
	})

	disabled, err := InitMetrics(ctx, MetricsConfig{})
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		disabled.RecordMessage(ctx, "web", "answered", time.Millisecond)
	})
}

func TestInitMetricsEnabledExposesInstruments(t *testing.T) {
	ctx := context.Background()

	m, err := InitMetrics(ctx, MetricsConfig{Enabled: true})
	require.NoError(t, err)

	m.RecordMessage(ctx, "web", "answered", 120*time.Millisecond)
	m.RecordLLMCall(ctx, "gpt-4o-mini", 300*time.Millisecond, 200, 80, nil)
	m.RecordIndexRebuild(ctx, 2*time.Second, 512, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "hermod_messages_total")
	assert.Contains(t, body, "hermod_message_duration_seconds")
	assert.Contains(t, body, "hermod_llm_tokens_input_total")
	assert.Contains(t, body, "hermod_index_points_upserted_total")
}

func TestNoopMetricsHandlerRespondsUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	NoopMetrics{}.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGlobalMetricsNeverNil(t *testing.T) {
	defer SetGlobalMetrics(nil)

	assert.NotNil(t, GetGlobalMetrics())

	m := &PrometheusMetrics{}
	SetGlobalMetrics(m)
	assert.Same(t, m, GetGlobalMetrics().(*PrometheusMetrics))

	SetGlobalMetrics(nil)
	assert.NotNil(t, GetGlobalMetrics())
}

func TestNewTracerDisabledReturnsNil(t *testing.T) {
	tracer, err := NewTracer(context.Background(), &TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.Nil(t, tracer)

	ctx, span := tracer.Start(context.Background(), "anything")
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
	span.End()

	assert.NotPanics(t, func() {
		tracer.AddLLMUsage(span, 10, 5)
		tracer.AddPayload(span, "prompt", "response")
		tracer.RecordError(span, assert.AnError)
		assert.NoError(t, tracer.Shutdown(context.Background()))
	})
}

func TestNoopManagerIsUsable(t *testing.T) {
	m := NoopManager()

	assert.Nil(t, m.GetTracer())
	assert.NotNil(t, m.GetMetrics())
	assert.Equal(t, "/metrics", m.MetricsPath())
	assert.NoError(t, m.Shutdown(context.Background()))
}

type captureMetrics struct {
	NoopMetrics

	mu       sync.Mutex
	method   string
	route    string
	status   int
	duration time.Duration
	size     int
}

func (c *captureMetrics) RecordHTTPRequest(_ context.Context, method, route string, statusCode int, duration time.Duration, responseSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = method
	c.route = route
	c.status = statusCode
	c.duration = duration
	c.size = responseSize
}

func TestHTTPMiddlewareRecordsRoutePattern(t *testing.T) {
	captured := &captureMetrics{}

	router := chi.NewRouter()
	router.Use(HTTPMiddleware(nil, captured))
	router.Get("/v1/escalations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/escalations/42", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)

	captured.mu.Lock()
	defer captured.mu.Unlock()
	assert.Equal(t, http.MethodGet, captured.method)
	assert.Equal(t, "/v1/escalations/{id}", captured.route)
	assert.Equal(t, http.StatusTeapot, captured.status)
	assert.Equal(t, len("short and stout"), captured.size)
	assert.Greater(t, captured.duration, time.Duration(0))
}
