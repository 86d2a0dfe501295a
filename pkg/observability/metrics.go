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

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// InitMetrics builds the Prometheus-backed metrics recorder. When metrics are
// disabled it returns an empty recorder whose methods do nothing and whose
// Handler responds 503.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	registry := promclient.NewRegistry()

	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	providerOpts := []sdkmetric.Option{
		sdkmetric.WithReader(promExporter),
	}
	if len(cfg.ConstLabels) > 0 {
		attrs := make([]attribute.KeyValue, 0, len(cfg.ConstLabels))
		for k, v := range cfg.ConstLabels {
			attrs = append(attrs, attribute.String(k, v))
		}
		providerOpts = append(providerOpts, sdkmetric.WithResource(resource.NewSchemaless(attrs...)))
	}

	meterProvider := sdkmetric.NewMeterProvider(providerOpts...)
	meter := meterProvider.Meter(DefaultServiceName)

	set := &instrumentSet{meter: meter, prefix: metricPrefix(cfg)}

	m := &PrometheusMetrics{
		handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),

		messagesTotal:   set.counter("messages_total", "Messages processed by channel and outcome"),
		messageDuration: set.histogram("message_duration_seconds", "End-to-end gateway processing duration in seconds"),
		gatewayErrors:   set.counter("gateway_errors_total", "Gateway pipeline errors by code"),
		duplicatesTotal: set.counter("duplicate_messages_total", "Messages dropped by the idempotency cache"),
		hookFailures:    set.counter("hook_failures_total", "Hook errors and panics by hook and phase"),

		retrievalDuration:  set.histogram("retrieval_duration_seconds", "Hybrid retrieval duration in seconds"),
		retrievalErrors:    set.counter("retrieval_errors_total", "Retrieval failures by store"),
		retrievalFallbacks: set.counter("retrieval_fallbacks_total", "Searches served by the fallback store"),

		llmDuration:     set.histogram("llm_request_duration_seconds", "LLM request duration in seconds"),
		llmInputTokens:  set.counter("llm_tokens_input_total", "Total input tokens sent to the LLM"),
		llmOutputTokens: set.counter("llm_tokens_output_total", "Total output tokens from the LLM"),
		llmErrors:       set.counter("llm_errors_total", "Total LLM errors"),

		dispatchTotal:  set.counter("dispatch_total", "Routing decisions by action and delivery result"),
		unknownActions: set.counter("unknown_routing_actions_total", "Routing actions not recognized by the dispatcher"),

		escalationsCreated:   set.counter("escalations_created_total", "Escalation tickets created by channel"),
		escalationConflicts:  set.counter("escalation_claim_conflicts_total", "Escalation claims rejected because another staff member holds the ticket"),
		escalationsResponded: set.counter("escalations_responded_total", "Staff responses by delivery outcome"),

		followupsTotal: set.counter("followups_total", "Feedback follow-up lifecycle events"),
		reactionsTotal: set.counter("reactions_total", "Message reactions by channel and rating"),

		rebuildsTotal:   set.counter("index_rebuilds_total", "Knowledge index rebuilds by status"),
		rebuildDuration: set.histogram("index_rebuild_duration_seconds", "Knowledge index rebuild duration in seconds"),
		pointsUpserted:  set.counter("index_points_upserted_total", "Vector points upserted during rebuilds"),

		httpRequests:     set.counter("http_requests_total", "HTTP requests by method, route and status"),
		httpDuration:     set.histogram("http_request_duration_seconds", "HTTP request duration in seconds"),
		httpResponseSize: set.intHistogram("http_response_size_bytes", "HTTP response body size in bytes"),
	}

	if set.err != nil {
		return nil, set.err
	}
	return m, nil
}

// metricPrefix builds the metric name prefix from namespace and subsystem.
func metricPrefix(cfg MetricsConfig) string {
	prefix := cfg.Namespace
	if prefix == "" {
		prefix = DefaultNamespace
	}
	if cfg.Subsystem != "" {
		prefix += "_" + cfg.Subsystem
	}
	return prefix + "_"
}

// instrumentSet creates instruments against one meter and remembers the first
// creation error so InitMetrics stays a flat list.
type instrumentSet struct {
	meter  metric.Meter
	prefix string
	err    error
}

func (s *instrumentSet) counter(name, description string) metric.Int64Counter {
	if s.err != nil {
		return nil
	}
	c, err := s.meter.Int64Counter(s.prefix+name, metric.WithDescription(description))
	if err != nil {
		s.err = fmt.Errorf("failed to create %s counter: %w", name, err)
		return nil
	}
	return c
}

func (s *instrumentSet) histogram(name, description string) metric.Float64Histogram {
	if s.err != nil {
		return nil
	}
	h, err := s.meter.Float64Histogram(s.prefix+name, metric.WithDescription(description))
	if err != nil {
		s.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		return nil
	}
	return h
}

func (s *instrumentSet) intHistogram(name, description string) metric.Int64Histogram {
	if s.err != nil {
		return nil
	}
	h, err := s.meter.Int64Histogram(s.prefix+name, metric.WithDescription(description))
	if err != nil {
		s.err = fmt.Errorf("failed to create %s histogram: %w", name, err)
		return nil
	}
	return h
}
