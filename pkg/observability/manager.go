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
	"sync"
)

// Manager owns the tracer and metrics recorder for one process.
type Manager struct {
	tracer  *Tracer
	metrics Metrics
	config  Config
	mu      sync.RWMutex
}

// NewManager creates a Manager from configuration. Call Initialize before
// use.
func NewManager(cfg Config) *Manager {
	return &Manager{
		config: cfg,
	}
}

// NoopManager returns a Manager that traces and records nothing. Use this
// when observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{metrics: NoopMetrics{}}
}

// Initialize builds the tracer and metrics recorder and installs the
// process-global metrics handle.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracer, err := NewTracer(ctx, &m.config.Tracing,
		WithCapturePayloads(m.config.Tracing.CapturePayloads),
	)
	if err != nil {
		return err
	}
	m.tracer = tracer

	metrics, err := InitMetrics(ctx, m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics

	SetGlobalMetrics(m.metrics)

	return nil
}

// GetTracer returns the tracer. A nil result is valid and produces no spans.
func (m *Manager) GetTracer() *Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracer
}

// GetMetrics returns the metrics recorder, never nil.
func (m *Manager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics == nil {
		return NoopMetrics{}
	}
	return m.metrics
}

// MetricsPath returns the configured scrape endpoint path.
func (m *Manager) MetricsPath() string {
	if m.config.Metrics.Endpoint != "" {
		return m.config.Metrics.Endpoint
	}
	return DefaultMetricsPath
}

// Shutdown flushes and stops the tracer.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tracer.Shutdown(ctx)
}
