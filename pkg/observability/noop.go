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
	"time"
)

// NoopMetrics is a metrics implementation that records nothing. It is the
// default for GetGlobalMetrics before initialization and for disabled
// configurations.
type NoopMetrics struct{}

func (NoopMetrics) RecordMessage(_ context.Context, _, _ string, _ time.Duration) {}
func (NoopMetrics) RecordGatewayError(_ context.Context, _ string)                {}
func (NoopMetrics) RecordDuplicateDropped(_ context.Context, _ string)            {}
func (NoopMetrics) RecordHookFailure(_ context.Context, _, _ string)              {}

func (NoopMetrics) RecordRetrieval(_ context.Context, _ string, _ time.Duration, _ error) {}
func (NoopMetrics) RecordRetrievalFallback(_ context.Context)                             {}

func (NoopMetrics) RecordLLMCall(_ context.Context, _ string, _ time.Duration, _, _ int, _ error) {}

func (NoopMetrics) RecordDispatch(_ context.Context, _ string, _ bool)      {}
func (NoopMetrics) RecordUnknownRoutingAction(_ context.Context, _ string)  {}
func (NoopMetrics) RecordEscalationCreated(_ context.Context, _ string)     {}
func (NoopMetrics) RecordEscalationClaimConflict(_ context.Context)         {}
func (NoopMetrics) RecordEscalationResponded(_ context.Context, _ string)   {}
func (NoopMetrics) RecordFollowupEvent(_ context.Context, _ string)         {}
func (NoopMetrics) RecordReaction(_ context.Context, _, _ string)           {}

func (NoopMetrics) RecordIndexRebuild(_ context.Context, _ time.Duration, _ int, _ error) {}

func (NoopMetrics) RecordHTTPRequest(_ context.Context, _, _ string, _ int, _ time.Duration, _ int) {
}

// Handler returns a handler that responds 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// Ensure implementations satisfy the interface.
var (
	_ Metrics = (*PrometheusMetrics)(nil)
	_ Metrics = NoopMetrics{}
)
