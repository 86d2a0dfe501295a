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

package retriever

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/observability"
)

// ResilientRetriever guards the primary retriever with a circuit
// breaker and degrades to the fallback, then to empty results. It never
// returns an error; the answer path treats missing context as a normal
// condition.
//
// The breaker opens after a single primary failure and half-opens after
// the configured reset interval, so a down store is probed at most once
// per interval instead of on every question.
type ResilientRetriever struct {
	primary  Retriever
	fallback Retriever
	breaker  *gobreaker.CircuitBreaker[[]Document]
	logger   *slog.Logger
}

var _ Retriever = (*ResilientRetriever)(nil)

// NewResilient wraps primary with the breaker. fallback may be nil, in
// which case primary failures yield empty results directly.
func NewResilient(cfg *config.RetrievalConfig, primary, fallback Retriever, logger *slog.Logger) *ResilientRetriever {
	if logger == nil {
		logger = slog.Default()
	}

	r := &ResilientRetriever{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}

	r.breaker = gobreaker.NewCircuitBreaker[[]Document](gobreaker.Settings{
		Name:        "retrieval",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.ResetInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		// Caller mistakes (short or oversized queries) are not store
		// failures and must not open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidQuery)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Retrieval breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return r
}

// Name identifies the wrapper by its primary retriever.
func (r *ResilientRetriever) Name() string {
	return r.primary.Name()
}

// Retrieve tries the primary through the breaker, then the fallback.
// Both failing returns empty results, never an error.
func (r *ResilientRetriever) Retrieve(ctx context.Context, query string, topK int, filter map[string]any) ([]Document, error) {
	docs, err := r.breaker.Execute(func() ([]Document, error) {
		return r.primary.Retrieve(ctx, query, topK, filter)
	})
	if err == nil {
		return docs, nil
	}
	if errors.Is(err, ErrInvalidQuery) {
		r.logger.Debug("Rejected retrieval query", "error", err)
		return []Document{}, nil
	}

	observability.GetGlobalMetrics().RecordRetrievalFallback(ctx)
	r.logger.Warn("Primary retrieval unavailable",
		"retriever", r.primary.Name(),
		"error", err)

	if r.fallback == nil {
		return []Document{}, nil
	}

	docs, err = r.fallback.Retrieve(ctx, query, topK, filter)
	if err != nil {
		r.logger.Error("Fallback retrieval failed",
			"retriever", r.fallback.Name(),
			"error", err)
		return []Document{}, nil
	}
	return docs, nil
}
