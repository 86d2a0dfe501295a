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

// Package ratelimit enforces a fixed-window request budget per user and
// channel. The rate-limit pre-hook consults it before any message
// reaches the RAG pipeline.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrRateLimitExceeded is returned when an identifier is over budget.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Store persists fixed-window counters. Implementations must be safe
// for concurrent use.
type Store interface {
	// Increment adds one request for identifier in the current window,
	// starting a new window when the previous one has ended. It returns
	// the count after the increment and the window end.
	Increment(ctx context.Context, identifier string, window time.Duration) (int, time.Time, error)

	Close() error
}

// Result describes one admission decision.
type Result struct {
	Allowed bool

	// Count is the number of requests recorded in the current window,
	// including this one.
	Count int

	// Limit is the configured window budget.
	Limit int

	// RetryAfter is how long until the window rolls over. Zero when the
	// request was allowed.
	RetryAfter time.Duration
}

// Limiter applies a request budget over a Store.
type Limiter struct {
	store    Store
	requests int
	window   time.Duration
}

// NewLimiter builds a limiter allowing requests per window. A
// non-positive requests budget disables limiting.
func NewLimiter(store Store, requests int, window time.Duration) *Limiter {
	return &Limiter{
		store:    store,
		requests: requests,
		window:   window,
	}
}

// Allow records one request for identifier and reports whether it fits
// the budget. Store failures fail open so a broken counter backend
// never blocks support traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string) (*Result, error) {
	if l.requests <= 0 {
		return &Result{Allowed: true, Limit: l.requests}, nil
	}

	count, windowEnd, err := l.store.Increment(ctx, identifier, l.window)
	if err != nil {
		return &Result{Allowed: true, Limit: l.requests}, err
	}

	res := &Result{
		Count: count,
		Limit: l.requests,
	}
	if count > l.requests {
		res.RetryAfter = time.Until(windowEnd)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
		return res, nil
	}

	res.Allowed = true
	return res, nil
}
