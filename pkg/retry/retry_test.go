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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	r := New(fastConfig())

	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientError(t *testing.T) {
	r := New(fastConfig())

	calls := 0
	err := r.Do(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	r := New(fastConfig())

	calls := 0
	permanent := errors.New("invalid credentials")
	err := r.Do(context.Background(), "test", func() error {
		calls++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 2
	r := New(cfg)

	calls := 0
	err := r.Do(context.Background(), "flaky", func() error {
		calls++
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsExhausted(err))
	assert.Contains(t, err.Error(), "flaky failed after 3 attempts")
}

func TestDoRespectsContextCancellation(t *testing.T) {
	r := New(fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, "test", func() error {
		return errors.New("timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithResult(t *testing.T) {
	r := New(fastConfig())

	calls := 0
	result, err := DoWithResult(context.Background(), r, "fetch", func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("503 service unavailable")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestCalculateDelayClampedToMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Second
	cfg.MaxDelay = 2 * time.Second
	r := New(cfg)

	for attempt := 0; attempt < 10; attempt++ {
		delay := r.calculateDelay(attempt)
		assert.LessOrEqual(t, delay, cfg.MaxDelay)
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("timeout")
	err := &Error{Operation: "x", Attempts: 4, LastError: inner, IsExhausted: true}

	assert.ErrorIs(t, err, inner)
}

func TestDoRetriesAllWhenNoPatternsConfigured(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryableErrors = nil
	r := New(cfg)

	calls := 0
	err := r.Do(context.Background(), "ping", func() error {
		calls++
		if calls < 3 {
			return errors.New("collection service is still warming up")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls, "without patterns every error is retryable")
}
