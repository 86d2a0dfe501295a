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

package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsWithinBudget(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), 3, time.Minute)

	for i := 1; i <= 3; i++ {
		res, err := limiter.Allow(ctx, "web:u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, i, res.Count)
	}

	res, err := limiter.Allow(ctx, "web:u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 4, res.Count)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	// Other identifiers have their own budget.
	res, err = limiter.Allow(ctx, "web:u2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterWindowRollsOver(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(NewMemoryStore(), 1, 20*time.Millisecond)

	res, err := limiter.Allow(ctx, "web:u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = limiter.Allow(ctx, "web:u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	time.Sleep(40 * time.Millisecond)

	res, err = limiter.Allow(ctx, "web:u1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count)
}

func TestLimiterDisabledBudgetAllowsEverything(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), 0, time.Minute)

	for i := 0; i < 10; i++ {
		res, err := limiter.Allow(context.Background(), "web:u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

type failingStore struct{}

func (failingStore) Increment(ctx context.Context, identifier string, window time.Duration) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("backend down")
}

func (failingStore) Close() error { return nil }

func TestLimiterFailsOpenOnStoreError(t *testing.T) {
	limiter := NewLimiter(failingStore{}, 5, time.Minute)

	res, err := limiter.Allow(context.Background(), "web:u1")
	require.Error(t, err)
	assert.True(t, res.Allowed)
}

func TestSQLStoreIncrementAndRollover(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	// In-memory sqlite exists per connection; a second pooled conn
	// would see an empty database.
	db.SetMaxOpenConns(1)

	store, err := NewSQLStore(db, "sqlite")
	require.NoError(t, err)

	ctx := context.Background()

	count, _, err := store.Increment(ctx, "web:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, windowEnd, err := store.Increment(ctx, "web:u1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, windowEnd.After(time.Now().UTC()))

	// A short window resets the counter once it has passed.
	_, _, err = store.Increment(ctx, "web:u2", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)

	count, _, err = store.Increment(ctx, "web:u2", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLStoreRejectsUnknownDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLStore(db, "oracle")
	require.Error(t, err)

	_, err = NewSQLStore(nil, "sqlite")
	require.Error(t, err)
}
