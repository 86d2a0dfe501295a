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
	"fmt"
	"time"
)

const createRateLimitTableSQL = `
CREATE TABLE IF NOT EXISTS rate_limit_usage (
    identifier VARCHAR(512) PRIMARY KEY,
    request_count INTEGER NOT NULL,
    window_end TIMESTAMP NOT NULL
)`

// SQLStore persists window counters in the shared SQL database so the
// budget holds across restarts and replicas. The connection is owned by
// the process-wide pool; Close does not close it.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if dialect == "sqlite3" {
		dialect = "sqlite"
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createRateLimitTableSQL); err != nil {
		return fmt.Errorf("failed to create rate_limit_usage table: %w", err)
	}
	return nil
}

func (s *SQLStore) Increment(ctx context.Context, identifier string, window time.Duration) (int, time.Time, error) {
	count, windowEnd, err := s.increment(ctx, identifier, window)
	if err != nil {
		// A concurrent first request for the same identifier can race the
		// insert; the second attempt finds the committed row.
		return s.increment(ctx, identifier, window)
	}
	return count, windowEnd, nil
}

func (s *SQLStore) increment(ctx context.Context, identifier string, window time.Duration) (int, time.Time, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT request_count, window_end FROM rate_limit_usage WHERE identifier = ? FOR UPDATE`
	switch s.dialect {
	case "postgres":
		query = `SELECT request_count, window_end FROM rate_limit_usage WHERE identifier = $1 FOR UPDATE`
	case "sqlite":
		query = `SELECT request_count, window_end FROM rate_limit_usage WHERE identifier = ?`
	}

	var (
		count     int
		windowEnd time.Time
	)
	err = tx.QueryRowContext(ctx, query, identifier).Scan(&count, &windowEnd)

	switch {
	case err == sql.ErrNoRows:
		count = 1
		windowEnd = now.Add(window)

		insert := `INSERT INTO rate_limit_usage (identifier, request_count, window_end) VALUES (?, ?, ?)`
		if s.dialect == "postgres" {
			insert = `INSERT INTO rate_limit_usage (identifier, request_count, window_end) VALUES ($1, $2, $3)`
		}
		if _, err := tx.ExecContext(ctx, insert, identifier, count, windowEnd); err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to insert usage: %w", err)
		}

	case err != nil:
		return 0, time.Time{}, fmt.Errorf("failed to query usage: %w", err)

	default:
		if windowEnd.Before(now) {
			count = 1
			windowEnd = now.Add(window)
		} else {
			count++
		}

		update := `UPDATE rate_limit_usage SET request_count = ?, window_end = ? WHERE identifier = ?`
		if s.dialect == "postgres" {
			update = `UPDATE rate_limit_usage SET request_count = $1, window_end = $2 WHERE identifier = $3`
		}
		if _, err := tx.ExecContext(ctx, update, count, windowEnd, identifier); err != nil {
			return 0, time.Time{}, fmt.Errorf("failed to update usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to commit usage: %w", err)
	}
	return count, windowEnd, nil
}

func (s *SQLStore) Close() error {
	return nil
}

var _ Store = (*SQLStore)(nil)
