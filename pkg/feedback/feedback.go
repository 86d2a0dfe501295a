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

// Package feedback persists user reactions to AI answers and the
// clarification text collected by the follow-up coordinator.
//
// Entries are keyed by the internal message id of the delivered answer.
// Recent clarifications feed back into the RAG prompt as guidance
// bullets.
package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Rating values stored with each reaction.
const (
	RatingPositive = "positive"
	RatingNegative = "negative"
	RatingOther    = "other"
)

// Entry is one recorded reaction, optionally enriched with the
// clarification text the reactor sent afterwards.
type Entry struct {
	ID                int64     `json:"id"`
	InternalMessageID string    `json:"internal_message_id"`
	ChannelID         string    `json:"channel_id"`
	ReactorHash       string    `json:"reactor_hash"`
	Reaction          string    `json:"reaction"`
	Rating            string    `json:"rating"`
	Explanation       string    `json:"explanation,omitempty"`
	Issues            []string  `json:"issues,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

const createFeedbackTableSQL = `
CREATE TABLE IF NOT EXISTS feedback_entries (
    id %s,
    message_id VARCHAR(255) NOT NULL,
    channel_id VARCHAR(64) NOT NULL,
    reactor_hash VARCHAR(64) NOT NULL,
    reaction VARCHAR(32) NOT NULL,
    rating VARCHAR(16) NOT NULL,
    explanation TEXT,
    issues_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const (
	createFeedbackMessageIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_feedback_entries_message_id ON feedback_entries(message_id)`

	createFeedbackUpdatedIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_feedback_entries_updated_at ON feedback_entries(updated_at)`
)

// autoIncrementColumn returns the dialect-specific auto-increment
// primary key column definition.
func autoIncrementColumn(dialect string) string {
	switch dialect {
	case "postgres":
		return "BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// Store is a SQL-backed feedback entry store.
type Store struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
}

// NewStore creates a feedback store on a shared database connection.
// The connection is owned by the caller and is not closed by the store.
func NewStore(db *sql.DB, dialect string, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	normalized := dialect
	if dialect == "sqlite3" {
		normalized = "sqlite"
	}
	switch normalized {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &Store{db: db, dialect: normalized, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tableSQL := fmt.Sprintf(createFeedbackTableSQL, autoIncrementColumn(s.dialect))
	if _, err := s.db.ExecContext(ctx, tableSQL); err != nil {
		return fmt.Errorf("failed to create feedback_entries table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createFeedbackMessageIndexSQL); err != nil {
		return fmt.Errorf("failed to create message_id index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createFeedbackUpdatedIndexSQL); err != nil {
		return fmt.Errorf("failed to create updated_at index: %w", err)
	}
	return nil
}

// RecordReaction appends a reaction row for a delivered answer.
func (s *Store) RecordReaction(ctx context.Context, internalMessageID, channelID, reactorHash, reaction, rating string) error {
	if internalMessageID == "" {
		return fmt.Errorf("internal message id is required")
	}

	now := time.Now().UTC()
	query := `
INSERT INTO feedback_entries (message_id, channel_id, reactor_hash, reaction, rating, explanation, issues_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, '', '', ?, ?)`
	if s.dialect == "postgres" {
		query = `
INSERT INTO feedback_entries (message_id, channel_id, reactor_hash, reaction, rating, explanation, issues_json, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, '', '', $6, $7)`
	}

	if _, err := s.db.ExecContext(ctx, query, internalMessageID, channelID, reactorHash, reaction, rating, now, now); err != nil {
		return fmt.Errorf("failed to record reaction: %w", err)
	}
	return nil
}

// UpdateFeedbackEntry attaches clarification text and issue tags to the
// most recent reaction row for the message. When no reaction row exists
// (the reaction event was lost) a negative row is created so the
// clarification is never dropped.
func (s *Store) UpdateFeedbackEntry(ctx context.Context, internalMessageID, explanation string, issues []string) error {
	if internalMessageID == "" {
		return fmt.Errorf("internal message id is required")
	}

	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("failed to marshal issues: %w", err)
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectSQL := `SELECT id FROM feedback_entries WHERE message_id = ? ORDER BY id DESC LIMIT 1`
	if s.dialect == "postgres" {
		selectSQL = `SELECT id FROM feedback_entries WHERE message_id = $1 ORDER BY id DESC LIMIT 1`
	}

	var id int64
	err = tx.QueryRowContext(ctx, selectSQL, internalMessageID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		insertSQL := `
INSERT INTO feedback_entries (message_id, channel_id, reactor_hash, reaction, rating, explanation, issues_json, created_at, updated_at)
VALUES (?, '', '', '', ?, ?, ?, ?, ?)`
		if s.dialect == "postgres" {
			insertSQL = `
INSERT INTO feedback_entries (message_id, channel_id, reactor_hash, reaction, rating, explanation, issues_json, created_at, updated_at)
VALUES ($1, '', '', '', $2, $3, $4, $5, $6)`
		}
		if _, err := tx.ExecContext(ctx, insertSQL, internalMessageID, RatingNegative, explanation, string(issuesJSON), now, now); err != nil {
			return fmt.Errorf("failed to insert clarification: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up feedback entry: %w", err)
	default:
		updateSQL := `UPDATE feedback_entries SET explanation = ?, issues_json = ?, updated_at = ? WHERE id = ?`
		if s.dialect == "postgres" {
			updateSQL = `UPDATE feedback_entries SET explanation = $1, issues_json = $2, updated_at = $3 WHERE id = $4`
		}
		if _, err := tx.ExecContext(ctx, updateSQL, explanation, string(issuesJSON), now, id); err != nil {
			return fmt.Errorf("failed to update feedback entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit feedback entry: %w", err)
	}
	return nil
}

// GetByMessageID returns all reaction rows for an internal message id,
// newest first.
func (s *Store) GetByMessageID(ctx context.Context, internalMessageID string) ([]Entry, error) {
	query := `
SELECT id, message_id, channel_id, reactor_hash, reaction, rating, explanation, issues_json, created_at, updated_at
FROM feedback_entries
WHERE message_id = ?
ORDER BY id DESC`
	if s.dialect == "postgres" {
		query = `
SELECT id, message_id, channel_id, reactor_hash, reaction, rating, explanation, issues_json, created_at, updated_at
FROM feedback_entries
WHERE message_id = $1
ORDER BY id DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, internalMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// RecentGuidance returns the most recent clarification texts, newest
// first, formatted as prompt-ready bullets.
func (s *Store) RecentGuidance(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
SELECT explanation, issues_json FROM feedback_entries
WHERE explanation <> ''
ORDER BY updated_at DESC
LIMIT ?`
	if s.dialect == "postgres" {
		query = `
SELECT explanation, issues_json FROM feedback_entries
WHERE explanation <> ''
ORDER BY updated_at DESC
LIMIT $1`
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query guidance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var bullets []string
	for rows.Next() {
		var explanation, issuesJSON string
		if err := rows.Scan(&explanation, &issuesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan guidance row: %w", err)
		}
		bullets = append(bullets, formatGuidance(explanation, decodeIssues(issuesJSON)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guidance rows: %w", err)
	}
	return bullets, nil
}

// Guidance adapts RecentGuidance to the RAG orchestrator's guidance
// source contract. Store failures degrade to no guidance.
func (s *Store) Guidance(ctx context.Context, _ string, limit int) []string {
	bullets, err := s.RecentGuidance(ctx, limit)
	if err != nil {
		s.logger.Warn("feedback guidance unavailable", "error", err)
		return nil
	}
	return bullets
}

func formatGuidance(explanation string, issues []string) string {
	explanation = strings.TrimSpace(explanation)
	if len(issues) == 0 {
		return explanation
	}
	return fmt.Sprintf("%s (issues: %s)", explanation, strings.Join(issues, ", "))
}

func decodeIssues(issuesJSON string) []string {
	if issuesJSON == "" {
		return nil
	}
	var issues []string
	if err := json.Unmarshal([]byte(issuesJSON), &issues); err != nil {
		return nil
	}
	return issues
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var issuesJSON string
		if err := rows.Scan(&e.ID, &e.InternalMessageID, &e.ChannelID, &e.ReactorHash, &e.Reaction, &e.Rating, &e.Explanation, &issuesJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback entry: %w", err)
		}
		e.Issues = decodeIssues(issuesJSON)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback entries: %w", err)
	}
	return entries, nil
}
