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

// Package learning records staff decisions on escalated questions.
//
// Every staff response produces one event capturing whether the AI
// draft was approved verbatim or edited, together with the original
// confidence and routing decision. The table is an append-only log
// consumed offline for threshold tuning and FAQ candidate mining.
package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Admin actions recorded with each event.
const (
	AdminActionApproved = "approved"
	AdminActionEdited   = "edited"
)

// Event is one staff decision on an escalated question.
type Event struct {
	ID            int64             `json:"id"`
	QuestionID    string            `json:"question_id"`
	Confidence    *float64          `json:"confidence,omitempty"`
	AdminAction   string            `json:"admin_action"`
	RoutingAction string            `json:"routing_action,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

const createLearningTableSQL = `
CREATE TABLE IF NOT EXISTS learning_events (
    id %s,
    question_id VARCHAR(255) NOT NULL,
    confidence DOUBLE PRECISION,
    admin_action VARCHAR(32) NOT NULL,
    routing_action VARCHAR(64),
    metadata_json TEXT,
    created_at TIMESTAMP NOT NULL
)`

const createLearningQuestionIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_learning_events_question_id ON learning_events(question_id)`

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

// Store is a SQL-backed learning event log.
type Store struct {
	db      *sql.DB
	dialect string
}

// NewStore creates a learning event store on a shared database
// connection. The connection is owned by the caller.
func NewStore(db *sql.DB, dialect string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
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

	s := &Store{db: db, dialect: normalized}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tableSQL := fmt.Sprintf(createLearningTableSQL, autoIncrementColumn(s.dialect))
	if _, err := s.db.ExecContext(ctx, tableSQL); err != nil {
		return fmt.Errorf("failed to create learning_events table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createLearningQuestionIndexSQL); err != nil {
		return fmt.Errorf("failed to create question_id index: %w", err)
	}
	return nil
}

// Record appends one event to the log.
func (s *Store) Record(ctx context.Context, ev Event) error {
	if ev.QuestionID == "" {
		return fmt.Errorf("question id is required")
	}
	if ev.AdminAction != AdminActionApproved && ev.AdminAction != AdminActionEdited {
		return fmt.Errorf("unknown admin action: %q", ev.AdminAction)
	}

	var metadataJSON string
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = string(raw)
	}

	query := `
INSERT INTO learning_events (question_id, confidence, admin_action, routing_action, metadata_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if s.dialect == "postgres" {
		query = `
INSERT INTO learning_events (question_id, confidence, admin_action, routing_action, metadata_json, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	}

	if _, err := s.db.ExecContext(ctx, query, ev.QuestionID, ev.Confidence, ev.AdminAction, ev.RoutingAction, metadataJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record learning event: %w", err)
	}
	return nil
}

// ListByQuestion returns events for a question id, newest first.
func (s *Store) ListByQuestion(ctx context.Context, questionID string) ([]Event, error) {
	query := `
SELECT id, question_id, confidence, admin_action, routing_action, metadata_json, created_at
FROM learning_events
WHERE question_id = ?
ORDER BY id DESC`
	if s.dialect == "postgres" {
		query = `
SELECT id, question_id, confidence, admin_action, routing_action, metadata_json, created_at
FROM learning_events
WHERE question_id = $1
ORDER BY id DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query learning events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var ev Event
		var confidence sql.NullFloat64
		var routingAction, metadataJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.QuestionID, &confidence, &ev.AdminAction, &routingAction, &metadataJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning event: %w", err)
		}
		if confidence.Valid {
			c := confidence.Float64
			ev.Confidence = &c
		}
		ev.RoutingAction = routingAction.String
		if metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate learning events: %w", err)
	}
	return events, nil
}
