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

package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peerex/hermod/pkg/message"
)

const createEscalationsTableSQL = `
CREATE TABLE IF NOT EXISTS escalations (
    id %s,
    message_id VARCHAR(255) NOT NULL UNIQUE,
    channel_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    username VARCHAR(255),
    channel_metadata_json TEXT,
    question TEXT NOT NULL,
    ai_draft_answer TEXT,
    confidence DOUBLE PRECISION,
    routing_action VARCHAR(64),
    routing_reason TEXT,
    sources_json TEXT,
    status VARCHAR(16) NOT NULL,
    staff_id VARCHAR(255),
    claimed_at TIMESTAMP,
    responded_at TIMESTAMP,
    staff_answer TEXT,
    generated_faq_id VARCHAR(64),
    created_at TIMESTAMP NOT NULL
)`

var createEscalationIndexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_channel_id ON escalations(channel_id)`,
	`CREATE INDEX IF NOT EXISTS idx_escalations_created_at ON escalations(created_at)`,
}

const escalationColumns = `id, message_id, channel_id, user_id, username, channel_metadata_json, question,
ai_draft_answer, confidence, routing_action, routing_reason, sources_json, status,
staff_id, claimed_at, responded_at, staff_answer, generated_faq_id, created_at`

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

// Store is the SQL-backed escalation repository. All state transitions
// run inside transactions; every query is parameterized.
type Store struct {
	db      *sql.DB
	dialect string
}

// NewStore creates an escalation store on a shared database connection.
// The connection is owned by the caller and is not closed by the store.
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

	tableSQL := fmt.Sprintf(createEscalationsTableSQL, autoIncrementColumn(s.dialect))
	if _, err := s.db.ExecContext(ctx, tableSQL); err != nil {
		return fmt.Errorf("failed to create escalations table: %w", err)
	}
	for _, indexSQL := range createEscalationIndexSQL {
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create escalation index: %w", err)
		}
	}
	return nil
}

// Create inserts a pending escalation. A message id that already has an
// escalation returns ErrDuplicateMessage.
func (s *Store) Create(ctx context.Context, c *Create) (*Escalation, error) {
	if c == nil {
		return nil, fmt.Errorf("create payload is required")
	}
	if c.MessageID == "" {
		return nil, fmt.Errorf("message id is required")
	}
	if c.ChannelID == "" {
		return nil, fmt.Errorf("channel id is required")
	}

	metadataJSON, err := json.Marshal(c.ChannelMetadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal channel metadata: %w", err)
	}
	sourcesJSON, err := json.Marshal(c.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}

	now := time.Now().UTC()
	var id int64

	if s.dialect == "postgres" {
		// lib/pq does not implement LastInsertId.
		insertSQL := `
INSERT INTO escalations (message_id, channel_id, user_id, username, channel_metadata_json, question,
    ai_draft_answer, confidence, routing_action, routing_reason, sources_json, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id`
		err = s.db.QueryRowContext(ctx, insertSQL,
			c.MessageID, c.ChannelID, c.UserID, c.Username, string(metadataJSON), c.Question,
			c.AIDraftAnswer, c.Confidence, c.RoutingAction, c.RoutingReason, string(sourcesJSON),
			string(StatusPending), now).Scan(&id)
	} else {
		insertSQL := `
INSERT INTO escalations (message_id, channel_id, user_id, username, channel_metadata_json, question,
    ai_draft_answer, confidence, routing_action, routing_reason, sources_json, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		var res sql.Result
		res, err = s.db.ExecContext(ctx, insertSQL,
			c.MessageID, c.ChannelID, c.UserID, c.Username, string(metadataJSON), c.Question,
			c.AIDraftAnswer, c.Confidence, c.RoutingAction, c.RoutingReason, string(sourcesJSON),
			string(StatusPending), now)
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		// The unique index on message_id backstops concurrent creates.
		// Confirm before reporting an infrastructure failure.
		if existing, lookupErr := s.GetByMessageID(ctx, c.MessageID); lookupErr == nil && existing != nil {
			return nil, ErrDuplicateMessage
		}
		return nil, fmt.Errorf("failed to create escalation: %w", err)
	}

	return s.GetByID(ctx, id)
}

// Claim moves an escalation into review for staffID. Pending records
// and records whose prior claim is older than claimTTL may be claimed;
// a fresh claim held by someone else returns ErrClaimConflict.
func (s *Store) Claim(ctx context.Context, id int64, staffID string, claimTTL time.Duration) (*Escalation, error) {
	if staffID == "" {
		return nil, fmt.Errorf("staff id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch current.Status {
	case StatusPending:
	case StatusInReview:
		fresh := current.ClaimedAt != nil && now.Sub(*current.ClaimedAt) <= claimTTL
		if fresh && current.StaffID != staffID {
			return nil, ErrClaimConflict
		}
	default:
		return nil, fmt.Errorf("%w: cannot claim escalation in status %q", ErrInvalidState, current.Status)
	}

	updateSQL := `UPDATE escalations SET status = ?, staff_id = ?, claimed_at = ? WHERE id = ?`
	if s.dialect == "postgres" {
		updateSQL = `UPDATE escalations SET status = $1, staff_id = $2, claimed_at = $3 WHERE id = $4`
	}
	if _, err := tx.ExecContext(ctx, updateSQL, string(StatusInReview), staffID, now, id); err != nil {
		return nil, fmt.Errorf("failed to claim escalation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return s.GetByID(ctx, id)
}

// Respond records the staff answer. The caller must hold the active
// claim.
func (s *Store) Respond(ctx context.Context, id int64, staffID, answer string) (*Escalation, error) {
	if staffID == "" {
		return nil, fmt.Errorf("staff id is required")
	}
	if strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("answer must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusInReview || current.StaffID != staffID {
		return nil, ErrNotClaimed
	}

	now := time.Now().UTC()
	updateSQL := `UPDATE escalations SET status = ?, staff_answer = ?, responded_at = ? WHERE id = ?`
	if s.dialect == "postgres" {
		updateSQL = `UPDATE escalations SET status = $1, staff_answer = $2, responded_at = $3 WHERE id = $4`
	}
	if _, err := tx.ExecContext(ctx, updateSQL, string(StatusResponded), answer, now, id); err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit response: %w", err)
	}

	return s.GetByID(ctx, id)
}

// Close moves a responded escalation to closed.
func (s *Store) Close(ctx context.Context, id int64) (*Escalation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusResponded {
		return nil, fmt.Errorf("%w: cannot close escalation in status %q", ErrInvalidState, current.Status)
	}

	updateSQL := `UPDATE escalations SET status = ? WHERE id = ?`
	if s.dialect == "postgres" {
		updateSQL = `UPDATE escalations SET status = $1 WHERE id = $2`
	}
	if _, err := tx.ExecContext(ctx, updateSQL, string(StatusClosed), id); err != nil {
		return nil, fmt.Errorf("failed to close escalation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit close: %w", err)
	}

	return s.GetByID(ctx, id)
}

// SetGeneratedFAQ records the id of the FAQ generated from this
// escalation.
func (s *Store) SetGeneratedFAQ(ctx context.Context, id int64, faqID string) error {
	updateSQL := `UPDATE escalations SET generated_faq_id = ? WHERE id = ?`
	if s.dialect == "postgres" {
		updateSQL = `UPDATE escalations SET generated_faq_id = $1 WHERE id = $2`
	}

	res, err := s.db.ExecContext(ctx, updateSQL, faqID, id)
	if err != nil {
		return fmt.Errorf("failed to record generated FAQ: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetStale releases in_review claims older than claimTTL back to
// pending. It returns the number of released records.
func (s *Store) ResetStale(ctx context.Context, claimTTL time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-claimTTL)

	updateSQL := `UPDATE escalations SET status = ?, staff_id = NULL, claimed_at = NULL WHERE status = ? AND claimed_at < ?`
	if s.dialect == "postgres" {
		updateSQL = `UPDATE escalations SET status = $1, staff_id = NULL, claimed_at = NULL WHERE status = $2 AND claimed_at < $3`
	}

	res, err := s.db.ExecContext(ctx, updateSQL, string(StatusPending), string(StatusInReview), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale claims: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

// PurgeOld deletes closed escalations created before the age cutoff. It
// returns the number of deleted records.
func (s *Store) PurgeOld(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age)

	deleteSQL := `DELETE FROM escalations WHERE status = ? AND created_at < ?`
	if s.dialect == "postgres" {
		deleteSQL = `DELETE FROM escalations WHERE status = $1 AND created_at < $2`
	}

	res, err := s.db.ExecContext(ctx, deleteSQL, string(StatusClosed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge escalations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

// GetByID returns one escalation.
func (s *Store) GetByID(ctx context.Context, id int64) (*Escalation, error) {
	query := fmt.Sprintf(`SELECT %s FROM escalations WHERE id = ?`, escalationColumns)
	if s.dialect == "postgres" {
		query = fmt.Sprintf(`SELECT %s FROM escalations WHERE id = $1`, escalationColumns)
	}
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByMessageID returns the escalation created for an incoming
// message, if any.
func (s *Store) GetByMessageID(ctx context.Context, messageID string) (*Escalation, error) {
	query := fmt.Sprintf(`SELECT %s FROM escalations WHERE message_id = ?`, escalationColumns)
	if s.dialect == "postgres" {
		query = fmt.Sprintf(`SELECT %s FROM escalations WHERE message_id = $1`, escalationColumns)
	}
	return s.scanOne(s.db.QueryRowContext(ctx, query, messageID))
}

// List returns escalations matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*Escalation, error) {
	var (
		conditions []string
		args       []interface{}
	)
	add := func(column string, value interface{}) {
		conditions = append(conditions, column)
		args = append(args, value)
	}

	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, fmt.Errorf("invalid status filter: %s", f.Status)
		}
		add("status", string(f.Status))
	}
	if f.ChannelID != "" {
		add("channel_id", f.ChannelID)
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.StaffID != "" {
		add("staff_id", f.StaffID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT %s FROM escalations`, escalationColumns)
	for i, cond := range conditions {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		if s.dialect == "postgres" {
			fmt.Fprintf(&sb, "%s = $%d", cond, i+1)
		} else {
			fmt.Fprintf(&sb, "%s = ?", cond)
		}
	}
	if s.dialect == "postgres" {
		fmt.Fprintf(&sb, " ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(conditions)+1, len(conditions)+2)
	} else {
		sb.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var escalations []*Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, esc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate escalations: %w", err)
	}
	return escalations, nil
}

// Counts returns the number of escalations per status.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM escalations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count row: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate count rows: %w", err)
	}
	return counts, nil
}

// getForUpdate loads a row inside tx, locking it on backends that
// support row locks.
func (s *Store) getForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*Escalation, error) {
	query := fmt.Sprintf(`SELECT %s FROM escalations WHERE id = ? FOR UPDATE`, escalationColumns)
	switch s.dialect {
	case "postgres":
		query = fmt.Sprintf(`SELECT %s FROM escalations WHERE id = $1 FOR UPDATE`, escalationColumns)
	case "sqlite":
		query = fmt.Sprintf(`SELECT %s FROM escalations WHERE id = ?`, escalationColumns)
	}
	return s.scanOne(tx.QueryRowContext(ctx, query, id))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanOne(row rowScanner) (*Escalation, error) {
	esc, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return esc, err
}

func scanEscalation(row rowScanner) (*Escalation, error) {
	var (
		esc          Escalation
		username     sql.NullString
		metadataJSON sql.NullString
		draft        sql.NullString
		confidence   sql.NullFloat64
		action       sql.NullString
		reason       sql.NullString
		sourcesJSON  sql.NullString
		status       string
		staffID      sql.NullString
		claimedAt    sql.NullTime
		respondedAt  sql.NullTime
		staffAnswer  sql.NullString
		faqID        sql.NullString
	)

	err := row.Scan(&esc.ID, &esc.MessageID, &esc.ChannelID, &esc.UserID, &username, &metadataJSON,
		&esc.Question, &draft, &confidence, &action, &reason, &sourcesJSON, &status,
		&staffID, &claimedAt, &respondedAt, &staffAnswer, &faqID, &esc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan escalation: %w", err)
	}

	esc.Username = username.String
	esc.AIDraftAnswer = draft.String
	esc.RoutingAction = action.String
	esc.RoutingReason = reason.String
	esc.Status = Status(status)
	esc.StaffID = staffID.String
	esc.StaffAnswer = staffAnswer.String
	esc.GeneratedFAQID = faqID.String
	if confidence.Valid {
		v := confidence.Float64
		esc.Confidence = &v
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		esc.ClaimedAt = &t
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		esc.RespondedAt = &t
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &esc.ChannelMetadata); err != nil {
			return nil, fmt.Errorf("failed to decode channel metadata: %w", err)
		}
	}
	if sourcesJSON.Valid && sourcesJSON.String != "" && sourcesJSON.String != "null" {
		var sources []message.DocumentReference
		if err := json.Unmarshal([]byte(sourcesJSON.String), &sources); err != nil {
			return nil, fmt.Errorf("failed to decode sources: %w", err)
		}
		esc.Sources = sources
	}
	return &esc, nil
}
