// Copyright 2026 © The Switchboard Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLite implements Conversation on a SQLite table.
type SQLite struct {
	db    *sql.DB
	table string
}

// SQLiteConfig configures the SQLite conversation store.
type SQLiteConfig struct {
	// DB is the database handle. Required.
	DB *sql.DB
	// TableName defaults to "conversation_messages".
	TableName string
}

// NewSQLite creates the store and its table.
func NewSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	table := cfg.TableName
	if table == "" {
		table = "conversation_messages"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &SQLite{db: cfg.DB, table: table}
	if err := s.initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLite opens dsn with the modernc driver.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLite(ctx, SQLiteConfig{DB: db})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			run_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_session ON %[1]s(session_id, seq);
	`, s.table))
	return err
}

// Append implements Conversation.
func (s *SQLite) Append(ctx context.Context, sessionID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, session_id, role, content, run_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`, s.table),
		msg.ID, sessionID, msg.Role, msg.Content, msg.RunID, msg.CreatedAt.UTC(),
	)
	return err
}

// Recent implements Conversation.
func (s *SQLite) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := fmt.Sprintf(`
		SELECT id, session_id, role, content, run_id, created_at FROM (
			SELECT seq, id, session_id, role, content, run_id, created_at
			FROM %s WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC`, s.table)
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.RunID, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear implements Conversation.
func (s *SQLite) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.table), sessionID)
	return err
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
