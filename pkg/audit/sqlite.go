package audit

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens dsn with the modernc driver and prepares the schema.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps db and ensures the schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Record stores a single record.
func (s *SQLiteStore) Record(ctx context.Context, rec Record) error {
	result, err := encodeResult(rec.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_audit (
			run_id, task_id, agent_key, action, caller_id, path, status,
			result_json, error_code, error_text, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID, rec.TaskID, rec.AgentKey, rec.Action, rec.CallerID, rec.Path, rec.Status,
		result, rec.ErrorCode, rec.Error, utc(rec.StartedAt), utc(rec.FinishedAt),
	)
	return err
}

// List returns matching records ordered by insertion.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.AgentKey != "" {
		clauses = append(clauses, "agent_key = ?")
		args = append(args, filter.AgentKey)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT run_id, task_id, agent_key, action, caller_id, path, status,
		result_json, error_code, error_text, started_at, finished_at FROM task_audit`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			result   string
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&rec.RunID, &rec.TaskID, &rec.AgentKey, &rec.Action, &rec.CallerID, &rec.Path, &rec.Status,
			&result, &rec.ErrorCode, &rec.Error, &started, &finished,
		); err != nil {
			return nil, err
		}
		rec.Result = decodeResult(result)
		if started.Valid {
			rec.StartedAt = started.Time
		}
		if finished.Valid {
			rec.FinishedAt = finished.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			agent_key TEXT NOT NULL,
			action TEXT NOT NULL,
			caller_id TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			result_json TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			error_text TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_task_audit_run ON task_audit(run_id);
		CREATE INDEX IF NOT EXISTS idx_task_audit_agent ON task_audit(agent_key);
	`)
	return err
}
