package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinemde/reasonloop/agentloop"
)

// SQLiteStore persists sessions so prior context survives restarts.
type SQLiteStore struct {
	db       *sql.DB
	ttl      time.Duration
	maxCalls int
	now      func() time.Time
}

// OpenSQLite opens (or creates) a database at path.
func OpenSQLite(path string, ttl time.Duration, maxCalls int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// A single connection keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db, ttl, maxCalls)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database, running migrations on first use.
func NewSQLiteStore(db *sql.DB, ttl time.Duration, maxCalls int) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, ttl: ttl, maxCalls: maxCalls, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate session store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_calls (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id    TEXT NOT NULL,
			function_name TEXT NOT NULL,
			parameters    TEXT,
			called_at     INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_calls_session ON session_calls (session_id, id);
		CREATE TABLE IF NOT EXISTS session_skills (
			session_id TEXT NOT NULL,
			skill      TEXT NOT NULL,
			position   INTEGER NOT NULL,
			PRIMARY KEY (session_id, skill)
		);
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			touched_at INTEGER NOT NULL
		);
	`)
	return err
}

// PriorContext implements agentloop.PriorContextSupplier.
func (s *SQLiteStore) PriorContext(ctx context.Context, sessionID string) (*agentloop.PriorContext, error) {
	var touched int64
	err := s.db.QueryRowContext(ctx,
		`SELECT touched_at FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&touched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if s.ttl > 0 && s.now().Sub(time.Unix(0, touched)) > s.ttl {
		return nil, nil
	}

	prior := &agentloop.PriorContext{SessionID: sessionID}

	limit := s.maxCalls
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT function_name, parameters, called_at FROM (
			SELECT id, function_name, parameters, called_at FROM session_calls
			WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load session calls: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name   string
			params sql.NullString
			at     int64
		)
		if err := rows.Scan(&name, &params, &at); err != nil {
			return nil, err
		}
		call := agentloop.RecentCall{FunctionName: name, At: time.Unix(0, at).UTC()}
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &call.Parameters); err != nil {
				return nil, fmt.Errorf("decode parameters for %s: %w", name, err)
			}
		}
		prior.RecentCalls = append(prior.RecentCalls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	skills, err := s.db.QueryContext(ctx,
		`SELECT skill FROM session_skills WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session skills: %w", err)
	}
	defer skills.Close()
	for skills.Next() {
		var skill string
		if err := skills.Scan(&skill); err != nil {
			return nil, err
		}
		prior.ActiveSkills = append(prior.ActiveSkills, skill)
	}
	return prior, skills.Err()
}

// Record implements Store.
func (s *SQLiteStore) Record(ctx context.Context, sessionID string, calls []agentloop.RecentCall, skills []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	for _, c := range calls {
		var params any
		if len(c.Parameters) > 0 {
			raw, err := json.Marshal(c.Parameters)
			if err != nil {
				return fmt.Errorf("encode parameters for %s: %w", c.FunctionName, err)
			}
			params = string(raw)
		}
		at := c.At
		if at.IsZero() {
			at = now
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_calls (session_id, function_name, parameters, called_at) VALUES (?, ?, ?, ?)`,
			sessionID, c.FunctionName, params, at.UnixNano(),
		); err != nil {
			return fmt.Errorf("insert call: %w", err)
		}
	}

	if skills != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_skills WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("clear skills: %w", err)
		}
		for i, skill := range skills {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO session_skills (session_id, skill, position) VALUES (?, ?, ?)`,
				sessionID, skill, i,
			); err != nil {
				return fmt.Errorf("insert skill: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, touched_at) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET touched_at = excluded.touched_at`,
		sessionID, now.UnixNano(),
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return tx.Commit()
}

// Prune deletes sessions idle for longer than the TTL and returns how many
// were removed.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl).UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, q := range []string{
		`DELETE FROM session_calls WHERE session_id IN (SELECT session_id FROM sessions WHERE touched_at < ?)`,
		`DELETE FROM session_skills WHERE session_id IN (SELECT session_id FROM sessions WHERE touched_at < ?)`,
	} {
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE touched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
