// Package sqlite implements [history.Store] on an embedded SQLite database
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/voxpipe/internal/history"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL,
    provider        TEXT NOT NULL,
    mode            TEXT NOT NULL DEFAULT '',
    language        TEXT NOT NULL DEFAULT '',
    original_text   TEXT NOT NULL,
    corrected_text  TEXT NOT NULL DEFAULT '',
    stt_ms          INTEGER NOT NULL,
    llm_ms          INTEGER,
    total_ms        INTEGER NOT NULL,
    created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_created ON history(created_at);
`

// Store is a SQLite-backed history store. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

var _ history.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history sqlite: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history sqlite: migrate: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Save implements [history.Store].
func (s *Store) Save(ctx context.Context, r history.Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.clock().UTC()
	}
	var llm sql.NullInt64
	if r.LLMDuration != nil {
		llm = sql.NullInt64{Int64: r.LLMDuration.Milliseconds(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(session_id, provider, mode, language, original_text, corrected_text, stt_ms, llm_ms, total_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Provider, r.Mode, r.Language, r.OriginalText, r.CorrectedText,
		r.STTDuration.Milliseconds(), llm, r.TotalDuration.Milliseconds(), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("history sqlite: save: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, provider, mode, language, original_text, corrected_text, stt_ms, llm_ms, total_ms, created_at
		 FROM history ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history sqlite: recent: %w", err)
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var (
			r          history.Record
			stt, total int64
			llm        sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Provider, &r.Mode, &r.Language,
			&r.OriginalText, &r.CorrectedText, &stt, &llm, &total, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("history sqlite: scan: %w", err)
		}
		r.STTDuration = time.Duration(stt) * time.Millisecond
		r.TotalDuration = time.Duration(total) * time.Millisecond
		if llm.Valid {
			d := time.Duration(llm.Int64) * time.Millisecond
			r.LLMDuration = &d
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close implements [history.Store].
func (s *Store) Close() error {
	return s.db.Close()
}
