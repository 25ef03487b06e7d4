// Package postgres implements [history.Store] on PostgreSQL using a pgx
// connection pool. Besides the [history.Store] methods it offers full-text
// [Store.Search] over both the original and the corrected text.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxpipe/internal/history"
)

const ddl = `
CREATE TABLE IF NOT EXISTS voice_history (
    id              BIGSERIAL    PRIMARY KEY,
    session_id      TEXT         NOT NULL,
    provider        TEXT         NOT NULL,
    mode            TEXT         NOT NULL DEFAULT '',
    language        TEXT         NOT NULL DEFAULT '',
    original_text   TEXT         NOT NULL,
    corrected_text  TEXT         NOT NULL DEFAULT '',
    stt_ms          BIGINT       NOT NULL,
    llm_ms          BIGINT,
    total_ms        BIGINT       NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_voice_history_created ON voice_history (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_voice_history_fts ON voice_history
    USING GIN (to_tsvector('simple', original_text || ' ' || corrected_text));
`

const columns = `id, session_id, provider, mode, language, original_text, corrected_text, stt_ms, llm_ms, total_ms, created_at`

// Store is a PostgreSQL-backed history store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*Store)(nil)

// Open connects to dsn, pings the server and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save implements [history.Store].
func (s *Store) Save(ctx context.Context, r history.Record) error {
	const q = `
		INSERT INTO voice_history
		    (session_id, provider, mode, language, original_text, corrected_text, stt_ms, llm_ms, total_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))`

	var llm *int64
	if r.LLMDuration != nil {
		ms := r.LLMDuration.Milliseconds()
		llm = &ms
	}
	var created *time.Time
	if !r.CreatedAt.IsZero() {
		created = &r.CreatedAt
	}
	_, err := s.pool.Exec(ctx, q,
		r.SessionID,
		r.Provider,
		r.Mode,
		r.Language,
		r.OriginalText,
		r.CorrectedText,
		r.STTDuration.Milliseconds(),
		llm,
		r.TotalDuration.Milliseconds(),
		created,
	)
	if err != nil {
		return fmt.Errorf("history postgres: save: %w", err)
	}
	return nil
}

// Recent implements [history.Store].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+columns+` FROM voice_history ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	return collectRecords(rows)
}

// Search runs a full-text query over original and corrected text and
// returns up to limit matches, newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+columns+` FROM voice_history
		 WHERE to_tsvector('simple', original_text || ' ' || corrected_text) @@ plainto_tsquery('simple', $1)
		 ORDER BY created_at DESC, id DESC LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("history postgres: search: %w", err)
	}
	return collectRecords(rows)
}

// Close implements [history.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectRecords(rows pgx.Rows) ([]history.Record, error) {
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			r          history.Record
			stt, total int64
			llm        *int64
		)
		if err := row.Scan(&r.ID, &r.SessionID, &r.Provider, &r.Mode, &r.Language,
			&r.OriginalText, &r.CorrectedText, &stt, &llm, &total, &r.CreatedAt); err != nil {
			return history.Record{}, err
		}
		r.STTDuration = time.Duration(stt) * time.Millisecond
		r.TotalDuration = time.Duration(total) * time.Millisecond
		if llm != nil {
			d := time.Duration(*llm) * time.Millisecond
			r.LLMDuration = &d
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan rows: %w", err)
	}
	if records == nil {
		records = []history.Record{}
	}
	return records, nil
}
