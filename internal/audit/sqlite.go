package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS interactions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id      TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	model           TEXT NOT NULL,
	prompt          TEXT NOT NULL,
	response        TEXT NOT NULL,
	cache_hit       INTEGER NOT NULL DEFAULT 0,
	prompt_tokens   INTEGER NOT NULL DEFAULT 0,
	response_tokens INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions(created_at);
`

// SQLiteSink persists records to a local SQLite file. The schema is
// created on open.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// The queue's consumer is the only writer; a single connection
	// sidesteps SQLite's writer contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Write(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions
			(request_id, user_id, model, prompt, response, cache_hit,
			 prompt_tokens, response_tokens, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.UserID, rec.Model, rec.Prompt, rec.Response,
		rec.CacheHit, rec.PromptTokens, rec.ResponseTokens,
		string(rec.Status), rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
