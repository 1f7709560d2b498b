// Package sqlite provides the SQLite-backed conversation memory store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"opsdesk/pkg/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	session_key TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_session_at ON conversation_turns (session_key, at);
`

// Store provides SQLite-backed persistence for conversation turns.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (and migrates) a conversation store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply memory schema: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append persists one conversation turn.
func (s *Store) Append(ctx context.Context, turn memory.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(turn.ID) == "" {
		return fmt.Errorf("turn id is required")
	}
	if strings.TrimSpace(turn.SessionKey) == "" {
		return fmt.Errorf("session key is required")
	}
	if strings.TrimSpace(turn.Role) == "" {
		return fmt.Errorf("role is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO conversation_turns (id, tenant_id, session_key, role, content, at)
VALUES (?, ?, ?, ?, ?, ?)
`,
		turn.ID,
		turn.TenantID,
		turn.SessionKey,
		turn.Role,
		turn.Content,
		turn.At.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Recent returns the most recent turns for a session in chronological
// order, bounded by limit.
func (s *Store) Recent(ctx context.Context, sessionKey string, limit int) ([]memory.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, tenant_id, session_key, role, content, at
FROM conversation_turns
WHERE session_key = ?
ORDER BY at DESC
LIMIT ?
`, strings.TrimSpace(sessionKey), limit)
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []memory.Turn
	for rows.Next() {
		var (
			turn memory.Turn
			at   int64
		)
		if err := rows.Scan(&turn.ID, &turn.TenantID, &turn.SessionKey, &turn.Role, &turn.Content, &at); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.At = time.UnixMilli(at).UTC()
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Reverse into chronological order; the query walks newest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
