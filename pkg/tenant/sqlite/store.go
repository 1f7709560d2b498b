// Package sqlite provides the SQLite-backed tenant configuration store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"opsdesk/pkg/tenant"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL,
	status TEXT NOT NULL,
	inference TEXT NOT NULL,
	erp TEXT NOT NULL,
	retrieval TEXT NOT NULL,
	branding TEXT NOT NULL,
	region TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

// Store provides SQLite-backed persistence for tenant configuration.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (and migrates) a tenant store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
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
		return nil, fmt.Errorf("apply tenant schema: %w", err)
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

// Put persists a tenant configuration record, replacing any existing row.
func (s *Store) Put(ctx context.Context, cfg tenant.Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate tenant record: %w", err)
	}

	inference, err := encodeJSON(cfg.Inference)
	if err != nil {
		return err
	}
	erp, err := encodeJSON(cfg.ERP)
	if err != nil {
		return err
	}
	retrieval, err := encodeJSON(cfg.Retrieval)
	if err != nil {
		return err
	}
	branding, err := encodeJSON(cfg.Branding)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO tenants (id, name, slug, status, inference, erp, retrieval, branding, region, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	slug = excluded.slug,
	status = excluded.status,
	inference = excluded.inference,
	erp = excluded.erp,
	retrieval = excluded.retrieval,
	branding = excluded.branding,
	region = excluded.region,
	updated_at = excluded.updated_at
`,
		cfg.ID,
		cfg.Name,
		cfg.Slug,
		string(cfg.Status),
		inference,
		erp,
		retrieval,
		branding,
		cfg.Region,
		cfg.UpdatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put tenant: %w", err)
	}
	return nil
}

// Get fetches one tenant configuration by id.
func (s *Store) Get(ctx context.Context, tenantID string) (tenant.Configuration, error) {
	if err := ctx.Err(); err != nil {
		return tenant.Configuration{}, err
	}
	if s == nil || s.sqlDB == nil {
		return tenant.Configuration{}, fmt.Errorf("storage is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return tenant.Configuration{}, fmt.Errorf("tenant id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, slug, status, inference, erp, retrieval, branding, region, updated_at
FROM tenants
WHERE id = ?
`, tenantID)

	var (
		cfg       tenant.Configuration
		status    string
		inference string
		erp       string
		retrieval string
		branding  string
		updatedAt int64
	)
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Slug, &status, &inference, &erp, &retrieval, &branding, &cfg.Region, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tenant.Configuration{}, tenant.ErrNotFound
		}
		return tenant.Configuration{}, fmt.Errorf("get tenant: %w", err)
	}

	cfg.Status = tenant.Status(status)
	cfg.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if err := decodeJSON(inference, &cfg.Inference); err != nil {
		return tenant.Configuration{}, err
	}
	if err := decodeJSON(erp, &cfg.ERP); err != nil {
		return tenant.Configuration{}, err
	}
	if err := decodeJSON(retrieval, &cfg.Retrieval); err != nil {
		return tenant.Configuration{}, err
	}
	if err := decodeJSON(branding, &cfg.Branding); err != nil {
		return tenant.Configuration{}, err
	}

	return cfg, nil
}

func encodeJSON(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal tenant sub-record: %w", err)
	}
	return string(encoded), nil
}

func decodeJSON(value string, target any) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(value), target); err != nil {
		return fmt.Errorf("unmarshal tenant sub-record: %w", err)
	}
	return nil
}
