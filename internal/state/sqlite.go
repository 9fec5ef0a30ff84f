package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists one JSON document per thread.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the DDS state database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS dds_state (
		thread_id TEXT PRIMARY KEY,
		tenant_id TEXT,
		document TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to execute schema statement: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, threadID string) (Document, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM dds_state WHERE thread_id = ?`, threadID).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) Save(ctx context.Context, threadID string, doc Document, tenantID string) error {
	prev, err := s.Load(ctx, threadID)
	if err != nil {
		return err
	}
	prevVersion := 0
	if prev != nil {
		prevVersion = prev.Version()
	}

	stamped := stamp(doc, prevVersion, tenantID, time.Now())
	raw, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dds_state (thread_id, tenant_id, document, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			document = excluded.document,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		threadID, tenantID, string(raw), stamped.Version(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
