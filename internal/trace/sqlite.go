package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// SQLiteRecorder persists trace entries in SQLite. The table is
// insert-only; nothing in this type ever updates or deletes a row.
type SQLiteRecorder struct {
	db *sql.DB
}

var _ Recorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens (or creates) the trace database.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trace_entries (
			trace_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			tenant_id TEXT,
			stage_id TEXT,
			seq INTEGER NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP NOT NULL,
			latency_ms INTEGER NOT NULL,
			status TEXT NOT NULL,
			output_delta TEXT,
			error TEXT,
			PRIMARY KEY (trace_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trace_entries_thread ON trace_entries(thread_id, start_time)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, entry *domain.TraceEntry) error {
	var deltaJSON sql.NullString
	if entry.OutputDelta != nil {
		raw, err := json.Marshal(entry.OutputDelta)
		if err != nil {
			return fmt.Errorf("failed to marshal output delta: %w", err)
		}
		deltaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trace_entries (trace_id, thread_id, tenant_id, stage_id, seq, start_time, end_time, latency_ms, status, output_delta, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TraceID, entry.ThreadID, entry.TenantID, entry.StageID, entry.Seq,
		entry.StartTime, entry.EndTime, entry.LatencyMs, string(entry.Status),
		deltaJSON, entry.Error)
	if err != nil {
		return fmt.Errorf("failed to record trace entry: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) EntriesForTrace(ctx context.Context, traceID string) ([]domain.TraceEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT trace_id, thread_id, tenant_id, stage_id, seq, start_time, end_time, latency_ms, status, output_delta, error
		FROM trace_entries WHERE trace_id = ? ORDER BY seq ASC`, traceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.TraceEntry
	for rows.Next() {
		var e domain.TraceEntry
		var tenantID, stageID, deltaJSON, errMsg sql.NullString
		var status string

		if err := rows.Scan(&e.TraceID, &e.ThreadID, &tenantID, &stageID, &e.Seq,
			&e.StartTime, &e.EndTime, &e.LatencyMs, &status, &deltaJSON, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan trace entry: %w", err)
		}
		e.TenantID = tenantID.String
		e.StageID = stageID.String
		e.Status = domain.Status(status)
		e.Error = errMsg.String
		if deltaJSON.Valid && deltaJSON.String != "" {
			if err := json.Unmarshal([]byte(deltaJSON.String), &e.OutputDelta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal output delta: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRecorder) LatestTraceForThread(ctx context.Context, threadID string) (string, bool, error) {
	var traceID string
	err := r.db.QueryRowContext(ctx, `
		SELECT trace_id FROM trace_entries
		WHERE thread_id = ? ORDER BY start_time DESC, seq DESC LIMIT 1`, threadID).Scan(&traceID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query latest trace: %w", err)
	}
	return traceID, true, nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
