package admission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresGate stores kill switches in a shared table so that every
// instance of a multi-instance deployment sees the same admission
// decisions. Rows with an empty tenant_id are global switches.
type PostgresGate struct {
	db *sql.DB
}

var _ Gate = (*PostgresGate)(nil)

// NewPostgresGate connects to the shared kill-switch store and ensures
// its schema exists.
func NewPostgresGate(dsn string) (*PostgresGate, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open admission store: %w", err)
	}

	g := &PostgresGate{db: db}
	if err := g.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *PostgresGate) initSchema(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kill_switches (
			tenant_id TEXT NOT NULL DEFAULT '',
			stage_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, stage_id)
		)`)
	if err != nil {
		return fmt.Errorf("failed to initialize kill switch schema: %w", err)
	}
	return nil
}

func (g *PostgresGate) SetKillSwitch(ctx context.Context, stageID string, disabled bool, tenantID string) error {
	if disabled {
		_, err := g.db.ExecContext(ctx,
			`INSERT INTO kill_switches (tenant_id, stage_id) VALUES ($1, $2)`,
			tenantID, stageID)
		if err != nil {
			// Concurrent admins setting the same switch is not an error.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil
			}
			return fmt.Errorf("failed to set kill switch: %w", err)
		}
		return nil
	}

	_, err := g.db.ExecContext(ctx,
		`DELETE FROM kill_switches WHERE tenant_id = $1 AND stage_id = $2`,
		tenantID, stageID)
	if err != nil {
		return fmt.Errorf("failed to clear kill switch: %w", err)
	}
	return nil
}

func (g *PostgresGate) IsKilled(ctx context.Context, stageID, tenantID string) (bool, error) {
	var n int
	err := g.db.QueryRowContext(ctx,
		`SELECT count(*) FROM kill_switches
		 WHERE stage_id = $1 AND (tenant_id = '' OR tenant_id = $2)`,
		stageID, tenantID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query kill switch: %w", err)
	}
	return n > 0, nil
}

func (g *PostgresGate) Snapshot(ctx context.Context) (map[string][]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT tenant_id, stage_id FROM kill_switches ORDER BY tenant_id, stage_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query kill switches: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var tenantID, stageID string
		if err := rows.Scan(&tenantID, &stageID); err != nil {
			return nil, fmt.Errorf("failed to scan kill switch: %w", err)
		}
		out[tenantID] = append(out[tenantID], stageID)
	}
	return out, rows.Err()
}

func (g *PostgresGate) Close() error {
	return g.db.Close()
}
