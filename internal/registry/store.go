package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// ConfigStore persists stage definitions. The orchestrator only reads;
// writes come from the admin surface.
type ConfigStore interface {
	ListStages(ctx context.Context) ([]domain.StageDefinition, error)
	GetStage(ctx context.Context, stageID string) (*domain.StageDefinition, error)
	CreateStage(ctx context.Context, def *domain.StageDefinition) error
	UpdateStage(ctx context.Context, def *domain.StageDefinition) error
	DeleteStage(ctx context.Context, stageID string) error
}

// SQLiteStore is a SQLite implementation of ConfigStore.
type SQLiteStore struct {
	db *sql.DB
}

var _ ConfigStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the stage configuration database.
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
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stage_config (
			stage_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			stage_type TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			is_required INTEGER NOT NULL DEFAULT 0,
			dependencies TEXT NOT NULL DEFAULT '[]',
			config TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_config_position ON stage_config(position)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	query := `SELECT stage_id, name, stage_type, position, is_active, is_required, dependencies, config, created_at, updated_at
	          FROM stage_config ORDER BY position ASC, stage_id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var stages []domain.StageDefinition
	for rows.Next() {
		def, err := scanStage(rows.Scan)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *def)
	}
	return stages, rows.Err()
}

func (s *SQLiteStore) GetStage(ctx context.Context, stageID string) (*domain.StageDefinition, error) {
	query := `SELECT stage_id, name, stage_type, position, is_active, is_required, dependencies, config, created_at, updated_at
	          FROM stage_config WHERE stage_id = ?`

	row := s.db.QueryRowContext(ctx, query, stageID)
	def, err := scanStage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound(fmt.Sprintf("stage %s not found", stageID))
	}
	if err != nil {
		return nil, err
	}
	return def, nil
}

func scanStage(scan func(...any) error) (*domain.StageDefinition, error) {
	var def domain.StageDefinition
	var isActive, isRequired int
	var depsJSON, configJSON string

	err := scan(&def.StageID, &def.Name, &def.Type, &def.Position,
		&isActive, &isRequired, &depsJSON, &configJSON,
		&def.CreatedAt, &def.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stage: %w", err)
	}

	def.IsActive = isActive != 0
	def.IsRequired = isRequired != 0
	if err := json.Unmarshal([]byte(depsJSON), &def.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &def.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &def, nil
}

func (s *SQLiteStore) CreateStage(ctx context.Context, def *domain.StageDefinition) error {
	def.CreatedAt = time.Now()
	def.UpdatedAt = def.CreatedAt

	deps, config, err := marshalStage(def)
	if err != nil {
		return err
	}

	query := `INSERT INTO stage_config (stage_id, name, stage_type, position, is_active, is_required, dependencies, config, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		def.StageID, def.Name, string(def.Type), def.Position,
		boolToInt(def.IsActive), boolToInt(def.IsRequired),
		deps, config, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create stage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStage(ctx context.Context, def *domain.StageDefinition) error {
	def.UpdatedAt = time.Now()

	deps, config, err := marshalStage(def)
	if err != nil {
		return err
	}

	query := `UPDATE stage_config
	          SET name = ?, stage_type = ?, position = ?, is_active = ?, is_required = ?, dependencies = ?, config = ?, updated_at = ?
	          WHERE stage_id = ?`

	result, err := s.db.ExecContext(ctx, query,
		def.Name, string(def.Type), def.Position,
		boolToInt(def.IsActive), boolToInt(def.IsRequired),
		deps, config, def.UpdatedAt, def.StageID)
	if err != nil {
		return fmt.Errorf("failed to update stage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound(fmt.Sprintf("stage %s not found", def.StageID))
	}
	return nil
}

func (s *SQLiteStore) DeleteStage(ctx context.Context, stageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stage_config WHERE stage_id = ?`, stageID)
	if err != nil {
		return fmt.Errorf("failed to delete stage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound(fmt.Sprintf("stage %s not found", stageID))
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalStage(def *domain.StageDefinition) (deps string, config string, err error) {
	d, err := json.Marshal(def.Dependencies)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal dependencies: %w", err)
	}
	if def.Dependencies == nil {
		d = []byte("[]")
	}
	c, err := json.Marshal(def.Config)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if def.Config == nil {
		c = []byte("{}")
	}
	return string(d), string(c), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
