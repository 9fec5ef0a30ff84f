package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// MemoryStore is an in-memory ConfigStore for tests and single-process use.
type MemoryStore struct {
	mu     sync.RWMutex
	stages map[string]domain.StageDefinition
}

var _ ConfigStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory stage config store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stages: make(map[string]domain.StageDefinition)}
}

func (s *MemoryStore) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stages := make([]domain.StageDefinition, 0, len(s.stages))
	for _, def := range s.stages {
		stages = append(stages, def)
	}
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].Position != stages[j].Position {
			return stages[i].Position < stages[j].Position
		}
		return stages[i].StageID < stages[j].StageID
	})
	return stages, nil
}

func (s *MemoryStore) GetStage(ctx context.Context, stageID string) (*domain.StageDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.stages[stageID]
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("stage %s not found", stageID))
	}
	return &def, nil
}

func (s *MemoryStore) CreateStage(ctx context.Context, def *domain.StageDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stages[def.StageID]; exists {
		return fmt.Errorf("stage %s already exists", def.StageID)
	}
	def.CreatedAt = time.Now()
	def.UpdatedAt = def.CreatedAt
	s.stages[def.StageID] = *def
	return nil
}

func (s *MemoryStore) UpdateStage(ctx context.Context, def *domain.StageDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stages[def.StageID]; !exists {
		return domain.ErrNotFound(fmt.Sprintf("stage %s not found", def.StageID))
	}
	def.UpdatedAt = time.Now()
	s.stages[def.StageID] = *def
	return nil
}

func (s *MemoryStore) DeleteStage(ctx context.Context, stageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.stages[stageID]; !exists {
		return domain.ErrNotFound(fmt.Sprintf("stage %s not found", stageID))
	}
	delete(s.stages, stageID)
	return nil
}
