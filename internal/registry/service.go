package registry

import (
	"context"

	"github.com/drishiq/dialogue-engine/internal/domain"
	"github.com/drishiq/dialogue-engine/internal/tenant"
)

// Service resolves the stage set for a pipeline run: persisted
// definitions filtered by tenant gating flags.
type Service struct {
	store   ConfigStore
	tenants *tenant.Registry
}

// NewService creates a registry service. tenants may be nil when no
// tenant gating is configured.
func NewService(store ConfigStore, tenants *tenant.Registry) *Service {
	return &Service{store: store, tenants: tenants}
}

// Store exposes the underlying config store for the admin surface.
func (s *Service) Store() ConfigStore { return s.store }

// LoadStages returns all stage definitions with tenant gating applied.
// Gated-off stages stay in the set but are marked inactive, so their
// dependents skip-cascade instead of tripping dangling-dependency
// validation for that tenant.
func (s *Service) LoadStages(ctx context.Context, tenantID string) ([]domain.StageDefinition, error) {
	stages, err := s.store.ListStages(ctx)
	if err != nil {
		return nil, err
	}
	if s.tenants == nil || tenantID == "" {
		return stages, nil
	}

	for i := range stages {
		if !s.tenants.StageEnabled(tenantID, stages[i].StageID) {
			stages[i].IsActive = false
		}
	}
	return stages, nil
}
