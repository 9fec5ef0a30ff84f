// Package admission implements the kill-switch gate that can disable
// a stage at run time without touching its stored configuration.
// Global switches always win over tenant switches; a tenant can never
// re-enable a globally killed stage.
package admission

import "context"

// Gate answers whether a stage may run for a tenant. The executor
// depends only on this interface; the in-memory implementation covers
// single-instance deployments and tests, the Postgres one gives every
// instance of a multi-instance deployment the same view.
type Gate interface {
	// SetKillSwitch disables or re-enables a stage. An empty tenantID
	// addresses the global switch.
	SetKillSwitch(ctx context.Context, stageID string, disabled bool, tenantID string) error

	// IsKilled reports whether the stage is disabled globally or for
	// the given tenant.
	IsKilled(ctx context.Context, stageID, tenantID string) (bool, error)

	// Snapshot lists currently disabled stages keyed by tenant id,
	// with the global set under the empty key.
	Snapshot(ctx context.Context) (map[string][]string, error)
}
