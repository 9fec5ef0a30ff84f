// Package tenant holds the per-tenant configuration registry: gating
// flags that remove stages from a tenant's pipeline and privacy
// settings consumed by the trace recorder.
package tenant

// Tenant represents one isolated customer organization.
type Tenant struct {
	ID   string
	Name string

	// DisabledStages lists stage ids gated off for this tenant. Unlike
	// kill switches these are configuration, not an operational
	// override: gated stages load as inactive, so dependents skip
	// instead of failing validation.
	DisabledStages []string

	// RedactPII requests redaction of personal data in persisted
	// trace payloads for this tenant.
	RedactPII bool
}

// StageEnabled reports whether a stage is gated on for this tenant.
func (t *Tenant) StageEnabled(stageID string) bool {
	for _, id := range t.DisabledStages {
		if id == stageID {
			return false
		}
	}
	return true
}
