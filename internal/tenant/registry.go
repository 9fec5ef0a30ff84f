package tenant

// Registry manages tenant instances loaded from configuration.
type Registry struct {
	tenants map[string]*Tenant
}

// NewRegistry creates a registry from the given tenants.
func NewRegistry(tenants []*Tenant) *Registry {
	r := &Registry{tenants: make(map[string]*Tenant, len(tenants))}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

// Get retrieves a tenant by id.
func (r *Registry) Get(id string) (*Tenant, bool) {
	t, ok := r.tenants[id]
	return t, ok
}

// StageEnabled reports whether the stage is gated on for the tenant.
// Unknown or empty tenant ids have no gating.
func (r *Registry) StageEnabled(tenantID, stageID string) bool {
	if tenantID == "" {
		return true
	}
	t, ok := r.tenants[tenantID]
	if !ok {
		return true
	}
	return t.StageEnabled(stageID)
}

// RedactPII reports whether the tenant's privacy settings require
// redaction of persisted trace payloads.
func (r *Registry) RedactPII(tenantID string) bool {
	if tenantID == "" {
		return false
	}
	t, ok := r.tenants[tenantID]
	return ok && t.RedactPII
}
