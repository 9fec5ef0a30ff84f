package tenant

import "testing"

func TestRegistry_StageEnabled(t *testing.T) {
	r := NewRegistry([]*Tenant{
		{ID: "acme", Name: "Acme", DisabledStages: []string{"plan"}},
	})

	if r.StageEnabled("acme", "plan") {
		t.Error("gated stage reported enabled")
	}
	if !r.StageEnabled("acme", "intent") {
		t.Error("ungated stage reported disabled")
	}
	// Unknown and empty tenants carry no gating.
	if !r.StageEnabled("globex", "plan") {
		t.Error("unknown tenant should not be gated")
	}
	if !r.StageEnabled("", "plan") {
		t.Error("tenantless run should not be gated")
	}
}

func TestRegistry_RedactPII(t *testing.T) {
	r := NewRegistry([]*Tenant{
		{ID: "acme", RedactPII: true},
		{ID: "globex", RedactPII: false},
	})

	if !r.RedactPII("acme") {
		t.Error("opted-in tenant should redact")
	}
	if r.RedactPII("globex") || r.RedactPII("unknown") || r.RedactPII("") {
		t.Error("only opted-in tenants redact")
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry([]*Tenant{{ID: "acme", Name: "Acme"}})

	got, ok := r.Get("acme")
	if !ok || got.Name != "Acme" {
		t.Errorf("Get(acme) = %v/%v", got, ok)
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("Get(ghost) should miss")
	}
}
