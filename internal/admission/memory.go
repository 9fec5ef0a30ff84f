package admission

import (
	"context"
	"sort"
	"sync"
)

// MemoryGate is a process-local Gate. Reads are frequent (per stage,
// per turn) and writes rare (admin action), so a single RWMutex over
// two maps is enough.
type MemoryGate struct {
	mu      sync.RWMutex
	global  map[string]struct{}
	tenants map[string]map[string]struct{}
}

var _ Gate = (*MemoryGate)(nil)

// NewMemoryGate creates an empty in-memory gate.
func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		global:  make(map[string]struct{}),
		tenants: make(map[string]map[string]struct{}),
	}
}

func (g *MemoryGate) SetKillSwitch(ctx context.Context, stageID string, disabled bool, tenantID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	set := g.global
	if tenantID != "" {
		var ok bool
		set, ok = g.tenants[tenantID]
		if !ok {
			set = make(map[string]struct{})
			g.tenants[tenantID] = set
		}
	}

	if disabled {
		set[stageID] = struct{}{}
	} else {
		delete(set, stageID)
	}
	return nil
}

func (g *MemoryGate) IsKilled(ctx context.Context, stageID, tenantID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, killed := g.global[stageID]; killed {
		return true, nil
	}
	if tenantID != "" {
		if set, ok := g.tenants[tenantID]; ok {
			if _, killed := set[stageID]; killed {
				return true, nil
			}
		}
	}
	return false, nil
}

func (g *MemoryGate) Snapshot(ctx context.Context) (map[string][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string][]string)
	if len(g.global) > 0 {
		out[""] = sortedKeys(g.global)
	}
	for tenantID, set := range g.tenants {
		if len(set) > 0 {
			out[tenantID] = sortedKeys(set)
		}
	}
	return out, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
