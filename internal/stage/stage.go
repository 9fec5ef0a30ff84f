// Package stage defines the contract stage implementations satisfy and
// the closed registry they are looked up from. The orchestrator treats
// each implementation as a black box behind this interface; business
// content of individual stages lives with their owners.
package stage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// Output is the result of one stage invocation. A stage writes exactly
// one namespace; the executor enforces that it is the stage's own.
type Output struct {
	Namespace string         `json:"namespace"`
	Output    map[string]any `json:"output"`
}

// Stage is a single unit of pipeline work. Implementations must be
// safe for concurrent invocation across threads and must honor ctx
// cancellation on any blocking call.
type Stage interface {
	// ID returns the stable identifier matching the stage definition.
	ID() string

	// Invoke runs the stage against a read-only view of the current
	// state. The returned output is merged by the executor; the stage
	// itself never mutates state directly.
	Invoke(ctx context.Context, state map[string]any, input domain.PipelineInput, config map[string]any) (*Output, error)
}

// Registry is the closed set of stage implementations, registered at
// startup and looked up by id at run time.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

// Register adds a stage implementation. Registering a duplicate id is
// a programming error and returns an error rather than silently
// replacing the existing implementation.
func (r *Registry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stages[s.ID()]; exists {
		return fmt.Errorf("stage %s already registered", s.ID())
	}
	r.stages[s.ID()] = s
	return nil
}

// Lookup retrieves a stage implementation by id.
func (r *Registry) Lookup(id string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[id]
	return s, ok
}

// IDs returns the registered stage ids, sorted for stable output.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.stages))
	for id := range r.stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Func adapts a plain function to the Stage interface, mostly for
// tests and small built-in stages.
type Func struct {
	StageID string
	Run     func(ctx context.Context, state map[string]any, input domain.PipelineInput, config map[string]any) (*Output, error)
}

func (f Func) ID() string { return f.StageID }

func (f Func) Invoke(ctx context.Context, state map[string]any, input domain.PipelineInput, config map[string]any) (*Output, error) {
	return f.Run(ctx, state, input, config)
}
