// Package domain holds the core types shared by the DDSA pipeline
// orchestrator: stage definitions, trace entries, and the canonical
// error taxonomy.
package domain

import "time"

// StageType categorizes where a stage sits in the dialogue pipeline.
type StageType string

const (
	StageIntake     StageType = "intake"
	StageProcessing StageType = "processing"
	StageEnrichment StageType = "enrichment"
	StageOutput     StageType = "output"
)

// DependencyType distinguishes ordering-only edges from correctness edges.
type DependencyType string

const (
	// DependencyRequired edges participate in cycle detection and in
	// skip cascading: a dependent cannot run if a required dependency
	// was skipped or failed.
	DependencyRequired DependencyType = "required"

	// DependencyOptional edges only bias ordering; they never block.
	DependencyOptional DependencyType = "optional"
)

// Dependency is a single declared edge of a stage definition.
type Dependency struct {
	DependsOn string         `json:"depends_on"`
	Type      DependencyType `json:"type"`
}

// StageDefinition is the persisted configuration of one pipeline stage.
// Definitions are read-only from the orchestrator's perspective; the
// admin surface owns their lifecycle.
type StageDefinition struct {
	StageID      string         `json:"stage_id"`
	Name         string         `json:"name"`
	Type         StageType      `json:"stage_type"`
	Position     int            `json:"position"`
	IsActive     bool           `json:"is_active"`
	IsRequired   bool           `json:"is_required"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// Namespace returns the state namespace this stage is allowed to write.
// A definition may override it via config["namespace"]; the default is
// the stage id itself.
func (d StageDefinition) Namespace() string {
	if ns, ok := d.Config["namespace"].(string); ok && ns != "" {
		return ns
	}
	return d.StageID
}

// Status is the lifecycle status of a stage invocation or a pipeline run.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is a terminal stage/run status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// TraceEntry is one append-only record of a pipeline run. StageID is
// empty for the two pipeline-level entries (started and terminal).
// Seq preserves write order within a trace; replay depends on it.
type TraceEntry struct {
	TraceID     string         `json:"trace_id"`
	ThreadID    string         `json:"thread_id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	StageID     string         `json:"stage_id,omitempty"`
	Seq         int            `json:"seq"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	LatencyMs   int64          `json:"latency_ms"`
	Status      Status         `json:"status"`
	OutputDelta map[string]any `json:"output_delta,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PipelineLevel reports whether this entry describes the run as a whole.
func (e TraceEntry) PipelineLevel() bool {
	return e.StageID == ""
}

// PipelineInput is the per-turn input handed to the executor.
type PipelineInput struct {
	ThreadID string `json:"thread_id"`
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
}
