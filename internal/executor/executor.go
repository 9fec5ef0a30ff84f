// Package executor runs one conversational turn through the stage
// pipeline: it orders stages by their dependency graph, consults the
// admission gate, invokes each eligible stage sequentially, merges
// outputs into DDS state, and records a trace entry for every stage
// it considers.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/drishiq/dialogue-engine/internal/admission"
	"github.com/drishiq/dialogue-engine/internal/domain"
	"github.com/drishiq/dialogue-engine/internal/registry"
	"github.com/drishiq/dialogue-engine/internal/stage"
	"github.com/drishiq/dialogue-engine/internal/state"
	tracestore "github.com/drishiq/dialogue-engine/internal/trace"
)

// DefaultStageTimeout bounds a stage invocation when neither the
// stage config nor the executor configuration says otherwise.
const DefaultStageTimeout = 30 * time.Second

// Result is the outcome of one pipeline run. A run that failed part
// way still carries the state accumulated before the failure.
type Result struct {
	TraceID        string         `json:"trace_id"`
	FinalState     state.Document `json:"final_state"`
	ExecutedStages []string       `json:"executed_stages"`
	Status         domain.Status  `json:"status"`

	// Err marks a failed run (required-stage failure or cancellation).
	// It is part of the result rather than a returned error so callers
	// always receive the partial state.
	Err *domain.PipelineError `json:"error,omitempty"`
}

// Executor is the per-turn pipeline orchestrator.
type Executor struct {
	registry     *registry.Service
	gate         admission.Gate
	stages       *stage.Registry
	states       state.Store
	traces       tracestore.Recorder
	logger       *slog.Logger
	stageTimeout time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithStageTimeout overrides the default per-stage timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Executor) { e.stageTimeout = d }
}

// New creates a pipeline executor.
func New(reg *registry.Service, gate admission.Gate, stages *stage.Registry, states state.Store, traces tracestore.Recorder, logger *slog.Logger, opts ...Option) *Executor {
	e := &Executor{
		registry:     reg,
		gate:         gate,
		stages:       stages,
		states:       states,
		traces:       traces,
		logger:       logger,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one conversational turn. Configuration errors (cyclic
// or dangling dependencies) are returned before any trace entry is
// written or stage invoked; once the run has started, failures are
// reported through Result.Err alongside the accumulated state.
func (e *Executor) Execute(ctx context.Context, input domain.PipelineInput) (*Result, error) {
	defs, err := e.registry.LoadStages(ctx, input.TenantID)
	if err != nil {
		return nil, err
	}

	// Validate before any side effect. A malformed graph must never
	// produce trace writes or stage invocations.
	if v := registry.ValidateGraph(defs); !v.Valid {
		return nil, v.Err()
	}

	active := make([]domain.StageDefinition, 0, len(defs))
	activeSet := make(map[string]bool, len(defs))
	for _, d := range defs {
		if d.IsActive {
			active = append(active, d)
			activeSet[d.StageID] = true
		}
	}

	order, err := registry.TopologicalOrder(active)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.StageDefinition, len(active))
	for _, d := range active {
		byID[d.StageID] = d
	}

	doc, err := e.states.Load(ctx, input.ThreadID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = state.NewDocument()
	}

	run := &runState{
		traceID:   uuid.New().String(),
		input:     input,
		doc:       doc,
		startTime: time.Now(),
		owners:    make(map[string]string),
		excluded:  make(map[string]bool),
	}

	tracer := otel.Tracer("dialogue-engine/executor")
	ctx, span := tracer.Start(ctx, "pipeline.run", oteltrace.WithAttributes(
		attribute.String("ddsa.trace_id", run.traceID),
		attribute.String("ddsa.thread_id", input.ThreadID),
		attribute.String("ddsa.tenant_id", input.TenantID),
	))
	defer span.End()

	e.logger.Info("pipeline run started",
		slog.String("trace_id", run.traceID),
		slog.String("thread_id", input.ThreadID),
		slog.String("tenant_id", input.TenantID),
		slog.Int("stages", len(order)),
	)

	if err := e.record(ctx, run, "", domain.StatusStarted, run.startTime, run.startTime, nil, ""); err != nil {
		return nil, err
	}

	for i, stageID := range order {
		if ctx.Err() != nil {
			return e.finish(ctx, run, domain.ErrCanceled(ctx.Err()))
		}

		def := byID[stageID]

		if reason, cascaded := e.cascadeReason(def, activeSet, run); cascaded {
			e.recordSkip(ctx, run, stageID, reason)
			continue
		}

		killed, err := e.gate.IsKilled(ctx, stageID, input.TenantID)
		if err != nil {
			// An unreadable gate is treated like a failure of this
			// stage so required-stage semantics still apply.
			e.recordStageFailure(ctx, run, def, domain.ErrStageExecution(stageID, "admission gate unavailable", err))
			if def.IsRequired {
				e.skipRemaining(ctx, run, order[i+1:], "required stage "+stageID+" failed")
				return e.finish(ctx, run, domain.ErrStageExecution(stageID, "admission gate unavailable", err))
			}
			continue
		}
		if killed {
			e.recordSkip(ctx, run, stageID, "disabled by kill switch")
			continue
		}

		out, invokeErr := e.invokeStage(ctx, tracer, def, run)
		if invokeErr != nil {
			if domain.IsKind(invokeErr, domain.ErrorKindCanceled) {
				// The attempted stage still gets its entry; a trace must
				// account for every stage the run touched.
				pe := domain.ErrCanceled(invokeErr)
				e.recordStageFailure(ctx, run, def, pe)
				return e.finish(ctx, run, pe)
			}
			var pe *domain.PipelineError
			if !errors.As(invokeErr, &pe) {
				pe = domain.ErrStageExecution(stageID, domain.SanitizeMessage(invokeErr.Error()), invokeErr)
			}
			e.recordStageFailure(ctx, run, def, pe)
			if def.IsRequired {
				e.skipRemaining(ctx, run, order[i+1:], "required stage "+stageID+" failed")
				return e.finish(ctx, run, pe)
			}
			e.logger.Warn("optional stage failed, continuing",
				slog.String("trace_id", run.traceID),
				slog.String("stage_id", stageID),
				slog.String("error", pe.Error()),
			)
			continue
		}

		run.doc.Merge(out.Namespace, out.Output)
		run.owners[out.Namespace] = stageID
		run.executed = append(run.executed, stageID)

		delta := map[string]any{out.Namespace: out.Output}
		e.record(ctx, run, stageID, domain.StatusCompleted, run.stageStart, time.Now(), delta, "")
	}

	return e.finish(ctx, run, nil)
}

// runState carries the mutable bookkeeping of one Execute call.
type runState struct {
	traceID    string
	input      domain.PipelineInput
	doc        state.Document
	startTime  time.Time
	stageStart time.Time
	seq        int

	executed []string        // completed or failed, in attempt order
	excluded map[string]bool // skipped or failed stage ids
	owners   map[string]string
}

// cascadeReason reports whether a stage must be skipped because a
// required dependency is inactive, was skipped, or failed.
func (e *Executor) cascadeReason(def domain.StageDefinition, activeSet map[string]bool, run *runState) (string, bool) {
	for _, dep := range def.Dependencies {
		if dep.Type != domain.DependencyRequired {
			continue
		}
		if !activeSet[dep.DependsOn] {
			return "required dependency " + dep.DependsOn + " is inactive", true
		}
		if run.excluded[dep.DependsOn] {
			return "required dependency " + dep.DependsOn + " did not complete", true
		}
	}
	return "", false
}

func (e *Executor) invokeStage(ctx context.Context, tracer oteltrace.Tracer, def domain.StageDefinition, run *runState) (*stage.Output, error) {
	impl, ok := e.stages.Lookup(def.StageID)
	if !ok {
		run.stageStart = time.Now()
		return nil, domain.ErrStageExecution(def.StageID, "no implementation registered", nil)
	}

	stageCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(def))
	defer cancel()

	stageCtx, span := tracer.Start(stageCtx, "pipeline.stage", oteltrace.WithAttributes(
		attribute.String("ddsa.stage_id", def.StageID),
	))
	defer span.End()

	run.stageStart = time.Now()

	type invocation struct {
		out *stage.Output
		err error
	}
	done := make(chan invocation, 1)
	view := run.doc.Clone()
	go func() {
		out, err := impl.Invoke(stageCtx, view, run.input, def.Config)
		done <- invocation{out, err}
	}()

	var out *stage.Output
	select {
	case inv := <-done:
		if inv.err != nil {
			// Parent cancellation wins over whatever the stage reported.
			if ctx.Err() != nil {
				return nil, domain.ErrCanceled(ctx.Err())
			}
			if errors.Is(inv.err, context.DeadlineExceeded) {
				return nil, domain.ErrTimeout(def.StageID)
			}
			return nil, inv.err
		}
		out = inv.out
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			return nil, domain.ErrCanceled(ctx.Err())
		}
		return nil, domain.ErrTimeout(def.StageID)
	}

	if out == nil {
		return nil, domain.ErrStageExecution(def.StageID, "stage returned no output", nil)
	}
	if err := e.checkNamespace(def, out, run); err != nil {
		return nil, err
	}
	return out, nil
}

// checkNamespace enforces the write-ownership contract: a stage may
// only write its own declared namespace, never metadata keys and
// never a namespace owned by another stage.
func (e *Executor) checkNamespace(def domain.StageDefinition, out *stage.Output, run *runState) error {
	if out.Namespace == "" || state.IsMetaKey(out.Namespace) {
		return domain.ErrStageExecution(def.StageID, "invalid output namespace "+out.Namespace, nil)
	}
	if out.Namespace != def.Namespace() {
		return domain.ErrStageExecution(def.StageID,
			"namespace contract violation: stage wrote "+out.Namespace+" but owns "+def.Namespace(), nil)
	}
	if owner, taken := run.owners[out.Namespace]; taken && owner != def.StageID {
		return domain.ErrStageExecution(def.StageID,
			"namespace contract violation: "+out.Namespace+" is owned by "+owner, nil)
	}
	return nil
}

func (e *Executor) timeoutFor(def domain.StageDefinition) time.Duration {
	if ms, ok := def.Config["timeout_ms"].(float64); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if ms, ok := def.Config["timeout_ms"].(int); ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return e.stageTimeout
}

func (e *Executor) recordSkip(ctx context.Context, run *runState, stageID, reason string) {
	run.excluded[stageID] = true
	now := time.Now()
	e.record(ctx, run, stageID, domain.StatusSkipped, now, now, nil, reason)
}

func (e *Executor) recordStageFailure(ctx context.Context, run *runState, def domain.StageDefinition, pe *domain.PipelineError) {
	run.excluded[def.StageID] = true
	run.executed = append(run.executed, def.StageID)
	start := run.stageStart
	if start.IsZero() {
		start = time.Now()
	}
	e.record(ctx, run, def.StageID, domain.StatusFailed, start, time.Now(), nil, domain.SanitizeMessage(pe.Error()))
}

func (e *Executor) skipRemaining(ctx context.Context, run *runState, rest []string, reason string) {
	for _, stageID := range rest {
		e.recordSkip(ctx, run, stageID, reason)
	}
}

// finish writes the pipeline-level terminal entry, persists state, and
// builds the result. It is the single exit path of a started run, so a
// run can never end without a terminal trace entry.
func (e *Executor) finish(ctx context.Context, run *runState, failure *domain.PipelineError) (*Result, error) {
	status := domain.StatusCompleted
	errMsg := ""
	if failure != nil {
		status = domain.StatusFailed
		errMsg = domain.SanitizeMessage(failure.Error())
	}
	e.record(ctx, run, "", status, run.startTime, time.Now(), nil, errMsg)

	// Persist even on failure or cancellation: partial state is part
	// of the contract.
	saveCtx := ctx
	if saveCtx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := e.states.Save(saveCtx, run.input.ThreadID, run.doc, run.input.TenantID); err != nil {
		e.logger.Error("failed to save dds state",
			slog.String("trace_id", run.traceID),
			slog.String("thread_id", run.input.ThreadID),
			slog.String("error", err.Error()),
		)
	}

	e.logger.Info("pipeline run finished",
		slog.String("trace_id", run.traceID),
		slog.String("status", string(status)),
		slog.Int("executed", len(run.executed)),
	)

	return &Result{
		TraceID:        run.traceID,
		FinalState:     run.doc,
		ExecutedStages: run.executed,
		Status:         status,
		Err:            failure,
	}, nil
}

func (e *Executor) record(ctx context.Context, run *runState, stageID string, status domain.Status, start, end time.Time, delta map[string]any, errMsg string) error {
	entry := &domain.TraceEntry{
		TraceID:     run.traceID,
		ThreadID:    run.input.ThreadID,
		TenantID:    run.input.TenantID,
		StageID:     stageID,
		Seq:         run.seq,
		StartTime:   start,
		EndTime:     end,
		LatencyMs:   end.Sub(start).Milliseconds(),
		Status:      status,
		OutputDelta: delta,
		Error:       errMsg,
	}
	run.seq++

	// Trace writes survive request cancellation; a run must never be
	// left without its entries.
	recordCtx := ctx
	if recordCtx.Err() != nil {
		var cancel context.CancelFunc
		recordCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := e.traces.Record(recordCtx, entry); err != nil {
		e.logger.Error("failed to record trace entry",
			slog.String("trace_id", run.traceID),
			slog.String("stage_id", stageID),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
