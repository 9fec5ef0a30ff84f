// Package replay reconstructs past pipeline runs from their recorded
// traces. Replay is a read-only projection: it never writes trace
// entries and never invokes stage implementations, so it is safe to
// run against production history.
package replay

import (
	"context"
	"fmt"

	"github.com/drishiq/dialogue-engine/internal/domain"
	"github.com/drishiq/dialogue-engine/internal/state"
	tracestore "github.com/drishiq/dialogue-engine/internal/trace"
)

// Mode selects how much of the run is reconstructed.
type Mode string

const (
	// ModeFull folds every recorded stage delta.
	ModeFull Mode = "full"

	// ModePartial stops folding just before the stage named in
	// Options.StopBefore, answering "what did the pipeline know right
	// before stage X".
	ModePartial Mode = "partial"
)

// Options configures a replay.
type Options struct {
	Mode       Mode   `json:"mode"`
	StopBefore string `json:"stop_before,omitempty"`

	// SkipExternalCalls is recorded in the result for audit parity.
	// Replay is always trace-sourced and never performs external
	// calls regardless of this flag; re-running stages live is a
	// pipeline run, not a replay.
	SkipExternalCalls bool `json:"skip_external_calls"`
}

// StageOutcome is one reconstructed stage result.
type StageOutcome struct {
	StageID     string         `json:"stage_id"`
	Status      domain.Status  `json:"status"`
	OutputDelta map[string]any `json:"output_delta,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Result is a reconstructed pipeline run.
type Result struct {
	TraceID           string         `json:"trace_id"`
	ThreadID          string         `json:"thread_id,omitempty"`
	Stages            []StageOutcome `json:"stages"`
	FinalState        state.Document `json:"final_state"`
	RunStatus         domain.Status  `json:"run_status,omitempty"`
	Partial           bool           `json:"partial,omitempty"`
	StoppedBefore     string         `json:"stopped_before,omitempty"`
	SkipExternalCalls bool           `json:"skip_external_calls"`
}

// Engine replays traces. Its only dependency is the trace store's
// read path.
type Engine struct {
	traces tracestore.Recorder
}

// NewEngine creates a replay engine over the given trace store.
func NewEngine(traces tracestore.Recorder) *Engine {
	return &Engine{traces: traces}
}

// Replay reconstructs the run recorded under traceID.
func (e *Engine) Replay(ctx context.Context, traceID string, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.Mode == ModePartial && opts.StopBefore == "" {
		return nil, domain.ErrInvalidRequest("partial replay requires a stop_before stage id")
	}

	entries, err := e.traces.EntriesForTrace(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrReplayNotFound(fmt.Sprintf("no trace entries found for trace %s", traceID))
	}

	result := &Result{
		TraceID:           traceID,
		ThreadID:          entries[0].ThreadID,
		FinalState:        state.NewDocument(),
		SkipExternalCalls: opts.SkipExternalCalls,
	}

	for _, entry := range entries {
		if entry.PipelineLevel() {
			if entry.Status.Terminal() {
				result.RunStatus = entry.Status
			}
			continue
		}

		if opts.Mode == ModePartial && entry.StageID == opts.StopBefore {
			result.Partial = true
			result.StoppedBefore = opts.StopBefore
			break
		}

		outcome := StageOutcome{
			StageID:     entry.StageID,
			Status:      entry.Status,
			OutputDelta: entry.OutputDelta,
			Error:       entry.Error,
		}
		result.Stages = append(result.Stages, outcome)

		if entry.Status == domain.StatusCompleted {
			if len(entry.OutputDelta) == 0 {
				return nil, domain.ErrReplayIntegrity(entry.StageID,
					fmt.Sprintf("completed entry for stage %s has no output delta", entry.StageID))
			}
			for ns, output := range entry.OutputDelta {
				out, ok := output.(map[string]any)
				if !ok {
					return nil, domain.ErrReplayIntegrity(entry.StageID,
						fmt.Sprintf("output delta for stage %s namespace %s is not an object", entry.StageID, ns))
				}
				result.FinalState.Merge(ns, out)
			}
		}
	}

	if opts.Mode == ModePartial && !result.Partial {
		return nil, domain.ErrNotFound(fmt.Sprintf(
			"stage %s has no entry in trace %s; cannot stop before it", opts.StopBefore, traceID))
	}

	return result, nil
}

// ReplayThread resolves the latest trace for a thread and replays it.
// A thread with no traces at all is reported distinctly from a trace
// id that has no entries.
func (e *Engine) ReplayThread(ctx context.Context, threadID string, opts Options) (*Result, error) {
	traceID, ok, err := e.traces.LatestTraceForThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrReplayNotFound(fmt.Sprintf("no trace found for thread %s", threadID))
	}
	return e.Replay(ctx, traceID, opts)
}
