package replay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/drishiq/dialogue-engine/internal/admission"
	"github.com/drishiq/dialogue-engine/internal/domain"
	"github.com/drishiq/dialogue-engine/internal/executor"
	"github.com/drishiq/dialogue-engine/internal/registry"
	"github.com/drishiq/dialogue-engine/internal/stage"
	"github.com/drishiq/dialogue-engine/internal/state"
	tracestore "github.com/drishiq/dialogue-engine/internal/trace"
)

func record(t *testing.T, r tracestore.Recorder, entry domain.TraceEntry) {
	t.Helper()
	if err := r.Record(context.Background(), &entry); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
}

func pipelineEntry(traceID string, seq int, status domain.Status) domain.TraceEntry {
	now := time.Now()
	return domain.TraceEntry{
		TraceID:   traceID,
		ThreadID:  "t1",
		TenantID:  "acme",
		Seq:       seq,
		StartTime: now,
		EndTime:   now,
		Status:    status,
	}
}

func stageEntry(traceID string, seq int, stageID string, status domain.Status, delta map[string]any) domain.TraceEntry {
	e := pipelineEntry(traceID, seq, status)
	e.StageID = stageID
	e.OutputDelta = delta
	return e
}

func seedTrace(t *testing.T, r tracestore.Recorder) string {
	t.Helper()
	const traceID = "trace-1"
	record(t, r, pipelineEntry(traceID, 0, domain.StatusStarted))
	record(t, r, stageEntry(traceID, 1, "a", domain.StatusCompleted, map[string]any{"a": map[string]any{"x": float64(1)}}))
	record(t, r, stageEntry(traceID, 2, "b", domain.StatusCompleted, map[string]any{"b": map[string]any{"y": "two"}}))
	record(t, r, stageEntry(traceID, 3, "c", domain.StatusCompleted, map[string]any{"c": map[string]any{"z": true}}))
	record(t, r, pipelineEntry(traceID, 4, domain.StatusCompleted))
	return traceID
}

func TestReplay_Full(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()
	traceID := seedTrace(t, recorder)

	result, err := NewEngine(recorder).Replay(context.Background(), traceID, Options{})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if result.TraceID != traceID || result.ThreadID != "t1" {
		t.Errorf("identity = %s/%s, want %s/t1", result.TraceID, result.ThreadID, traceID)
	}
	if result.RunStatus != domain.StatusCompleted {
		t.Errorf("RunStatus = %s, want completed", result.RunStatus)
	}
	if len(result.Stages) != 3 {
		t.Fatalf("Stages = %d, want 3", len(result.Stages))
	}
	if result.Partial {
		t.Error("full replay reported as partial")
	}

	wantState := state.Document{
		"a": map[string]any{"x": float64(1)},
		"b": map[string]any{"y": "two"},
		"c": map[string]any{"z": true},
	}
	assertSameJSON(t, result.FinalState, wantState)
}

func TestReplay_PartialStopsBeforeStage(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()
	traceID := seedTrace(t, recorder)

	result, err := NewEngine(recorder).Replay(context.Background(), traceID, Options{
		Mode:       ModePartial,
		StopBefore: "b",
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if !result.Partial || result.StoppedBefore != "b" {
		t.Errorf("partial markers = %v/%s, want true/b", result.Partial, result.StoppedBefore)
	}
	if len(result.Stages) != 1 || result.Stages[0].StageID != "a" {
		t.Fatalf("Stages = %+v, want only a", result.Stages)
	}
	// Neither b nor anything after it is folded.
	if _, ok := result.FinalState["b"]; ok {
		t.Error("partial state contains stop_before stage output")
	}
	if _, ok := result.FinalState["c"]; ok {
		t.Error("partial state contains output of stages after the stop point")
	}
	if _, ok := result.FinalState["a"]; !ok {
		t.Error("partial state missing output of stage before the stop point")
	}
}

func TestReplay_PartialUnknownStopBeforeIsNotFound(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()
	traceID := seedTrace(t, recorder)

	// A stop point that never ran must not silently degrade into a full
	// replay; "stopped before X" and "X never ran" are different answers.
	_, err := NewEngine(recorder).Replay(context.Background(), traceID, Options{
		Mode:       ModePartial,
		StopBefore: "ghost",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrorKindNotFound) {
		t.Errorf("error kind = %v, want not_found", domain.KindOf(err))
	}
}

func TestReplay_PartialRequiresStopBefore(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()
	seedTrace(t, recorder)

	_, err := NewEngine(recorder).Replay(context.Background(), "trace-1", Options{Mode: ModePartial})
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrorKindInvalidRequest) {
		t.Errorf("error kind = %v, want invalid_request", domain.KindOf(err))
	}
}

func TestReplay_SkipsFailedAndSkippedDeltas(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()
	const traceID = "trace-2"
	record(t, recorder, pipelineEntry(traceID, 0, domain.StatusStarted))
	record(t, recorder, stageEntry(traceID, 1, "a", domain.StatusCompleted, map[string]any{"a": map[string]any{"x": float64(1)}}))
	record(t, recorder, stageEntry(traceID, 2, "b", domain.StatusFailed, nil))
	record(t, recorder, stageEntry(traceID, 3, "c", domain.StatusSkipped, nil))
	record(t, recorder, pipelineEntry(traceID, 4, domain.StatusFailed))

	result, err := NewEngine(recorder).Replay(context.Background(), traceID, Options{})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if result.RunStatus != domain.StatusFailed {
		t.Errorf("RunStatus = %s, want failed", result.RunStatus)
	}
	if len(result.Stages) != 3 {
		t.Fatalf("Stages = %d, want 3 (failed and skipped still reported)", len(result.Stages))
	}
	if len(result.FinalState) != 1 {
		t.Errorf("FinalState = %v, want only namespace a", result.FinalState)
	}
}

func TestReplay_UnknownTraceIsNotFound(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()

	_, err := NewEngine(recorder).Replay(context.Background(), "missing", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrorKindReplayNotFound) {
		t.Errorf("error kind = %v, want replay_not_found", domain.KindOf(err))
	}
}

func TestReplay_CorruptDeltaIsIntegrityError(t *testing.T) {
	cases := []struct {
		name  string
		delta map[string]any
	}{
		{"missing delta", nil},
		{"non-object delta", map[string]any{"a": "not an object"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := tracestore.NewMemoryRecorder()
			const traceID = "trace-3"
			record(t, recorder, pipelineEntry(traceID, 0, domain.StatusStarted))
			record(t, recorder, stageEntry(traceID, 1, "a", domain.StatusCompleted, tc.delta))
			record(t, recorder, pipelineEntry(traceID, 2, domain.StatusCompleted))

			_, err := NewEngine(recorder).Replay(context.Background(), traceID, Options{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !domain.IsKind(err, domain.ErrorKindReplayIntegrity) {
				t.Errorf("error kind = %v, want replay_integrity", domain.KindOf(err))
			}
		})
	}
}

func TestReplayThread_LatestTrace(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()

	record(t, recorder, pipelineEntry("old", 0, domain.StatusStarted))
	record(t, recorder, stageEntry("old", 1, "a", domain.StatusCompleted, map[string]any{"a": map[string]any{"v": float64(1)}}))
	record(t, recorder, pipelineEntry("old", 2, domain.StatusCompleted))

	record(t, recorder, pipelineEntry("new", 0, domain.StatusStarted))
	record(t, recorder, stageEntry("new", 1, "a", domain.StatusCompleted, map[string]any{"a": map[string]any{"v": float64(2)}}))
	record(t, recorder, pipelineEntry("new", 2, domain.StatusCompleted))

	result, err := NewEngine(recorder).ReplayThread(context.Background(), "t1", Options{})
	if err != nil {
		t.Fatalf("ReplayThread() error = %v", err)
	}
	if result.TraceID != "new" {
		t.Errorf("TraceID = %s, want new (latest)", result.TraceID)
	}
}

func TestReplayThread_UnknownThreadIsNotFound(t *testing.T) {
	recorder := tracestore.NewMemoryRecorder()

	_, err := NewEngine(recorder).ReplayThread(context.Background(), "ghost", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsKind(err, domain.ErrorKindReplayNotFound) {
		t.Errorf("error kind = %v, want replay_not_found", domain.KindOf(err))
	}
}

// TestReplay_RoundTripMatchesRun runs a real pipeline and checks that
// replaying its trace reproduces the same non-meta state the run
// produced, without invoking any stage again.
func TestReplay_RoundTripMatchesRun(t *testing.T) {
	store := registry.NewMemoryStore()
	defs := []domain.StageDefinition{
		{StageID: "a", Name: "a", Type: domain.StageIntake, Position: 1, IsActive: true, IsRequired: true},
		{StageID: "b", Name: "b", Type: domain.StageProcessing, Position: 2, IsActive: true,
			Dependencies: []domain.Dependency{{DependsOn: "a", Type: domain.DependencyRequired}}},
	}
	for i := range defs {
		if err := store.CreateStage(context.Background(), &defs[i]); err != nil {
			t.Fatalf("CreateStage() error = %v", err)
		}
	}

	invocations := 0
	stages := stage.NewRegistry()
	for _, id := range []string{"a", "b"} {
		id := id
		err := stages.Register(stage.Func{
			StageID: id,
			Run: func(ctx context.Context, st map[string]any, input domain.PipelineInput, config map[string]any) (*stage.Output, error) {
				invocations++
				return &stage.Output{Namespace: id, Output: map[string]any{"msg": input.Message, "stage": id}}, nil
			},
		})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	recorder := tracestore.NewMemoryRecorder()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := executor.New(registry.NewService(store, nil), admission.NewMemoryGate(), stages, state.NewMemoryStore(), recorder, logger)

	runResult, err := exec.Execute(context.Background(), domain.PipelineInput{ThreadID: "t1", TenantID: "acme", Message: "hello"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	ranLive := invocations

	replayResult, err := NewEngine(recorder).Replay(context.Background(), runResult.TraceID, Options{})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	if invocations != ranLive {
		t.Errorf("replay invoked stages: %d extra calls", invocations-ranLive)
	}
	if replayResult.RunStatus != runResult.Status {
		t.Errorf("RunStatus = %s, want %s", replayResult.RunStatus, runResult.Status)
	}
	assertSameJSON(t, replayResult.FinalState, runResult.FinalState)
}

// assertSameJSON compares documents through their canonical JSON form,
// which normalizes map ordering and numeric types.
func assertSameJSON(t *testing.T, got, want state.Document) {
	t.Helper()
	gotJSON, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal got: %v", err)
	}
	wantJSON, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal want: %v", err)
	}
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("state mismatch\n got: %s\nwant: %s", gotJSON, wantJSON)
	}
}
