package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/drishiq/dialogue-engine/internal/admission"
	"github.com/drishiq/dialogue-engine/internal/domain"
	"github.com/drishiq/dialogue-engine/internal/executor"
	"github.com/drishiq/dialogue-engine/internal/registry"
	"github.com/drishiq/dialogue-engine/internal/replay"
	"github.com/drishiq/dialogue-engine/internal/stage"
	"github.com/drishiq/dialogue-engine/internal/state"
	tracestore "github.com/drishiq/dialogue-engine/internal/trace"
)

func newTestServer(t *testing.T) (*Server, *registry.MemoryStore, *admission.MemoryGate) {
	t.Helper()

	store := registry.NewMemoryStore()
	gate := admission.NewMemoryGate()
	states := state.NewMemoryStore()
	traces := tracestore.NewMemoryRecorder()

	stages := stage.NewRegistry()
	err := stages.Register(stage.Func{
		StageID: "echo",
		Run: func(ctx context.Context, st map[string]any, input domain.PipelineInput, config map[string]any) (*stage.Output, error) {
			return &stage.Output{Namespace: "echo", Output: map[string]any{"message": input.Message}}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := executor.New(registry.NewService(store, nil), gate, stages, states, traces, logger)
	srv := New(0, logger, exec, store, gate, traces, replay.NewEngine(traces), states)
	return srv, store, gate
}

func seedEchoStage(t *testing.T, store *registry.MemoryStore) {
	t.Helper()
	def := &domain.StageDefinition{
		StageID:  "echo",
		Name:     "Echo",
		Type:     domain.StageProcessing,
		Position: 1,
		IsActive: true,
	}
	if err := store.CreateStage(context.Background(), def); err != nil {
		t.Fatalf("CreateStage() error = %v", err)
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestRunPipelineEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedEchoStage(t, store)

	rec := doJSON(t, srv, http.MethodPost, "/v1/pipeline/run", map[string]any{
		"thread_id": "t1",
		"tenant_id": "acme",
		"message":   "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	var result struct {
		TraceID        string         `json:"trace_id"`
		Status         string         `json:"status"`
		ExecutedStages []string       `json:"executed_stages"`
		FinalState     map[string]any `json:"final_state"`
	}
	decode(t, rec, &result)
	if result.Status != "completed" {
		t.Errorf("status = %s, want completed", result.Status)
	}
	if len(result.ExecutedStages) != 1 || result.ExecutedStages[0] != "echo" {
		t.Errorf("executed = %v", result.ExecutedStages)
	}
	if result.TraceID == "" {
		t.Error("trace_id missing")
	}
}

func TestRunPipelineEndpoint_RequiresThreadAndMessage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/pipeline/run", map[string]any{"thread_id": "t1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRunPipelineEndpoint_ConfigurationErrorIs422(t *testing.T) {
	srv, store, _ := newTestServer(t)
	def := &domain.StageDefinition{
		StageID: "echo", Name: "Echo", Type: domain.StageProcessing, IsActive: true,
		Dependencies: []domain.Dependency{{DependsOn: "missing", Type: domain.DependencyRequired}},
	}
	if err := store.CreateStage(context.Background(), def); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/pipeline/run", map[string]any{
		"thread_id": "t1", "message": "hello",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422; body = %s", rec.Code, rec.Body.String())
	}
}

func TestStageCRUDEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/admin/stages", map[string]any{
		"stage_id": "echo", "name": "Echo", "stage_type": "processing", "position": 1, "is_active": true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/admin/stages/echo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var def domain.StageDefinition
	decode(t, rec, &def)
	if def.Name != "Echo" {
		t.Errorf("Name = %s", def.Name)
	}

	rec = doJSON(t, srv, http.MethodPut, "/admin/stages/echo", map[string]any{
		"name": "Echo v2", "stage_type": "processing", "position": 2, "is_active": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/admin/stages?active_only=true", nil)
	var list struct {
		Stages []domain.StageDefinition `json:"stages"`
	}
	decode(t, rec, &list)
	if len(list.Stages) != 0 {
		t.Errorf("active stages = %+v, want none after deactivation", list.Stages)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/admin/stages/echo", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/admin/stages/echo", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rec.Code)
	}
}

func TestValidateStagesEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	def := &domain.StageDefinition{
		StageID: "echo", Name: "Echo", Type: domain.StageProcessing, IsActive: true,
		Dependencies: []domain.Dependency{{DependsOn: "ghost", Type: domain.DependencyRequired}},
	}
	if err := store.CreateStage(context.Background(), def); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, srv, http.MethodPost, "/admin/stages/validate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var v registry.Validation
	decode(t, rec, &v)
	if v.Valid {
		t.Error("validation should report the dangling dependency")
	}
	if len(v.UnknownDependencies) != 1 {
		t.Errorf("UnknownDependencies = %+v", v.UnknownDependencies)
	}
}

func TestKillSwitchEndpoints(t *testing.T) {
	srv, _, gate := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/admin/kill-switch", map[string]any{
		"stage_id": "echo", "disabled": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d body = %s", rec.Code, rec.Body.String())
	}
	var setResp map[string]any
	decode(t, rec, &setResp)
	if setResp["scope"] != "global" {
		t.Errorf("scope = %v, want global", setResp["scope"])
	}

	killed, err := gate.IsKilled(context.Background(), "echo", "")
	if err != nil || !killed {
		t.Errorf("IsKilled = %v/%v after set", killed, err)
	}

	rec = doJSON(t, srv, http.MethodGet, "/admin/kill-switch?stage_id=echo", nil)
	var single map[string]any
	decode(t, rec, &single)
	if single["disabled"] != true {
		t.Errorf("disabled = %v, want true", single["disabled"])
	}

	rec = doJSON(t, srv, http.MethodGet, "/admin/kill-switch", nil)
	var snap struct {
		KillSwitches map[string][]string `json:"kill_switches"`
	}
	decode(t, rec, &snap)
	if len(snap.KillSwitches[""]) != 1 {
		t.Errorf("snapshot = %v", snap.KillSwitches)
	}
}

func TestTraceAndReplayEndpoints(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedEchoStage(t, store)

	rec := doJSON(t, srv, http.MethodPost, "/v1/pipeline/run", map[string]any{
		"thread_id": "t1", "message": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}
	var run struct {
		TraceID string `json:"trace_id"`
	}
	decode(t, rec, &run)

	rec = doJSON(t, srv, http.MethodGet, "/admin/trace?thread_id=t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("trace status = %d body = %s", rec.Code, rec.Body.String())
	}
	var traceResp struct {
		TraceID   string              `json:"trace_id"`
		Entries   []domain.TraceEntry `json:"entries"`
		Analytics tracestore.Summary  `json:"analytics"`
	}
	decode(t, rec, &traceResp)
	if traceResp.TraceID != run.TraceID {
		t.Errorf("trace_id = %s, want %s", traceResp.TraceID, run.TraceID)
	}
	// started + echo + terminal
	if len(traceResp.Entries) != 3 {
		t.Errorf("entries = %d, want 3", len(traceResp.Entries))
	}
	if traceResp.Analytics.RunStatus != domain.StatusCompleted {
		t.Errorf("analytics run status = %s", traceResp.Analytics.RunStatus)
	}

	rec = doJSON(t, srv, http.MethodPost, "/admin/replay", map[string]any{
		"trace_id": run.TraceID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d body = %s", rec.Code, rec.Body.String())
	}
	var replayResp struct {
		Result replay.Result `json:"result"`
	}
	decode(t, rec, &replayResp)
	if replayResp.Result.RunStatus != domain.StatusCompleted {
		t.Errorf("replay run status = %s", replayResp.Result.RunStatus)
	}
	if _, ok := replayResp.Result.FinalState["echo"]; !ok {
		t.Errorf("replay state = %v, missing echo namespace", replayResp.Result.FinalState)
	}

	rec = doJSON(t, srv, http.MethodGet, "/admin/replay?trace_id=unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("replay unknown status = %d, want 404", rec.Code)
	}
}

func TestGetTraceEndpoint_RequiresIdentifier(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/admin/trace", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetStateEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedEchoStage(t, store)

	rec := doJSON(t, srv, http.MethodGet, "/admin/state/t1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("state before run status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/v1/pipeline/run", map[string]any{
		"thread_id": "t1", "message": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/admin/state/t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d", rec.Code)
	}
	var stateResp struct {
		ThreadID string         `json:"thread_id"`
		State    map[string]any `json:"state"`
	}
	decode(t, rec, &stateResp)
	if _, ok := stateResp.State["echo"]; !ok {
		t.Errorf("state = %v, missing echo namespace", stateResp.State)
	}
	if stateResp.State["_version"] != float64(1) {
		t.Errorf("_version = %v, want 1", stateResp.State["_version"])
	}
}

func TestErrorResponsesSanitized(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := httptest.NewRecorder()
	writeError(rec, logger, domain.ErrStageExecution("echo", "rejected sk-abcdefghijklmnopqrstuv", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Kind != "stage_execution" {
		t.Errorf("kind = %s", body.Error.Kind)
	}
	if body.Error.Message != "rejected [REDACTED]" {
		t.Errorf("message = %q, want sanitized", body.Error.Message)
	}
}
