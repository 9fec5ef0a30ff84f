package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/drishiq/dialogue-engine/internal/domain"
	"github.com/drishiq/dialogue-engine/internal/registry"
	"github.com/drishiq/dialogue-engine/internal/replay"
	"github.com/drishiq/dialogue-engine/internal/trace"
)

func (s *Server) handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	var input domain.PipelineInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("invalid request body"))
		return
	}
	if input.ThreadID == "" || input.Message == "" {
		writeError(w, s.logger, domain.ErrInvalidRequest("thread_id and message are required"))
		return
	}

	result, err := s.executor.Execute(r.Context(), input)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stage configuration CRUD

func (s *Server) handleListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.stages.ListStages(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if r.URL.Query().Get("active_only") == "true" {
		filtered := stages[:0]
		for _, st := range stages {
			if st.IsActive {
				filtered = append(filtered, st)
			}
		}
		stages = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"stages": stages})
}

func (s *Server) handleGetStage(w http.ResponseWriter, r *http.Request) {
	def, err := s.stages.GetStage(r.Context(), chi.URLParam(r, "stageID"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleCreateStage(w http.ResponseWriter, r *http.Request) {
	var def domain.StageDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("invalid request body"))
		return
	}
	if def.StageID == "" {
		writeError(w, s.logger, domain.ErrInvalidRequest("stage_id is required"))
		return
	}

	if err := s.stages.CreateStage(r.Context(), &def); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	var def domain.StageDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("invalid request body"))
		return
	}
	def.StageID = chi.URLParam(r, "stageID")

	if err := s.stages.UpdateStage(r.Context(), &def); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteStage(w http.ResponseWriter, r *http.Request) {
	if err := s.stages.DeleteStage(r.Context(), chi.URLParam(r, "stageID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleValidateStages reports graph problems without executing.
func (s *Server) handleValidateStages(w http.ResponseWriter, r *http.Request) {
	stages, err := s.stages.ListStages(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, registry.ValidateGraph(stages))
}

// Kill switch

func (s *Server) handleGetKillSwitches(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	stageID := r.URL.Query().Get("stage_id")

	if stageID != "" {
		disabled, err := s.gate.IsKilled(r.Context(), stageID, tenantID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"stage_id":  stageID,
			"tenant_id": tenantID,
			"disabled":  disabled,
		})
		return
	}

	snapshot, err := s.gate.Snapshot(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kill_switches": snapshot})
}

func (s *Server) handleSetKillSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StageID  string `json:"stage_id"`
		TenantID string `json:"tenant_id"`
		Disabled bool   `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, s.logger, domain.ErrInvalidRequest("invalid request body"))
		return
	}
	if body.StageID == "" {
		writeError(w, s.logger, domain.ErrInvalidRequest("stage_id is required"))
		return
	}

	if err := s.gate.SetKillSwitch(r.Context(), body.StageID, body.Disabled, body.TenantID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	scope := "global"
	if body.TenantID != "" {
		scope = "tenant"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stage_id":  body.StageID,
		"tenant_id": body.TenantID,
		"disabled":  body.Disabled,
		"scope":     scope,
	})
}

// Traces and replay

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	traceID := r.URL.Query().Get("trace_id")
	threadID := r.URL.Query().Get("thread_id")

	if traceID == "" && threadID == "" {
		writeError(w, s.logger, domain.ErrInvalidRequest("trace_id or thread_id is required"))
		return
	}

	if traceID == "" {
		id, ok, err := s.traces.LatestTraceForThread(r.Context(), threadID)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		if !ok {
			writeError(w, s.logger, domain.ErrNotFound("no trace found for thread "+threadID))
			return
		}
		traceID = id
	}

	entries, err := s.traces.EntriesForTrace(r.Context(), traceID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, s.logger, domain.ErrNotFound("no trace entries found for trace "+traceID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trace_id":  traceID,
		"entries":   entries,
		"analytics": trace.Summarize(entries),
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	var traceID, threadID string
	opts := replay.Options{Mode: replay.ModeFull}

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		traceID = q.Get("trace_id")
		threadID = q.Get("thread_id")
		if m := q.Get("mode"); m != "" {
			opts.Mode = replay.Mode(m)
		}
		opts.StopBefore = q.Get("stop_before")
		opts.SkipExternalCalls = q.Get("skip_external") == "true"
	default:
		var body struct {
			TraceID           string `json:"trace_id"`
			ThreadID          string `json:"thread_id"`
			Mode              string `json:"mode"`
			StopBefore        string `json:"stop_before"`
			SkipExternalCalls bool   `json:"skip_external_calls"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, s.logger, domain.ErrInvalidRequest("invalid request body"))
			return
		}
		traceID = body.TraceID
		threadID = body.ThreadID
		if body.Mode != "" {
			opts.Mode = replay.Mode(body.Mode)
		}
		opts.StopBefore = body.StopBefore
		opts.SkipExternalCalls = body.SkipExternalCalls
	}

	if traceID == "" && threadID == "" {
		writeError(w, s.logger, domain.ErrInvalidRequest("trace_id or thread_id is required"))
		return
	}

	var result *replay.Result
	var err error
	if traceID != "" {
		result, err = s.replayer.Replay(r.Context(), traceID, opts)
	} else {
		result, err = s.replayer.ReplayThread(r.Context(), threadID, opts)
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
}

// Thread state

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	doc, err := s.states.Load(r.Context(), threadID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if doc == nil {
		writeError(w, s.logger, domain.ErrNotFound("no state for thread "+threadID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"state":     doc,
	})
}
