package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps orchestrator errors to HTTP responses. Pipeline
// errors carry their own status; anything else is a 500 with a
// sanitized message.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		writeJSON(w, pe.HTTPStatusCode(), map[string]any{
			"error": map[string]any{
				"kind":     pe.Kind,
				"stage_id": pe.StageID,
				"message":  domain.SanitizeMessage(pe.Message),
			},
		})
		return
	}

	logger.Error("internal error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"kind":    "internal",
			"message": domain.SanitizeMessage(err.Error()),
		},
	})
}
