package trace

import (
	"context"
	"regexp"

	"github.com/drishiq/dialogue-engine/internal/domain"
	"github.com/drishiq/dialogue-engine/internal/tenant"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`)
)

// RedactingRecorder wraps a Recorder and scrubs PII from output deltas
// for tenants whose privacy settings require it. Error messages are
// always sanitized of credential-shaped tokens regardless of tenant.
type RedactingRecorder struct {
	inner   Recorder
	tenants *tenant.Registry
}

var _ Recorder = (*RedactingRecorder)(nil)

// NewRedactingRecorder wraps inner with tenant-aware redaction.
func NewRedactingRecorder(inner Recorder, tenants *tenant.Registry) *RedactingRecorder {
	return &RedactingRecorder{inner: inner, tenants: tenants}
}

func (r *RedactingRecorder) Record(ctx context.Context, entry *domain.TraceEntry) error {
	redacted := *entry
	redacted.Error = domain.SanitizeMessage(entry.Error)

	if r.tenants != nil && r.tenants.RedactPII(entry.TenantID) && entry.OutputDelta != nil {
		redacted.OutputDelta = redactValue(entry.OutputDelta).(map[string]any)
	}
	return r.inner.Record(ctx, &redacted)
}

func (r *RedactingRecorder) EntriesForTrace(ctx context.Context, traceID string) ([]domain.TraceEntry, error) {
	return r.inner.EntriesForTrace(ctx, traceID)
}

func (r *RedactingRecorder) LatestTraceForThread(ctx context.Context, threadID string) (string, bool, error) {
	return r.inner.LatestTraceForThread(ctx, threadID)
}

// redactValue walks the delta and replaces PII-shaped strings. It
// returns new containers and never mutates the input.
func redactValue(v any) any {
	switch val := v.(type) {
	case string:
		out := emailPattern.ReplaceAllString(val, "[EMAIL]")
		out = phonePattern.ReplaceAllString(out, "[PHONE]")
		return domain.SanitizeMessage(out)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = redactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
