package trace

import (
	"context"
	"sync"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// MemoryRecorder is an in-memory Recorder for tests and local runs.
type MemoryRecorder struct {
	mu       sync.RWMutex
	byTrace  map[string][]domain.TraceEntry
	byThread map[string][]string
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		byTrace:  make(map[string][]domain.TraceEntry),
		byThread: make(map[string][]string),
	}
}

func (r *MemoryRecorder) Record(ctx context.Context, entry *domain.TraceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byTrace[entry.TraceID]) == 0 && entry.ThreadID != "" {
		r.byThread[entry.ThreadID] = append(r.byThread[entry.ThreadID], entry.TraceID)
	}
	r.byTrace[entry.TraceID] = append(r.byTrace[entry.TraceID], *entry)
	return nil
}

func (r *MemoryRecorder) EntriesForTrace(ctx context.Context, traceID string) ([]domain.TraceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.byTrace[traceID]
	out := make([]domain.TraceEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (r *MemoryRecorder) LatestTraceForThread(ctx context.Context, threadID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	traces := r.byThread[threadID]
	if len(traces) == 0 {
		return "", false, nil
	}
	return traces[len(traces)-1], true, nil
}
