// Package trace records the append-only history of pipeline runs.
// Every stage the executor considers produces exactly one entry, and
// entries are written in attempt order; the replay engine relies on
// nothing else.
package trace

import (
	"context"

	"github.com/drishiq/dialogue-engine/internal/domain"
)

// Recorder is the append-only trace store. Entries are never updated
// or deleted after being written.
type Recorder interface {
	// Record appends one trace entry. Writes must preserve the order
	// in which the executor calls Record for a given trace id.
	Record(ctx context.Context, entry *domain.TraceEntry) error

	// EntriesForTrace returns all entries for a trace id in write order.
	EntriesForTrace(ctx context.Context, traceID string) ([]domain.TraceEntry, error)

	// LatestTraceForThread resolves the most recent trace id for a
	// thread. ok is false when the thread has no recorded traces.
	LatestTraceForThread(ctx context.Context, threadID string) (traceID string, ok bool, err error)
}
