package state

import (
	"context"
	"sync"
	"time"
)

// Store persists DDS state documents per thread.
type Store interface {
	// Load returns the current document for the thread, or nil if the
	// thread has no saved state yet.
	Load(ctx context.Context, threadID string) (Document, error)

	// Save persists the document, stamping schema version, an
	// incremented version counter, and the update time.
	Save(ctx context.Context, threadID string, doc Document, tenantID string) error
}

// stamp applies the save-time metadata to a copy of doc.
func stamp(doc Document, prevVersion int, tenantID string, now time.Time) Document {
	out := doc.Clone()
	if _, ok := out[MetaSchemaVersion]; !ok {
		out[MetaSchemaVersion] = SchemaVersion
	}
	out[MetaVersion] = prevVersion + 1
	if tenantID != "" {
		out[MetaTenantID] = tenantID
	}
	out[MetaUpdatedAt] = now.UTC().Format(time.RFC3339Nano)
	return out
}

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (s *MemoryStore) Load(ctx context.Context, threadID string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[threadID]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, threadID string, doc Document, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := 0
	if existing, ok := s.docs[threadID]; ok {
		prev = existing.Version()
	}
	s.docs[threadID] = stamp(doc, prev, tenantID, time.Now())
	return nil
}
