// Package state manages the per-thread DDS state document that stages
// read and extend. Attributes are namespaced by stage; a namespace is
// owned by the stage that first writes it.
package state

import (
	"encoding/json"
	"strings"
)

// SchemaVersion is stamped on every saved document.
const SchemaVersion = "1.0.0"

// Meta keys are reserved; stages can never write them.
const (
	MetaSchemaVersion = "_schema_version"
	MetaVersion       = "_version"
	MetaTenantID      = "_tenant_id"
	MetaUpdatedAt     = "_updated_at"
)

// Document is the accumulating DDS state: top-level keys are stage
// namespaces plus the underscore-prefixed meta keys.
type Document map[string]any

// NewDocument creates an empty state document.
func NewDocument() Document {
	return Document{}
}

// Clone deep-copies the document via JSON round-trip, so that stage
// implementations receive a view they cannot use to mutate the
// authoritative copy.
func (d Document) Clone() Document {
	if d == nil {
		return NewDocument()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		// A document is always built from JSON-compatible values; a
		// marshal failure means a stage smuggled in something exotic.
		out := make(Document, len(d))
		for k, v := range d {
			out[k] = v
		}
		return out
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return NewDocument()
	}
	if out == nil {
		out = NewDocument()
	}
	return out
}

// Merge writes output under the given namespace, replacing any prior
// content of that namespace.
func (d Document) Merge(namespace string, output map[string]any) {
	d[namespace] = output
}

// Namespaces returns the non-meta top-level keys.
func (d Document) Namespaces() []string {
	var out []string
	for k := range d {
		if !IsMetaKey(k) {
			out = append(out, k)
		}
	}
	return out
}

// Version returns the document's persisted version counter.
func (d Document) Version() int {
	switch v := d[MetaVersion].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// IsMetaKey reports whether a top-level key is reserved metadata.
func IsMetaKey(key string) bool {
	return strings.HasPrefix(key, "_")
}
