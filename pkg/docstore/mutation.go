package docstore

import "github.com/cuemby/driftbox/pkg/schema"

// MutationKind names the shape of one property-level change a document
// write carries. The ORM layer (pkg/orm) computes these from a diff
// between a document's current and requested state; this package turns
// them into the actual key-value deltas.
type MutationKind int

const (
	// SetStored replaces a property's stored (non-indexed) value.
	SetStored MutationKind = iota
	// ClearStored removes a property's stored value.
	ClearStored
	// SetIndex adds a sortable/range index entry.
	SetIndex
	// ClearIndex removes a sortable/range index entry.
	ClearIndex
	// SetText adds full-text terms (exact and stemmed) for a text value.
	SetText
	// ClearText removes full-text terms previously added for a text value.
	ClearText
	// SetTag adds a tag-bitmap set-bit delta.
	SetTag
	// ClearTag adds a tag-bitmap clear-bit delta.
	ClearTag
)

// FieldMutation is one property-level instruction produced by
// pkg/orm.MergeValidate. Bytes carries raw stored bytes for
// Set/ClearStored and index key-bytes (big-endian numeric, or raw text
// bytes) for Set/ClearIndex. Text carries the literal string content
// for Set/ClearText, which BuildBatch tokenizes via pkg/textindex.
type FieldMutation struct {
	Property schema.PropertyId
	Kind     MutationKind
	Bytes    []byte
	Text     string
}
