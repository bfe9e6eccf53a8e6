// Package kv is the typed key-value abstraction every other driftbox
// subsystem writes through: point get, multi-get, prefix iteration
// forward and backward with an explicit seek key, and an atomic batch of
// heterogeneous {Put, Delete, Merge} operations over five column
// families, generalized from a single-bucket-per-entity BoltDB store
// into one bucket per family with caller-owned key encoding.
package kv

import "github.com/cuemby/driftbox/pkg/dkey"

// Family names one of the five column families driftbox keeps in the
// backing engine.
type Family string

const (
	FamilyValues  Family = "values"
	FamilyBitmaps Family = "bitmaps"
	FamilyIndexes Family = "indexes"
	FamilyLogs    Family = "logs"
	FamilyBlobs   Family = "blobs"
)

// Families lists every column family, in the order buckets are created.
var Families = []Family{FamilyValues, FamilyBitmaps, FamilyIndexes, FamilyLogs, FamilyBlobs}

// OpKind discriminates a batch operation.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
	OpMerge
)

// Op is one heterogeneous operation inside an atomic Batch.
type Op struct {
	Kind   OpKind
	Family Family
	Key    []byte
	Value  []byte // ignored for OpDelete
}

// Batch accumulates operations that must be committed atomically.
type Batch struct {
	Ops []Op
}

func (b *Batch) Put(family Family, key, value []byte) {
	b.Ops = append(b.Ops, Op{Kind: OpPut, Family: family, Key: key, Value: value})
}

func (b *Batch) Delete(family Family, key []byte) {
	b.Ops = append(b.Ops, Op{Kind: OpDelete, Family: family, Key: key})
}

// Merge appends a mergeable delta value. Only FamilyBitmaps currently
// supports merge: the batch applier resolves it in-process by calling
// pkg/bitmap.Merge against the family's current value.
func (b *Batch) Merge(family Family, key, delta []byte) {
	b.Ops = append(b.Ops, Op{Kind: OpMerge, Family: family, Key: key, Value: delta})
}

// Iterator walks a column family's keys in order, forward or backward,
// starting from an explicit seek position.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Close() error
}

// Store is the typed KV engine interface every subsystem depends on.
type Store interface {
	Get(family Family, key []byte) ([]byte, error)
	MultiGet(family Family, keys [][]byte) ([][]byte, error)

	// Iterate returns an Iterator positioned at seek (or the first/last
	// key in the family if seek is nil), walking forward if reverse is
	// false, backward otherwise.
	Iterate(family Family, seek []byte, reverse bool) (Iterator, error)

	// Apply commits every Op in batch atomically.
	Apply(batch *Batch) error

	Close() error
}

// NextDocumentId draws a fresh document id for (account, collection) from
// the "used ids" bitmap, returning the smallest id not currently in use.
// A tombstoned id is also off limits until it is purged, so callers
// racing a purge pass never collide with a document whose old data is
// still pending physical deletion under that id.
func NextDocumentId(s Store, acct dkey.AccountId, coll dkey.Collection) (dkey.DocumentId, error) {
	usedRaw, err := s.Get(FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds))
	if err != nil {
		return 0, err
	}
	tombRaw, err := s.Get(FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapTombstoned))
	if err != nil {
		return 0, err
	}
	used, err := decodeBitmapOrEmpty(usedRaw)
	if err != nil {
		return 0, err
	}
	tomb, err := decodeBitmapOrEmpty(tombRaw)
	if err != nil {
		return 0, err
	}
	// A fresh id must be absent from both used-ids (not currently
	// allocated) and tombstoned (not awaiting purge of stale data under
	// that id).
	var id uint32
	for used.Contains(id) || tomb.Contains(id) {
		id++
	}
	return dkey.DocumentId(id), nil
}
