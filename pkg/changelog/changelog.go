// Package changelog implements the per-(account,collection) ordered
// change log: one entry per changeId recording which document ids were
// inserted, updated, child-updated, or deleted, plus since/
// since-inclusive/range queries and snapshot compaction. Entries live
// in the Logs family under the dkey.LogPrefixChange
// prefix, the same key space pkg/raftlog assigns a Raft entry to for a
// different prefix — there is no cross-dependency between the two, only
// a shared column family.
package changelog

import (
	"bytes"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/metrics"
)

// Tag discriminates an Entry record from a Snapshot record sharing the
// same key space.
type Tag byte

const (
	TagEntry    Tag = 0x01
	TagSnapshot Tag = 0x02
)

// Entry is one change-log record: the document ids touched by one
// logical write, grouped by the kind of change.
type Entry struct {
	Inserted     []dkey.DocumentId
	Updated      []dkey.DocumentId
	ChildUpdated []dkey.DocumentId
	Deleted      []dkey.DocumentId
}

// Log is the change log for one kv.Store, spanning every account and
// collection — callers address a specific (account, collection) pair
// through the methods below.
type Log struct {
	store kv.Store
}

func New(store kv.Store) *Log {
	return &Log{store: store}
}

// EncodeEntry serializes e per §4.6's wire layout: the entry tag, four
// LEB128 counts, then that many LEB128 ids in Inserted/Updated/
// ChildUpdated/Deleted order.
func EncodeEntry(e Entry) []byte {
	out := []byte{byte(TagEntry)}
	out = dkey.PutUvarint(out, uint64(len(e.Inserted)))
	out = dkey.PutUvarint(out, uint64(len(e.Updated)))
	out = dkey.PutUvarint(out, uint64(len(e.ChildUpdated)))
	out = dkey.PutUvarint(out, uint64(len(e.Deleted)))
	for _, id := range e.Inserted {
		out = dkey.PutUvarint(out, uint64(id))
	}
	for _, id := range e.Updated {
		out = dkey.PutUvarint(out, uint64(id))
	}
	for _, id := range e.ChildUpdated {
		out = dkey.PutUvarint(out, uint64(id))
	}
	for _, id := range e.Deleted {
		out = dkey.PutUvarint(out, uint64(id))
	}
	return out
}

// DecodeEntry is the inverse of EncodeEntry. It never panics on
// truncated input, returning dkey.ErrCorrupt instead.
func DecodeEntry(raw []byte) (Entry, error) {
	if len(raw) < 1 || Tag(raw[0]) != TagEntry {
		return Entry{}, dkey.ErrCorrupt
	}
	raw = raw[1:]
	counts := make([]uint64, 4)
	for i := range counts {
		n, k, err := dkey.Uvarint(raw)
		if err != nil {
			return Entry{}, err
		}
		counts[i] = n
		raw = raw[k:]
	}
	lists := make([][]dkey.DocumentId, 4)
	for i, n := range counts {
		ids := make([]dkey.DocumentId, 0, n)
		for j := uint64(0); j < n; j++ {
			v, k, err := dkey.Uvarint(raw)
			if err != nil {
				return Entry{}, err
			}
			raw = raw[k:]
			ids = append(ids, dkey.DocumentId(v))
		}
		lists[i] = ids
	}
	return Entry{Inserted: lists[0], Updated: lists[1], ChildUpdated: lists[2], Deleted: lists[3]}, nil
}

// EncodeSnapshot serializes a "still existing ids" bitmap as a
// compaction record. It reuses the same roaring.Bitmap the rest of the
// store serializes (32-bit document ids), rather than the literal
// 64-bit roaring format §4.6 names — see DESIGN.md for why.
func EncodeSnapshot(ids *roaring.Bitmap) []byte {
	out := bytes.NewBuffer([]byte{byte(TagSnapshot)})
	if ids == nil {
		ids = roaring.New()
	}
	if _, err := ids.WriteTo(out); err != nil {
		panic(err) // bytes.Buffer never fails to write
	}
	return out.Bytes()
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(raw []byte) (*roaring.Bitmap, error) {
	if len(raw) < 1 || Tag(raw[0]) != TagSnapshot {
		return nil, dkey.ErrCorrupt
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(raw[1:])); err != nil {
		return nil, dkey.ErrCorrupt
	}
	return bm, nil
}

// AppendOps adds the kv ops for one change-log entry into an existing
// batch, so a document write's change-log record lands atomically with
// the rest of that write's deltas.
func AppendOps(b *kv.Batch, acct dkey.AccountId, coll dkey.Collection, changeID dkey.ChangeId, e Entry) {
	b.Put(kv.FamilyLogs, dkey.ChangeLogKey(acct, coll, changeID), EncodeEntry(e))
	if n := len(e.Inserted); n > 0 {
		metrics.ChangesAppendedTotal.WithLabelValues("insert").Add(float64(n))
	}
	if n := len(e.Updated) + len(e.ChildUpdated); n > 0 {
		metrics.ChangesAppendedTotal.WithLabelValues("update").Add(float64(n))
	}
	if n := len(e.Deleted); n > 0 {
		metrics.ChangesAppendedTotal.WithLabelValues("delete").Add(float64(n))
	}
}

// NextChangeId returns the next unused change id for (acct, coll): the
// highest existing change id (entry or snapshot) plus one, or 1 if the
// log is empty. Callers serialize this under pkg/core's per-(account,
// collection) named lock so allocation stays monotonic under concurrent
// writers.
func (l *Log) NextChangeId(acct dkey.AccountId, coll dkey.Collection) (dkey.ChangeId, error) {
	prefix := dkey.ChangeLogPrefix(acct, coll)
	seek := dkey.ChangeLogKey(acct, coll, ^dkey.ChangeId(0))
	it2, err := l.store.Iterate(kv.FamilyLogs, seek, true)
	if err != nil {
		return 0, err
	}
	defer it2.Close()

	for ; it2.Valid(); it2.Next() {
		k := it2.Key()
		if !bytes.HasPrefix(k, prefix) {
			if bytes.Compare(k, prefix) < 0 {
				break
			}
			continue
		}
		_, _, changeID, ok := dkey.ParseChangeLogKey(k)
		if !ok {
			continue // tolerate foreign-length keys sharing this prefix range
		}
		return changeID + 1, nil
	}
	return 1, nil
}

// Query selects a window of the change log to read.
type Query struct {
	Kind QueryKind
	From dkey.ChangeId // for Since/SinceInclusive/RangeInclusive
	To   dkey.ChangeId // for RangeInclusive
}

type QueryKind int

const (
	All QueryKind = iota
	Since
	SinceInclusive
	RangeInclusive
)

// Record is one decoded change-log row, either an Entry or a
// compaction Snapshot.
type Record struct {
	ChangeId   dkey.ChangeId
	Entry      Entry
	IsSnapshot bool
	Snapshot   *roaring.Bitmap
}

// Read returns every record matching q for (acct, coll), in ascending
// change-id order. It tolerates (skips) any foreign-length key sharing
// the change-log prefix range.
func (l *Log) Read(acct dkey.AccountId, coll dkey.Collection, q Query) ([]Record, error) {
	prefix := dkey.ChangeLogPrefix(acct, coll)
	var seek []byte
	switch q.Kind {
	case Since:
		seek = dkey.ChangeLogKey(acct, coll, q.From+1)
	case SinceInclusive, RangeInclusive:
		seek = dkey.ChangeLogKey(acct, coll, q.From)
	default:
		seek = prefix
	}

	it, err := l.store.Iterate(kv.FamilyLogs, seek, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Record
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		_, _, changeID, ok := dkey.ParseChangeLogKey(k)
		if !ok {
			continue
		}
		if q.Kind == RangeInclusive && changeID > q.To {
			break
		}
		rec, err := decodeRecord(changeID, it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeRecord(changeID dkey.ChangeId, raw []byte) (Record, error) {
	if len(raw) < 1 {
		return Record{}, dkey.ErrCorrupt
	}
	switch Tag(raw[0]) {
	case TagEntry:
		e, err := DecodeEntry(raw)
		if err != nil {
			return Record{}, err
		}
		return Record{ChangeId: changeID, Entry: e}, nil
	case TagSnapshot:
		bm, err := DecodeSnapshot(raw)
		if err != nil {
			return Record{}, err
		}
		return Record{ChangeId: changeID, IsSnapshot: true, Snapshot: bm}, nil
	default:
		return Record{}, dkey.ErrCorrupt
	}
}

// Changes is the deduplicated, flattened view of a window of the
// change log: at most one bucket membership per document id.
type Changes struct {
	Created         []dkey.DocumentId
	Updated         []dkey.DocumentId
	Destroyed       []dkey.DocumentId
	ChildrenChanged []dkey.DocumentId // ids whose only change was a ChildUpdate
}

type docState int

const (
	stateNone docState = iota
	stateInsert
	stateUpdate
	stateChild
	stateDeleted
)

// Replay folds a sequence of Entry records into Changes, applying
// these dedup rules:
//
//	Insert(x) . Update(x)      -> Insert(x)
//	Insert(x) . Delete(x)      -> (nothing)
//	Update(x) . Delete(x)      -> Delete(x)
//	ChildUpdate(x) suppressed whenever an Insert(x) or Update(x) exists
//	for the same id in the same window.
//
// A Snapshot record contributes every id it holds as an Insert, so a
// window that starts at or before a compaction point reports the
// compacted, still-existing ids as created.
func Replay(records []Record) Changes {
	states := make(map[dkey.DocumentId]docState)
	order := make(map[dkey.DocumentId]int)
	next := 0
	touch := func(id dkey.DocumentId) {
		if _, ok := order[id]; !ok {
			order[id] = next
			next++
		}
	}

	apply := func(id dkey.DocumentId, s docState) {
		touch(id)
		cur := states[id]
		switch s {
		case stateInsert:
			states[id] = stateInsert
		case stateUpdate:
			if cur != stateInsert {
				states[id] = stateUpdate
			}
		case stateChild:
			if cur == stateNone {
				states[id] = stateChild
			}
			// Insert/Update already present suppresses the child update.
		case stateDeleted:
			switch cur {
			case stateInsert:
				delete(states, id) // Insert . Delete -> nothing
				delete(order, id)
			default:
				states[id] = stateDeleted
			}
		}
	}

	for _, rec := range records {
		if rec.IsSnapshot {
			if rec.Snapshot != nil {
				it := rec.Snapshot.Iterator()
				for it.HasNext() {
					apply(dkey.DocumentId(it.Next()), stateInsert)
				}
			}
			continue
		}
		for _, id := range rec.Entry.Inserted {
			apply(id, stateInsert)
		}
		for _, id := range rec.Entry.Updated {
			apply(id, stateUpdate)
		}
		for _, id := range rec.Entry.ChildUpdated {
			apply(id, stateChild)
		}
		for _, id := range rec.Entry.Deleted {
			apply(id, stateDeleted)
		}
	}

	var out Changes
	ids := make([]dkey.DocumentId, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		switch states[id] {
		case stateInsert:
			out.Created = append(out.Created, id)
		case stateUpdate:
			out.Updated = append(out.Updated, id)
		case stateChild:
			out.ChildrenChanged = append(out.ChildrenChanged, id)
		case stateDeleted:
			out.Destroyed = append(out.Destroyed, id)
		}
	}
	return out
}

// Compact collapses every entry with change id <= upTo for (acct, coll)
// into a single Snapshot record keyed by upTo, recording the document
// ids that are still considered to exist (Insert/Update/ChildUpdate,
// not Delete) as of upTo. Safe to run concurrently with new entries
// being appended above upTo, and idempotent: running it twice against
// the same upTo replaces the same range with the same snapshot.
func (l *Log) Compact(acct dkey.AccountId, coll dkey.Collection, upTo dkey.ChangeId) error {
	recs, err := l.Read(acct, coll, Query{Kind: RangeInclusive, From: 0, To: upTo})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	changes := Replay(recs)
	still := roaring.New()
	for _, id := range changes.Created {
		still.Add(uint32(id))
	}
	for _, id := range changes.Updated {
		still.Add(uint32(id))
	}
	for _, id := range changes.ChildrenChanged {
		still.Add(uint32(id))
	}

	b := &kv.Batch{}
	for _, rec := range recs {
		b.Delete(kv.FamilyLogs, dkey.ChangeLogKey(acct, coll, rec.ChangeId))
	}
	b.Put(kv.FamilyLogs, dkey.ChangeLogKey(acct, coll, upTo), EncodeSnapshot(still))
	if err := l.store.Apply(b); err != nil {
		return err
	}
	metrics.ChangesCompactedTotal.Add(float64(len(recs)))
	return nil
}
