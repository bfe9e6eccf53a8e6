package core

import (
	"fmt"

	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/changelog"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/jmapstate"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/metrics"
	"github.com/cuemby/driftbox/pkg/query"
	"github.com/cuemby/driftbox/pkg/raftlog"
	"github.com/cuemby/driftbox/pkg/schema"
	"github.com/cuemby/driftbox/pkg/tombstone"
)

// DeleteDocument logically deletes doc: it appends a tombstone bitmap
// entry and a change-log Delete record in the same batch, committed
// through the normal Raft pipeline. Physical removal happens later,
// out of the request path, the next time Compact's caller also invokes
// a purge pass (see PurgeTombstones).
func (s *Store) DeleteDocument(acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId) error {
	return s.locks.WithLock(acct, coll, func() error {
		raw, err := s.kv.Get(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds))
		if err != nil {
			return newErr(InternalError, err)
		}
		used, ok, err := bitmap.GetBitmap(raw)
		if err != nil {
			return newErr(DataCorruption, err)
		}
		if !ok || !used.Contains(uint32(doc)) {
			return newErr(NotFound, fmt.Errorf("core: document %d not found", doc))
		}
		tombRaw, err := s.kv.Get(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapTombstoned))
		if err != nil {
			return newErr(InternalError, err)
		}
		tomb, tombOK, err := bitmap.GetBitmap(tombRaw)
		if err != nil {
			return newErr(DataCorruption, err)
		}
		if tombOK && tomb.Contains(uint32(doc)) {
			return newErr(NotFound, fmt.Errorf("core: document %d already deleted", doc))
		}

		var deletedEmail string
		if coll == dkey.CollectionPrincipal {
			if cur, err := s.loadOrm(acct, coll, doc); err == nil && cur != nil {
				deletedEmail, _ = cur.Properties[schema.PrincipalEmail].(string)
			}
		}

		b := &kv.Batch{}
		tombstone.MarkDeleted(b, acct, coll, doc)

		changeID, err := s.changelog.NextChangeId(acct, coll)
		if err != nil {
			return newErr(InternalError, err)
		}
		changelog.AppendOps(b, acct, coll, changeID, changelog.Entry{Deleted: []dkey.DocumentId{doc}})

		if err := s.applyBatch(acct, []dkey.Collection{coll}, b); err != nil {
			return newErr(InternalError, err)
		}
		s.ormCache.invalidate(acct, coll, doc)
		if deletedEmail != "" {
			s.InvalidateRecipient(deletedEmail)
		}
		return nil
	})
}

// PurgeTombstones runs the physical purge pass for (acct, coll): every
// document marked tombstoned since the last pass has its Values,
// Indexes, and blob links removed and its id freed for reuse. Unlike
// document writes this does not go through Raft — each replica runs
// its own purge pass independently over identical tombstoned state, so
// there is nothing to replicate.
func (s *Store) PurgeTombstones(acct dkey.AccountId, coll dkey.Collection) (tombstone.Result, error) {
	return tombstone.Purge(s.kv, s.Blobs(), acct, coll)
}

// GetChanges returns the paginated change-log window for (acct, coll)
// since the given state cursor.
func (s *Store) GetChanges(acct dkey.AccountId, coll dkey.Collection, since jmapstate.Cursor, maxChanges uint64) (jmapstate.Response, error) {
	return jmapstate.GetChanges(s.changelog, acct, coll, since, maxChanges)
}

// Compact runs a change-log snapshot compaction for (acct, coll) up to
// upTo, replicated as a Raft SnapshotCommand so every follower prunes
// the same entries rather than each independently re-deriving the
// still-relevant id set.
func (s *Store) Compact(acct dkey.AccountId, coll dkey.Collection, upTo dkey.ChangeId) error {
	cmd := raftlog.SnapshotCommand{Entries: []raftlog.SnapshotEntry{{Account: acct, Collection: coll, UpTo: upTo}}}
	data, err := raftlog.EncodeSnapshot(cmd)
	if err != nil {
		return newErr(InternalError, err)
	}
	return s.applyRaw(data)
}

// Query evaluates f against (acct, coll)'s universe bitmap, sorts the
// result with comparators, and returns one page of it.
func (s *Store) Query(acct dkey.AccountId, coll dkey.Collection, f query.Filter, comparators []query.Comparator, page query.Page) ([]dkey.DocumentId, int, error) {
	timer := metrics.NewTimer()
	label := fmt.Sprintf("%d", coll)
	defer timer.ObserveDurationVec(metrics.QueryDuration, label)
	metrics.QueriesTotal.WithLabelValues(label).Inc()

	candidates, err := query.Evaluate(s.kv, acct, coll, f)
	if err != nil {
		return nil, 0, newErr(InternalError, err)
	}
	sorted, err := query.Sort(s.kv, acct, coll, candidates, comparators)
	if err != nil {
		return nil, 0, newErr(InternalError, err)
	}
	ids, pos, err := query.Paginate(sorted, page)
	if err == query.ErrAnchorNotFound {
		return nil, 0, &Error{Kind: AnchorNotFound}
	}
	if err != nil {
		return nil, 0, newErr(InternalError, err)
	}
	return ids, pos, nil
}
