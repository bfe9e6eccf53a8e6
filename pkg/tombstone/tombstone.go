// Package tombstone implements two-phase deferred deletion: a document
// is first marked in a per-(account, collection) tombstoned bitmap
// (replicated through the same Raft log
// as any other write), then a separate purge pass physically clears
// its Values/Indexes records and blob links once every replica has
// seen the tombstone entry. Document ids stay off-limits to
// kv.NextDocumentId for as long as they remain tombstoned, so purge
// can run concurrently with inserts without risking an id collision.
package tombstone

import (
	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/blob"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/docstore"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/metrics"
	"github.com/cuemby/driftbox/pkg/schema"
)

// MarkDeleted builds the batch that logically deletes doc: a set-bit
// merge into the (account, collection) tombstoned bitmap. The caller
// is responsible for appending the matching change-log Delete entry to
// the same batch — MarkDeleted only owns the tombstone bitmap. It does
// not touch the used-ids bitmap: a tombstoned id stays reserved until
// Purge clears it, so a racing NextDocumentId call can never be handed
// a document id whose old data hasn't been physically removed yet.
func MarkDeleted(b *kv.Batch, acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId) {
	delta := bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}})
	b.Merge(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapTombstoned), delta)
	metrics.TombstonesMarkedTotal.Inc()
}

// Result summarizes one Purge call.
type Result struct {
	Purged int
}

// Purge scans every document id marked tombstoned for (acct, coll),
// deletes its Values and Indexes records, decrements any blobs it
// referenced, and clears the id from both the used-ids and tombstoned
// bitmaps so it becomes eligible for reuse. Index cleanup is driven by
// the collection's schema table rather than a full prefix scan: each
// Indexed property's current stored value (if any) tells us the exact
// index key to remove without scanning the whole Indexes family.
func Purge(store kv.Store, blobs *blob.Store, acct dkey.AccountId, coll dkey.Collection) (Result, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PurgeDuration)
	metrics.PurgePassesTotal.Inc()

	tombRaw, err := store.Get(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapTombstoned))
	if err != nil {
		return Result{}, err
	}
	tomb, ok, err := bitmap.GetBitmap(tombRaw)
	if err != nil {
		return Result{}, err
	}
	if !ok || tomb.IsEmpty() {
		return Result{}, nil
	}

	table, hasTable := schema.ForCollection(coll)

	b := &kv.Batch{}
	var clearUsed, clearTomb []bitmap.Op
	purged := 0

	it := tomb.Iterator()
	for it.HasNext() {
		id := it.Next()
		doc := dkey.DocumentId(id)

		if hasTable {
			purgeValuesAndIndexes(store, b, acct, coll, doc, table)
		}
		if err := purgeBlobRefs(store, blobs, acct, coll, doc); err != nil {
			return Result{}, err
		}

		clearUsed = append(clearUsed, bitmap.Op{Set: false, ID: id})
		clearTomb = append(clearTomb, bitmap.Op{Set: false, ID: id})
		purged++
	}

	b.Merge(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds), bitmap.EncodeBitlist(clearUsed))
	b.Merge(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapTombstoned), bitmap.EncodeBitlist(clearTomb))

	purgedIds := make([]uint32, 0, len(clearTomb))
	for _, op := range clearTomb {
		purgedIds = append(purgedIds, op.ID)
	}
	if err := clearOwnedBitmaps(store, b, acct, coll, purgedIds); err != nil {
		return Result{}, err
	}

	if err := store.Apply(b); err != nil {
		return Result{}, err
	}
	metrics.PurgedDocumentsTotal.Add(float64(purged))
	return Result{Purged: purged}, nil
}

// clearOwnedBitmaps clears ids out of every tag and full-text term
// bitmap owned by (acct, coll). Those Bitmaps-family keys carry a
// variable-length tag/term payload ahead of their (account, collection)
// trailer, so unlike Values/Indexes keys they can't be found by a
// prefix seek — a document reusing a purged id would otherwise inherit
// whatever tag or search-term membership the id's previous occupant
// left behind. Whole-collection bitmaps (used ids, tombstoned) are
// skipped here since Purge clears those itself.
func clearOwnedBitmaps(store kv.Store, b *kv.Batch, acct dkey.AccountId, coll dkey.Collection, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	it, err := store.Iterate(kv.FamilyBitmaps, nil, false)
	if err != nil {
		return err
	}
	defer it.Close()

	clearOps := make([]bitmap.Op, len(ids))
	for i, id := range ids {
		clearOps[i] = bitmap.Op{Set: false, ID: id}
	}
	delta := bitmap.EncodeBitlist(clearOps)

	for it.Valid() {
		key := it.Key()
		kacct, kcoll, class, ok := dkey.BitmapKeyOwner(key)
		if ok && class != dkey.ClassCollection && kacct == acct && kcoll == coll {
			b.Merge(kv.FamilyBitmaps, append([]byte(nil), key...), delta)
		}
		it.Next()
	}
	return nil
}

// purgeValuesAndIndexes deletes every stored field value, the per-field
// term-position blob, and the ORM/blob-index payloads belonging to
// doc. The matching index entry for an Indexed property needs the
// stored value's bytes to reconstruct the key it was filed under, so
// the stored value is read before being deleted.
func purgeValuesAndIndexes(store kv.Store, b *kv.Batch, acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId, table schema.Table) {
	b.Delete(kv.FamilyValues, dkey.OrmPayloadKey(acct, coll, doc))
	b.Delete(kv.FamilyValues, docstore.BlobIndexKey(acct, coll, doc))

	for _, def := range table.Defs {
		field := def.Field
		b.Delete(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, field, dkey.SubNone))
		b.Delete(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, field, dkey.SubTermIdx))

		if !def.Indexed {
			continue
		}
		raw, err := store.Get(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, field, dkey.SubNone))
		if err != nil || raw == nil {
			continue
		}
		b.Delete(kv.FamilyIndexes, dkey.IndexKey(acct, coll, field, raw, doc))
	}
}

// purgeBlobRefs unlinks every blob doc holds, using the per-document
// blob index pkg/docstore writes alongside the document's other
// fields — a document that never carried any blobRefs has no index
// entry and this is a no-op.
func purgeBlobRefs(store kv.Store, blobs *blob.Store, acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId) error {
	if blobs == nil {
		return nil
	}
	raw, err := store.Get(kv.FamilyValues, docstore.BlobIndexKey(acct, coll, doc))
	if err != nil {
		return err
	}
	refs, err := docstore.DecodeBlobRefs(raw)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := blobs.Unlink(ref.Hash, ref.Size, acct, coll, doc, ref.SubIndex); err != nil {
			return err
		}
	}
	return nil
}
