package tombstone

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/blob"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/docstore"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/schema"
)

func openTestStore(t *testing.T) kv.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := kv.Open(dir + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMarkDeletedThenPurgeClearsValuesAndUsedId(t *testing.T) {
	store := openTestStore(t)
	acct := dkey.AccountId(1)
	coll := dkey.CollectionMail
	doc := dkey.DocumentId(7)

	setup := &kv.Batch{}
	setup.Put(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, schema.Mail.Defs[schema.MailSubject].Field, dkey.SubNone), []byte("hello"))
	setup.Put(kv.FamilyIndexes, dkey.IndexKey(acct, coll, schema.Mail.Defs[schema.MailSubject].Field, []byte("hello"), doc), nil)
	// Ids 0..doc are all in use, so doc is the smallest free id once purged.
	var usedOps []bitmap.Op
	for id := uint32(0); id <= uint32(doc); id++ {
		usedOps = append(usedOps, bitmap.Op{Set: true, ID: id})
	}
	setup.Merge(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds), bitmap.EncodeBitlist(usedOps))
	require.NoError(t, store.Apply(setup))

	del := &kv.Batch{}
	MarkDeleted(del, acct, coll, doc)
	require.NoError(t, store.Apply(del))

	res, err := Purge(store, blob.New(store), acct, coll)
	require.NoError(t, err)
	require.Equal(t, 1, res.Purged)

	v, err := store.Get(kv.FamilyValues, dkey.ValueKey(acct, coll, doc, schema.Mail.Defs[schema.MailSubject].Field, dkey.SubNone))
	require.NoError(t, err)
	require.Nil(t, v)

	idx, err := store.Get(kv.FamilyIndexes, dkey.IndexKey(acct, coll, schema.Mail.Defs[schema.MailSubject].Field, []byte("hello"), doc))
	require.NoError(t, err)
	require.Nil(t, idx)

	freeID, err := kv.NextDocumentId(store, acct, coll)
	require.NoError(t, err)
	require.Equal(t, doc, freeID)
}

func TestPurgeUnlinksBlobRefs(t *testing.T) {
	store := openTestStore(t)
	blobs := blob.New(store)
	acct := dkey.AccountId(1)
	coll := dkey.CollectionMail
	doc := dkey.DocumentId(3)

	hash, size, err := blobs.Put([]byte("attachment bytes"))
	require.NoError(t, err)
	require.NoError(t, blobs.LinkOwned(hash, size, acct, coll, doc, nil))

	setup := &kv.Batch{}
	setup.Put(kv.FamilyValues, docstore.BlobIndexKey(acct, coll, doc), docstore.EncodeBlobRefs([]docstore.BlobRef{{Hash: hash, Size: size}}))
	require.NoError(t, store.Apply(setup))

	del := &kv.Batch{}
	MarkDeleted(del, acct, coll, doc)
	require.NoError(t, store.Apply(del))

	_, err = Purge(store, blobs, acct, coll)
	require.NoError(t, err)

	n, err := blobs.RefCount(hash, size)
	require.NoError(t, err)
	require.Zero(t, n)

	_, ok, err := blobs.Get(hash, size)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPurgeNoTombstonesIsNoop(t *testing.T) {
	store := openTestStore(t)
	res, err := Purge(store, blob.New(store), dkey.AccountId(1), dkey.CollectionMail)
	require.NoError(t, err)
	require.Zero(t, res.Purged)
}

func TestPurgeClearsTagAndTermBitmaps(t *testing.T) {
	store := openTestStore(t)
	acct := dkey.AccountId(1)
	coll := dkey.CollectionMail
	doc := dkey.DocumentId(9)
	field := schema.Mail.Defs[schema.MailSubject].Field

	tagKey := dkey.TagBitmapKey(acct, coll, field, []byte("\\Seen"))
	termKey := dkey.TermBitmapKey(acct, coll, field, 0xdeadbeef, false)
	stemKey := dkey.TermBitmapKey(acct, coll, field, 0xdeadbeef, true)

	setup := &kv.Batch{}
	setup.Merge(kv.FamilyBitmaps, tagKey, bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}}))
	setup.Merge(kv.FamilyBitmaps, termKey, bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}}))
	setup.Merge(kv.FamilyBitmaps, stemKey, bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}}))
	// Ids 0..doc are all in use, so doc is the smallest free id once purged.
	var usedOps []bitmap.Op
	for id := uint32(0); id <= uint32(doc); id++ {
		usedOps = append(usedOps, bitmap.Op{Set: true, ID: id})
	}
	setup.Merge(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds), bitmap.EncodeBitlist(usedOps))
	require.NoError(t, store.Apply(setup))

	del := &kv.Batch{}
	MarkDeleted(del, acct, coll, doc)
	require.NoError(t, store.Apply(del))

	res, err := Purge(store, blob.New(store), acct, coll)
	require.NoError(t, err)
	require.Equal(t, 1, res.Purged)

	for _, key := range [][]byte{tagKey, termKey, stemKey} {
		raw, err := store.Get(kv.FamilyBitmaps, key)
		require.NoError(t, err)
		bm, ok, err := bitmap.GetBitmap(raw)
		require.NoError(t, err)
		if ok {
			require.False(t, bm.Contains(uint32(doc)))
		}
	}

	freeID, err := kv.NextDocumentId(store, acct, coll)
	require.NoError(t, err)
	require.Equal(t, doc, freeID)

	raw, err := store.Get(kv.FamilyBitmaps, tagKey)
	require.NoError(t, err)
	bm, ok, err := bitmap.GetBitmap(raw)
	require.NoError(t, err)
	if ok {
		require.False(t, bm.Contains(uint32(freeID)))
	}
}

func TestPurgeLeavesOtherAccountsBitmapsAlone(t *testing.T) {
	store := openTestStore(t)
	coll := dkey.CollectionMail
	doc := dkey.DocumentId(4)
	field := schema.Mail.Defs[schema.MailSubject].Field

	purgedAcct := dkey.AccountId(1)
	otherAcct := dkey.AccountId(2)
	otherKey := dkey.TagBitmapKey(otherAcct, coll, field, []byte("\\Seen"))

	setup := &kv.Batch{}
	setup.Merge(kv.FamilyBitmaps, otherKey, bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}}))
	setup.Merge(kv.FamilyBitmaps, dkey.CollectionBitmapKey(purgedAcct, coll, dkey.BitmapUsedIds), bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: uint32(doc)}}))
	require.NoError(t, store.Apply(setup))

	del := &kv.Batch{}
	MarkDeleted(del, purgedAcct, coll, doc)
	require.NoError(t, store.Apply(del))

	_, err := Purge(store, blob.New(store), purgedAcct, coll)
	require.NoError(t, err)

	raw, err := store.Get(kv.FamilyBitmaps, otherKey)
	require.NoError(t, err)
	bm, ok, err := bitmap.GetBitmap(raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, bm.Contains(uint32(doc)))
}
