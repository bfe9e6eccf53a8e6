package kv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/dkey"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftbox.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	key := []byte("k1")
	b := &Batch{}
	b.Put(FamilyValues, key, []byte("v1"))
	require.NoError(t, s.Apply(b))

	got, err := s.Get(FamilyValues, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	missing, err := s.Get(FamilyValues, []byte("absent"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMultiGet(t *testing.T) {
	s := openTestStore(t)
	b := &Batch{}
	b.Put(FamilyValues, []byte("a"), []byte("1"))
	b.Put(FamilyValues, []byte("b"), []byte("2"))
	require.NoError(t, s.Apply(b))

	got, err := s.MultiGet(FamilyValues, [][]byte{[]byte("a"), []byte("missing"), []byte("b")})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("1"), got[0])
	assert.Nil(t, got[1])
	assert.Equal(t, []byte("2"), got[2])
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	b := &Batch{}
	b.Put(FamilyValues, []byte("k"), []byte("v"))
	require.NoError(t, s.Apply(b))

	del := &Batch{}
	del.Delete(FamilyValues, []byte("k"))
	require.NoError(t, s.Apply(del))

	got, err := s.Get(FamilyValues, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMergeAccumulatesBitlistsIntoBitmap(t *testing.T) {
	s := openTestStore(t)
	key := []byte("bm1")

	b1 := &Batch{}
	b1.Merge(FamilyBitmaps, key, bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: 1}, {Set: true, ID: 2}}))
	require.NoError(t, s.Apply(b1))

	b2 := &Batch{}
	b2.Merge(FamilyBitmaps, key, bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: 3}, {Set: false, ID: 1}}))
	require.NoError(t, s.Apply(b2))

	raw, err := s.Get(FamilyBitmaps, key)
	require.NoError(t, err)
	bm, ok, err := bitmap.GetBitmap(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []uint32{2, 3}, bm.ToArray())
}

func TestMergeOnNonBitmapFamilyErrors(t *testing.T) {
	s := openTestStore(t)
	b := &Batch{}
	b.Merge(FamilyValues, []byte("k"), []byte("x"))
	assert.Error(t, s.Apply(b))
}

func TestIterateForward(t *testing.T) {
	s := openTestStore(t)
	b := &Batch{}
	b.Put(FamilyValues, []byte("a"), []byte("1"))
	b.Put(FamilyValues, []byte("b"), []byte("2"))
	b.Put(FamilyValues, []byte("c"), []byte("3"))
	require.NoError(t, s.Apply(b))

	it, err := s.Iterate(FamilyValues, nil, false)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestIterateBackward(t *testing.T) {
	s := openTestStore(t)
	b := &Batch{}
	b.Put(FamilyValues, []byte("a"), []byte("1"))
	b.Put(FamilyValues, []byte("b"), []byte("2"))
	b.Put(FamilyValues, []byte("c"), []byte("3"))
	require.NoError(t, s.Apply(b))

	it, err := s.Iterate(FamilyValues, nil, true)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"c", "b", "a"}, keys)
}

func TestIterateBackwardFromSeek(t *testing.T) {
	s := openTestStore(t)
	b := &Batch{}
	b.Put(FamilyValues, []byte("a"), []byte("1"))
	b.Put(FamilyValues, []byte("c"), []byte("3"))
	b.Put(FamilyValues, []byte("e"), []byte("5"))
	require.NoError(t, s.Apply(b))

	// Seek lands between c and e; backward scan should start at c.
	it, err := s.Iterate(FamilyValues, []byte("d"), true)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	assert.Equal(t, []string{"c", "a"}, keys)
}

func TestNextDocumentIdSkipsUsedAndTombstoned(t *testing.T) {
	s := openTestStore(t)
	acct := dkey.AccountId(1)
	coll := dkey.CollectionMail

	used := bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: 0}, {Set: true, ID: 1}})
	tomb := bitmap.EncodeBitlist([]bitmap.Op{{Set: true, ID: 2}})
	b := &Batch{}
	b.Merge(FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds), used)
	b.Merge(FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapTombstoned), tomb)
	require.NoError(t, s.Apply(b))

	id, err := NextDocumentId(s, acct, coll)
	require.NoError(t, err)
	assert.Equal(t, dkey.DocumentId(3), id)
}

func TestRangeToBitmapOperators(t *testing.T) {
	s := openTestStore(t)
	acct := dkey.AccountId(1)
	coll := dkey.CollectionMail
	field := dkey.FieldId(10)
	prefix := dkey.IndexPrefix(acct, coll, field)

	b := &Batch{}
	for _, v := range []struct {
		key []byte
		doc dkey.DocumentId
	}{
		{[]byte{1}, 100},
		{[]byte{3}, 101},
		{[]byte{5}, 102},
		{[]byte{5}, 103},
		{[]byte{7}, 104},
	} {
		b.Put(FamilyIndexes, dkey.IndexKey(acct, coll, field, v.key, v.doc), nil)
	}
	require.NoError(t, s.Apply(b))

	got, err := RangeToBitmap(s, prefix, OpLT, []byte{5})
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 101}, got.ToArray())

	got, err = RangeToBitmap(s, prefix, OpLE, []byte{5})
	require.NoError(t, err)
	assert.Equal(t, []uint32{100, 101, 102, 103}, got.ToArray())

	got, err = RangeToBitmap(s, prefix, OpEQ, []byte{5})
	require.NoError(t, err)
	assert.Equal(t, []uint32{102, 103}, got.ToArray())

	got, err = RangeToBitmap(s, prefix, OpGE, []byte{5})
	require.NoError(t, err)
	assert.Equal(t, []uint32{102, 103, 104}, got.ToArray())

	got, err = RangeToBitmap(s, prefix, OpGT, []byte{5})
	require.NoError(t, err)
	assert.Equal(t, []uint32{104}, got.ToArray())
}
