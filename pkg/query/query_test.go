package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
)

func openStore(t *testing.T) kv.Store {
	t.Helper()
	store, err := kv.Open(t.TempDir() + "/q.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

const testAcct dkey.AccountId = 1
const testColl = dkey.CollectionMail

func putUsedIds(t *testing.T, store kv.Store, ids ...uint32) {
	t.Helper()
	bm := roaringOf(ids...)
	b := &kv.Batch{}
	b.Put(kv.FamilyBitmaps, dkey.CollectionBitmapKey(testAcct, testColl, dkey.BitmapUsedIds), encodeBitmapForTest(bm))
	require.NoError(t, store.Apply(b))
}

func TestEvaluateNilFilterReturnsUniverse(t *testing.T) {
	store := openStore(t)
	putUsedIds(t, store, 1, 2, 3)

	bm, err := Evaluate(store, testAcct, testColl, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{1, 2, 3}, toUint32Slice(bm))
}

func TestEvaluateNotComplementsWithinUniverse(t *testing.T) {
	store := openStore(t)
	putUsedIds(t, store, 1, 2, 3)

	tagKey := dkey.TagBitmapKey(testAcct, testColl, 1, []byte("seen"))
	b := &kv.Batch{}
	b.Put(kv.FamilyBitmaps, tagKey, encodeBitmapForTest(roaringOf(1)))
	require.NoError(t, store.Apply(b))

	f := Not{Inner: Tag{Field: 1, Tag: []byte("seen")}}
	bm, err := Evaluate(store, testAcct, testColl, f)
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{2, 3}, toUint32Slice(bm))
}

func TestPaginatePositionSkipAndTake(t *testing.T) {
	ids := []dkey.DocumentId{10, 20, 30, 40, 50}
	page, start, err := Paginate(ids, Page{Position: 2, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, start)
	require.Equal(t, []dkey.DocumentId{30, 40}, page)
}

func TestPaginateNegativePositionFromEnd(t *testing.T) {
	ids := []dkey.DocumentId{10, 20, 30, 40, 50}
	page, start, err := Paginate(ids, Page{Position: -2})
	require.NoError(t, err)
	require.Equal(t, 3, start)
	require.Equal(t, []dkey.DocumentId{40, 50}, page)
}

func TestPaginateAnchor(t *testing.T) {
	ids := []dkey.DocumentId{10, 20, 30, 40, 50}
	anchor := dkey.DocumentId(30)
	page, start, err := Paginate(ids, Page{Anchor: &anchor, AnchorOffset: 1, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, start)
	require.Equal(t, []dkey.DocumentId{40, 50}, page)
}

func TestPaginateAnchorNotFound(t *testing.T) {
	ids := []dkey.DocumentId{10, 20}
	anchor := dkey.DocumentId(99)
	_, _, err := Paginate(ids, Page{Anchor: &anchor})
	require.ErrorIs(t, err, ErrAnchorNotFound)
}

func TestSortAsTreeParentsBeforeChildren(t *testing.T) {
	// Natural order here lists a child (2) before its parent (1).
	ids := []dkey.DocumentId{2, 1, 3}
	parentOf := func(id dkey.DocumentId) (dkey.DocumentId, bool) {
		if id == 2 {
			return 1, true
		}
		return 0, false
	}
	out := SortAsTree(ids, parentOf, 10)
	posOf := func(id dkey.DocumentId) int {
		for i, v := range out {
			if v == id {
				return i
			}
		}
		return -1
	}
	require.Less(t, posOf(1), posOf(2))
}

func TestSortAsTreeRespectsMaxDepth(t *testing.T) {
	// chain 3 -> 2 -> 1, maxDepth 1 means only the immediate parent
	// relationship is honored for ordering purposes.
	ids := []dkey.DocumentId{3, 2, 1}
	parentOf := func(id dkey.DocumentId) (dkey.DocumentId, bool) {
		switch id {
		case 3:
			return 2, true
		case 2:
			return 1, true
		}
		return 0, false
	}
	out := SortAsTree(ids, parentOf, 1)
	require.Len(t, out, 3)
}
