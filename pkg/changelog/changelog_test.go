package changelog

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/dkey"
)

func TestEntryRoundTrip(t *testing.T) {
	e := Entry{
		Inserted:     []dkey.DocumentId{1, 2, 3},
		Updated:      []dkey.DocumentId{4},
		ChildUpdated: []dkey.DocumentId{5, 6},
		Deleted:      nil,
	}
	got, err := DecodeEntry(EncodeEntry(e))
	require.NoError(t, err)
	require.Equal(t, e.Inserted, got.Inserted)
	require.Equal(t, e.Updated, got.Updated)
	require.Equal(t, e.ChildUpdated, got.ChildUpdated)
	require.Empty(t, got.Deleted)
}

func TestDecodeEntryTruncated(t *testing.T) {
	_, err := DecodeEntry([]byte{byte(TagEntry), 0x05})
	require.ErrorIs(t, err, dkey.ErrCorrupt)
}

func TestReplayInsertThenUpdateCollapses(t *testing.T) {
	recs := []Record{
		{ChangeId: 1, Entry: Entry{Inserted: []dkey.DocumentId{10}}},
		{ChangeId: 2, Entry: Entry{Updated: []dkey.DocumentId{10}}},
	}
	changes := Replay(recs)
	require.Equal(t, []dkey.DocumentId{10}, changes.Created)
	require.Empty(t, changes.Updated)
}

func TestReplayInsertThenDeleteDrops(t *testing.T) {
	recs := []Record{
		{ChangeId: 1, Entry: Entry{Inserted: []dkey.DocumentId{10}}},
		{ChangeId: 2, Entry: Entry{Deleted: []dkey.DocumentId{10}}},
	}
	changes := Replay(recs)
	require.Empty(t, changes.Created)
	require.Empty(t, changes.Updated)
	require.Empty(t, changes.Destroyed)
}

func TestReplayUpdateThenDeleteYieldsDelete(t *testing.T) {
	recs := []Record{
		{ChangeId: 1, Entry: Entry{Updated: []dkey.DocumentId{10}}},
		{ChangeId: 2, Entry: Entry{Deleted: []dkey.DocumentId{10}}},
	}
	changes := Replay(recs)
	require.Equal(t, []dkey.DocumentId{10}, changes.Destroyed)
}

func TestReplayChildUpdateSuppressedByUpdate(t *testing.T) {
	recs := []Record{
		{ChangeId: 1, Entry: Entry{Updated: []dkey.DocumentId{10}}},
		{ChangeId: 2, Entry: Entry{ChildUpdated: []dkey.DocumentId{10}}},
	}
	changes := Replay(recs)
	require.Equal(t, []dkey.DocumentId{10}, changes.Updated)
	require.Empty(t, changes.ChildrenChanged)
}

func TestReplayChildUpdateSurvivesAlone(t *testing.T) {
	recs := []Record{
		{ChangeId: 1, Entry: Entry{ChildUpdated: []dkey.DocumentId{10}}},
	}
	changes := Replay(recs)
	require.Equal(t, []dkey.DocumentId{10}, changes.ChildrenChanged)
}

func TestReplayDisjointBuckets(t *testing.T) {
	recs := []Record{
		{ChangeId: 1, Entry: Entry{Inserted: []dkey.DocumentId{1, 2, 3}}},
		{ChangeId: 2, Entry: Entry{Updated: []dkey.DocumentId{4}}},
		{ChangeId: 3, Entry: Entry{Deleted: []dkey.DocumentId{5}}},
	}
	changes := Replay(recs)
	seen := map[dkey.DocumentId]int{}
	for _, id := range changes.Created {
		seen[id]++
	}
	for _, id := range changes.Updated {
		seen[id]++
	}
	for _, id := range changes.Destroyed {
		seen[id]++
	}
	for id, n := range seen {
		require.Equalf(t, 1, n, "id %d appeared in more than one bucket", id)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	bm := roaring.New()
	bm.Add(2)
	bm.Add(9)
	got, err := DecodeSnapshot(EncodeSnapshot(bm))
	require.NoError(t, err)
	require.True(t, got.Contains(2))
	require.True(t, got.Contains(9))
	require.False(t, got.Contains(3))
}
