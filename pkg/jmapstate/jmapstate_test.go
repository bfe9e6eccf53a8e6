package jmapstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/changelog"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
)

func openTestLog(t *testing.T) (kv.Store, *changelog.Log) {
	t.Helper()
	store, err := kv.Open(t.TempDir() + "/jmapstate.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, changelog.New(store)
}

func appendEntry(t *testing.T, store kv.Store, log *changelog.Log, acct dkey.AccountId, coll dkey.Collection, e changelog.Entry) {
	t.Helper()
	id, err := log.NextChangeId(acct, coll)
	require.NoError(t, err)
	b := &kv.Batch{}
	changelog.AppendOps(b, acct, coll, id, e)
	require.NoError(t, store.Apply(b))
}

func TestStateRoundTrip(t *testing.T) {
	cases := []Cursor{
		Initial,
		Exact(0),
		Exact(42),
		{Kind: KindIntermediate, From: 2, To: 9, ItemsSent: 3},
		{Kind: KindIntermediate, From: 0, To: 1, ItemsSent: 1},
	}
	for _, c := range cases {
		got, err := Parse(c.String())
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
}

func TestParseRejectsInvalidWireStrings(t *testing.T) {
	invalid := []string{
		"z",
		"",
		"blah",
		"izzzz",
		"i00zz",
		"r00",
		"r00zz",
		"r00z",
		"rcec2f105e3bcf42300",
	}
	for _, s := range invalid {
		_, err := Parse(s)
		require.Errorf(t, err, "expected parse error for %q", s)
	}
}

func TestIntermediateRejectsZeroItemsSent(t *testing.T) {
	c := Cursor{Kind: KindIntermediate, From: 1, To: 2, ItemsSent: 0}
	// Encoding a zero items_sent is a programmer error; build the wire
	// string by hand instead of through String(), which only ever
	// produces items_sent > 0 for a well-formed Cursor.
	body := dkey.PutUvarint(nil, uint64(c.From))
	body = dkey.PutUvarint(body, uint64(c.To-c.From))
	body = dkey.PutUvarint(body, 0)
	s := dkey.EncodeHex(dkey.DiscStateInter, body)

	_, err := Parse(s)
	require.Error(t, err)
}

func TestGetChangesMergesChildOnlyUpdatesIntoUpdated(t *testing.T) {
	store, log := openTestLog(t)
	acct, coll := dkey.AccountId(1), dkey.CollectionMail
	appendEntry(t, store, log, acct, coll, changelog.Entry{Inserted: []dkey.DocumentId{1, 2}})
	appendEntry(t, store, log, acct, coll, changelog.Entry{ChildUpdated: []dkey.DocumentId{1}})

	resp, err := GetChanges(log, acct, coll, Exact(1), 0)
	require.NoError(t, err)
	require.Empty(t, resp.Created)
	require.Equal(t, []dkey.DocumentId{1}, resp.Updated)
	require.Empty(t, resp.Destroyed)
	require.True(t, resp.HasChildrenChanges)
}

func TestGetChangesHasChildrenChangesFalseWhenDirectUpdateAlsoPresent(t *testing.T) {
	store, log := openTestLog(t)
	acct, coll := dkey.AccountId(1), dkey.CollectionMail
	appendEntry(t, store, log, acct, coll, changelog.Entry{Inserted: []dkey.DocumentId{1, 2}})
	appendEntry(t, store, log, acct, coll, changelog.Entry{Updated: []dkey.DocumentId{1}, ChildUpdated: []dkey.DocumentId{2}})

	resp, err := GetChanges(log, acct, coll, Exact(1), 0)
	require.NoError(t, err)
	require.ElementsMatch(t, []dkey.DocumentId{1, 2}, resp.Updated)
	require.False(t, resp.HasChildrenChanges)
}

func TestGetChangesHasChildrenChangesFalseWhenNoChildUpdates(t *testing.T) {
	store, log := openTestLog(t)
	acct, coll := dkey.AccountId(1), dkey.CollectionMail
	appendEntry(t, store, log, acct, coll, changelog.Entry{Inserted: []dkey.DocumentId{1}})
	appendEntry(t, store, log, acct, coll, changelog.Entry{Updated: []dkey.DocumentId{1}})

	resp, err := GetChanges(log, acct, coll, Exact(1), 0)
	require.NoError(t, err)
	require.False(t, resp.HasChildrenChanges)
}
