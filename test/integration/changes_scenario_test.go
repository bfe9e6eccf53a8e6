// Package integration runs whole-stack traces against a real kv.Store,
// the way an operator or a front-end handler would drive this core,
// rather than exercising one package's internals in isolation.
package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/changelog"
	"github.com/cuemby/driftbox/pkg/core"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/ingest"
	"github.com/cuemby/driftbox/pkg/jmapstate"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/orm"
	"github.com/cuemby/driftbox/pkg/principal"
	"github.com/cuemby/driftbox/pkg/query"
	"github.com/cuemby/driftbox/pkg/schema"
)

func openTestStore(t *testing.T) *core.Store {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.DataDir = t.TempDir()
	s, err := core.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// Eight write batches, each appended as one change-log entry, tracing
// a canonical insert/move/update/delete history: a mailbox gets
// renamed (Move = a delete of the old id paired with an insert of the
// new one), several documents are updated and later reaped, and two
// more get renamed out from under a final delete.
var changeBatches = []changelog.Entry{
	{Inserted: []dkey.DocumentId{0, 1, 2}},
	{Inserted: []dkey.DocumentId{3, 4, 5}, Updated: []dkey.DocumentId{1, 2}, Deleted: []dkey.DocumentId{0}},
	{Deleted: []dkey.DocumentId{1}, Inserted: []dkey.DocumentId{6, 7}, Updated: []dkey.DocumentId{2}},
	{Updated: []dkey.DocumentId{4, 5, 6, 7}},
	{Deleted: []dkey.DocumentId{4, 5, 6, 7}},
	{Inserted: []dkey.DocumentId{8, 9, 10}, Updated: []dkey.DocumentId{3}},
	{Updated: []dkey.DocumentId{2, 8}},
	{Inserted: []dkey.DocumentId{11, 12}, Deleted: []dkey.DocumentId{9, 10, 8}},
}

func appendChangeBatches(t *testing.T, store kv.Store, log *changelog.Log, acct dkey.AccountId, coll dkey.Collection) {
	t.Helper()
	for _, e := range changeBatches {
		changeID, err := log.NextChangeId(acct, coll)
		require.NoError(t, err)
		b := &kv.Batch{}
		changelog.AppendOps(b, acct, coll, changeID, e)
		require.NoError(t, store.Apply(b))
	}
}

// Scenario 1: replaying the trace from Initial must collapse to
// exactly created=[2,3,11,12], updated=[], destroyed=[].
func TestScenarioIncrementalChangesFinalState(t *testing.T) {
	store, err := kv.Open(t.TempDir() + "/changes.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := changelog.New(store)
	acct, coll := dkey.AccountId(1), dkey.CollectionMail

	appendChangeBatches(t, store, log, acct, coll)

	resp, err := jmapstate.GetChanges(log, acct, coll, jmapstate.Initial, 0)
	require.NoError(t, err)
	require.Equal(t, []dkey.DocumentId{2, 3, 11, 12}, resp.Created)
	require.Empty(t, resp.Updated)
	require.Empty(t, resp.Destroyed)
	require.False(t, resp.HasMoreChanges)
}

// Scenario 2: for every page size 1..=8, repeatedly calling GetChanges
// from Initial until hasMoreChanges is false must cover exactly the
// same {created, updated, destroyed} sets scenario 1 computed in one
// shot — pagination changes how many round trips it takes, never what
// the union of pages contains.
func TestScenarioPaginationCoversSameSetAtEveryPageSize(t *testing.T) {
	store, err := kv.Open(t.TempDir() + "/changes.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := changelog.New(store)
	acct, coll := dkey.AccountId(1), dkey.CollectionMail
	appendChangeBatches(t, store, log, acct, coll)

	wantCreated := map[dkey.DocumentId]bool{2: true, 3: true, 11: true, 12: true}

	for maxChanges := uint64(1); maxChanges <= 8; maxChanges++ {
		gotCreated := map[dkey.DocumentId]bool{}
		cursor := jmapstate.Initial
		for i := 0; i < 100; i++ {
			resp, err := jmapstate.GetChanges(log, acct, coll, cursor, maxChanges)
			require.NoError(t, err)
			require.LessOrEqual(t, uint64(len(resp.Created)+len(resp.Updated)+len(resp.Destroyed)), maxChanges)
			for _, id := range resp.Created {
				gotCreated[id] = true
			}
			for _, id := range resp.Updated {
				require.Failf(t, "unexpected update", "id=%d at max=%d", id, maxChanges)
			}
			for _, id := range resp.Destroyed {
				require.Failf(t, "unexpected destroy", "id=%d at max=%d", id, maxChanges)
			}
			cursor = resp.NewState
			if !resp.HasMoreChanges {
				break
			}
		}
		require.Equalf(t, wantCreated, gotCreated, "max=%d", maxChanges)
	}
}

func createIndividual(t *testing.T, s *core.Store, acct dkey.AccountId, email string) dkey.DocumentId {
	t.Helper()
	o := orm.New()
	o.Set(schema.PrincipalType, int64(principal.Individual))
	o.Set(schema.PrincipalName, email)
	o.Set(schema.PrincipalEmail, email)
	o.Set(schema.PrincipalSecret, "secret")
	doc, err := s.CreateDocument(context.Background(), acct, dkey.CollectionPrincipal, o, nil)
	require.NoError(t, err)
	return doc
}

func createList(t *testing.T, s *core.Store, acct dkey.AccountId, email string, members []int64) dkey.DocumentId {
	t.Helper()
	o := orm.New()
	o.Set(schema.PrincipalType, int64(principal.List))
	o.Set(schema.PrincipalName, email)
	o.Set(schema.PrincipalEmail, email)
	o.Set(schema.PrincipalMembers, members)
	doc, err := s.CreateDocument(context.Background(), acct, dkey.CollectionPrincipal, o, nil)
	require.NoError(t, err)
	return doc
}

type stubParser struct{ msg ingest.ParsedMessage }

func (p stubParser) Parse(raw []byte) (ingest.ParsedMessage, error) { return p.msg, nil }

// Scenario 5: delivering to a list membership of {A,B,C} creates
// exactly three Mail documents, one per account, each logged as an
// Insert and each committed as its own replicated entry — the three
// CreateDocument calls inside Deliver's fan-out loop each draw their
// own index from the store's Raft-style commit counter.
func TestScenarioIngestionFanOutToThreeAccounts(t *testing.T) {
	s := openTestStore(t)
	directory := dkey.AccountId(0)

	a := createIndividual(t, s, directory, "a@example.com")
	b := createIndividual(t, s, directory, "b@example.com")
	c := createIndividual(t, s, directory, "c@example.com")
	createList(t, s, directory, "team@example.com", []int64{int64(a), int64(b), int64(c)})

	_, _, beforeApplied, _ := s.RaftStats()

	parser := stubParser{msg: ingest.ParsedMessage{Subject: "hi", From: "x@example.com", To: []string{"team@example.com"}, ReceivedAt: 1}}
	result, err := ingest.Deliver(context.Background(), s, directory, dkey.DocumentId(1), []byte("raw"), parser, []string{"team@example.com"})
	require.NoError(t, err)
	require.Len(t, result.Delivered, 3)

	_, _, afterApplied, _ := s.RaftStats()
	require.Equal(t, beforeApplied+3, afterApplied, "Deliver must commit exactly one Raft entry per recipient")

	for _, d := range result.Delivered {
		resp, err := s.GetChanges(d.Account, dkey.CollectionMail, jmapstate.Initial, 0)
		require.NoError(t, err)
		require.Contains(t, resp.Created, d.Document)
	}
}

func mailboxObject(name string, parentID int64, hasParent bool) *orm.Object {
	o := orm.New()
	o.Set(schema.MailboxName, name)
	if hasParent {
		o.Set(schema.MailboxParentId, parentID)
	}
	return o
}

// Scenario 6: sorting a mailbox result set as a tree must place a
// parent before any of its children that also appear in the result,
// regardless of the order CreateDocument happened to hand out ids.
func TestScenarioMailboxTreeSortsParentsBeforeChildren(t *testing.T) {
	s := openTestStore(t)
	acct := dkey.AccountId(1)
	ctx := context.Background()

	root, err := s.CreateDocument(ctx, acct, dkey.CollectionMailbox, mailboxObject("Inbox", 0, false), nil)
	require.NoError(t, err)
	child, err := s.CreateDocument(ctx, acct, dkey.CollectionMailbox, mailboxObject("Archive", int64(root), true), nil)
	require.NoError(t, err)
	grandchild, err := s.CreateDocument(ctx, acct, dkey.CollectionMailbox, mailboxObject("2026", int64(child), true), nil)
	require.NoError(t, err)

	parentOf := func(id dkey.DocumentId) (dkey.DocumentId, bool) {
		o, err := s.KV().Get(kv.FamilyValues, dkey.OrmPayloadKey(acct, dkey.CollectionMailbox, id))
		require.NoError(t, err)
		obj, err := orm.Decode(o)
		require.NoError(t, err)
		p, ok := obj.Properties[schema.MailboxParentId]
		if !ok {
			return 0, false
		}
		return dkey.DocumentId(p.(int64)), true
	}

	unsorted := []dkey.DocumentId{grandchild, root, child}
	sorted := query.SortAsTree(unsorted, parentOf, 10)

	pos := map[dkey.DocumentId]int{}
	for i, id := range sorted {
		pos[id] = i
	}
	require.Less(t, pos[root], pos[child])
	require.Less(t, pos[child], pos[grandchild])
}
