package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/driftbox/pkg/core"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/orm"
	"github.com/cuemby/driftbox/pkg/principal"
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

type stubParser struct{ msg ParsedMessage }

func (p stubParser) Parse(raw []byte) (ParsedMessage, error) { return p.msg, nil }

func TestResolveIndividualFindsOwnAccount(t *testing.T) {
	s := openTestStore(t)
	directory := dkey.AccountId(0)
	doc := createIndividual(t, s, directory, "solo@example.com")

	typ, found, err := Resolve(s, directory, "solo@example.com")
	require.NoError(t, err)
	require.Equal(t, core.RecipientIndividual, typ)
	require.Equal(t, doc, found)
}

func TestResolveUnknownAddressIsNone(t *testing.T) {
	s := openTestStore(t)
	typ, _, err := Resolve(s, dkey.AccountId(0), "nobody@example.com")
	require.NoError(t, err)
	require.Equal(t, core.RecipientNone, typ)
}

func TestDeliverFansOutToListMembership(t *testing.T) {
	s := openTestStore(t)
	directory := dkey.AccountId(0)

	a := createIndividual(t, s, directory, "a@example.com")
	b := createIndividual(t, s, directory, "b@example.com")
	c := createIndividual(t, s, directory, "c@example.com")
	createList(t, s, directory, "team@example.com", []int64{int64(a), int64(b), int64(c)})

	parser := stubParser{msg: ParsedMessage{Subject: "hi", From: "x@example.com", To: []string{"team@example.com"}, ReceivedAt: 1}}

	result, err := Deliver(context.Background(), s, directory, dkey.DocumentId(1), []byte("raw"), parser, []string{"team@example.com"})
	require.NoError(t, err)
	require.Len(t, result.Delivered, 3)

	accounts := map[dkey.AccountId]bool{}
	for _, d := range result.Delivered {
		accounts[d.Account] = true
	}
	require.True(t, accounts[dkey.AccountId(a)])
	require.True(t, accounts[dkey.AccountId(b)])
	require.True(t, accounts[dkey.AccountId(c)])

	for _, d := range result.Delivered {
		loaded, err := s.KV().Get(kv.FamilyValues, dkey.OrmPayloadKey(d.Account, dkey.CollectionMail, d.Document))
		require.NoError(t, err)
		require.NotNil(t, loaded)
	}
}
