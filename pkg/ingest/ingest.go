// Package ingest implements recipient-resolution and mailbox delivery
// fan-out for a message parser plugged in only through the interface
// it demands: address expansion to account ids, then one delivered
// document per recipient's Inbox.
package ingest

import (
	"context"
	"fmt"

	"github.com/cuemby/driftbox/pkg/core"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/docstore"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/metrics"
	"github.com/cuemby/driftbox/pkg/orm"
	"github.com/cuemby/driftbox/pkg/principal"
	"github.com/cuemby/driftbox/pkg/schema"
)

// MailParser turns a raw RFC 5322 blob into the fields and blob
// references a Mail document needs. MIME structure and header parsing
// are explicitly out of this core's scope; any concrete parser can be
// plugged in as long as it satisfies this interface.
type MailParser interface {
	Parse(raw []byte) (ParsedMessage, error)
}

// ParsedMessage is the opaque parser's output: everything ingest needs
// to build one Mail document, independent of how many recipients it is
// eventually delivered to.
type ParsedMessage struct {
	Subject    string
	From       string
	To         []string
	ReceivedAt int64
	Body       string
	ThreadId   uint32
	Blobs      []docstore.BlobRef
}

// Delivery is one recipient account's created document, as returned by
// Deliver's fan-out.
type Delivery struct {
	Account  dkey.AccountId
	Document dkey.DocumentId
}

// DeliveryResult summarizes every document one Deliver call created.
type DeliveryResult struct {
	Delivered []Delivery
}

// Deliver resolves every address in to against directoryAcct's
// Principal collection (expanding List membership), and creates one
// Mail document per distinct resolved Individual or Resource account, tagged into
// that account's inbox mailbox: delivering to a list membership of
// {A,B,C} creates exactly three Mail documents, one Insert change-log
// entry each, and one Raft Item entry each.
func Deliver(ctx context.Context, store *core.Store, directoryAcct dkey.AccountId, inbox dkey.DocumentId, raw []byte, parser MailParser, to []string) (DeliveryResult, error) {
	metrics.MessagesIngestedTotal.Inc()
	msg, err := parser.Parse(raw)
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("ingest: parse message: %w", err)
	}

	targets, err := ResolveAll(store, directoryAcct, to)
	if err != nil {
		return DeliveryResult{}, err
	}

	var result DeliveryResult
	for _, acct := range targets {
		doc := buildMailObject(msg, inbox)
		docID, err := store.CreateDocument(ctx, acct, dkey.CollectionMail, doc, msg.Blobs)
		if err != nil {
			return result, fmt.Errorf("ingest: deliver to account %d: %w", acct, err)
		}
		result.Delivered = append(result.Delivered, Delivery{Account: acct, Document: docID})
		metrics.DeliveriesTotal.Inc()
	}
	return result, nil
}

func buildMailObject(msg ParsedMessage, inbox dkey.DocumentId) *orm.Object {
	o := orm.New()
	o.Set(schema.MailSubject, msg.Subject)
	o.Set(schema.MailFrom, msg.From)
	o.Set(schema.MailTo, msg.To)
	o.Set(schema.MailReceivedAt, msg.ReceivedAt)
	o.Set(schema.MailBody, msg.Body)
	o.Set(schema.MailThreadId, int64(msg.ThreadId))
	o.Tags = []orm.Tag{{Field: schema.MailMailboxTag, Value: dkey.PutUvarint(nil, uint64(inbox))}}
	return o
}

// ResolveAll expands every address in addrs to the distinct set of
// Individual and Resource account ids it reaches, classifying each address through
// store's shared recipient cache and recursing through List membership
// by Principal document id (§3: "List members must reference existing
// Principals").
func ResolveAll(store *core.Store, directoryAcct dkey.AccountId, addrs []string) ([]dkey.AccountId, error) {
	seenAccounts := make(map[dkey.AccountId]bool)
	visitedDocs := make(map[dkey.DocumentId]bool)
	var out []dkey.AccountId

	var resolveDoc func(doc dkey.DocumentId) error
	resolveDoc = func(doc dkey.DocumentId) error {
		if visitedDocs[doc] {
			return nil // membership cycle guard
		}
		visitedDocs[doc] = true

		obj, err := loadPrincipal(store.KV(), directoryAcct, doc)
		if err != nil {
			return err
		}
		if obj == nil {
			return nil
		}
		switch principal.Type(asInt64(obj.Properties[schema.PrincipalType])) {
		case principal.Individual, principal.Resource:
			acct := dkey.AccountId(doc)
			if !seenAccounts[acct] {
				seenAccounts[acct] = true
				out = append(out, acct)
			}
		case principal.List, principal.Group:
			members, _ := obj.Properties[schema.PrincipalMembers].([]int64)
			for _, m := range members {
				if err := resolveDoc(dkey.DocumentId(m)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, addr := range addrs {
		t, doc, err := Resolve(store, directoryAcct, addr)
		if err != nil {
			return nil, err
		}
		if t == core.RecipientNone {
			continue
		}
		if err := resolveDoc(doc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Resolve classifies one address through store's shared recipient
// cache. Every call scans directoryAcct's email and alias indexes to
// find the address's Principal document; the cache saves only loading
// and classifying that document on a repeat lookup. The returned
// document id is the address's own Principal document — the caller
// expands List membership from there, rather than Resolve doing it.
func Resolve(store *core.Store, directoryAcct dkey.AccountId, email string) (core.RecipientType, dkey.DocumentId, error) {
	doc, err := findPrincipalByEmail(store.KV(), directoryAcct, email)
	if err != nil {
		return core.RecipientNone, 0, err
	}
	if doc == nil {
		store.RecipientCache().Put(email, core.RecipientNone)
		return core.RecipientNone, 0, nil
	}

	if t, ok := store.RecipientCache().Get(email); ok {
		return t, *doc, nil
	}

	obj, err := loadPrincipal(store.KV(), directoryAcct, *doc)
	if err != nil {
		return core.RecipientNone, 0, err
	}
	var t core.RecipientType
	switch principal.Type(asInt64(obj.Properties[schema.PrincipalType])) {
	case principal.Individual, principal.Resource:
		t = core.RecipientIndividual
	case principal.List, principal.Group:
		t = core.RecipientList
	default:
		t = core.RecipientNone
	}
	store.RecipientCache().Put(email, t)
	return t, *doc, nil
}

// findPrincipalByEmail scans the email and aliases index fields for an
// exact match, returning the first (and, by pkg/principal's uniqueness
// rule, only) document id that carries it.
func findPrincipalByEmail(store kv.Store, acct dkey.AccountId, email string) (*dkey.DocumentId, error) {
	for _, field := range []dkey.FieldId{
		schema.Principal.Defs[schema.PrincipalEmail].Field,
		schema.Principal.Defs[schema.PrincipalAliases].Field,
	} {
		prefix := dkey.IndexPrefix(acct, dkey.CollectionPrincipal, field)
		matches, err := kv.RangeToBitmap(store, prefix, kv.OpEQ, []byte(email))
		if err != nil {
			return nil, err
		}
		if !matches.IsEmpty() {
			id := dkey.DocumentId(matches.Minimum())
			return &id, nil
		}
	}
	return nil, nil
}

func loadPrincipal(store kv.Store, acct dkey.AccountId, doc dkey.DocumentId) (*orm.Object, error) {
	raw, err := store.Get(kv.FamilyValues, dkey.OrmPayloadKey(acct, dkey.CollectionPrincipal, doc))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	obj, err := orm.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("ingest: decode principal %d: %w", doc, err)
	}
	return obj, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
