// Package jmapstate implements the serializable JMAP state cursor
// clients hold between "get changes since" calls, and the GetChanges
// pagination contract built on top of pkg/changelog.
package jmapstate

import (
	"errors"
	"fmt"

	"github.com/cuemby/driftbox/pkg/changelog"
	"github.com/cuemby/driftbox/pkg/dkey"
)

// ErrNotFound is returned by GetChanges when an Exact cursor names a
// change id the log no longer has a record of.
var ErrNotFound = errors.New("jmapstate: state not found")

// Kind discriminates a Cursor's three shapes.
type Kind int

const (
	KindInitial Kind = iota
	KindExact
	KindIntermediate
)

// Cursor is the JMAP state: either the very beginning of the log, an
// exact change id a client has fully caught up to, or a resumable
// position inside a paginated "changes since" window.
type Cursor struct {
	Kind       Kind
	Exact      dkey.ChangeId // KindExact
	From       dkey.ChangeId // KindIntermediate: window start (exclusive)
	To         dkey.ChangeId // KindIntermediate: window end (inclusive)
	ItemsSent  uint64        // KindIntermediate: how many ids already delivered
}

// Initial is the cursor a client with no prior state presents.
var Initial = Cursor{Kind: KindInitial}

// Exact builds an exact-state cursor.
func Exact(id dkey.ChangeId) Cursor { return Cursor{Kind: KindExact, Exact: id} }

// String renders the cursor to its client-facing wire form (§4.7):
// "n" for Initial; "s" + hex(id) for Exact; "r" + hex(LEB128 triple)
// for Intermediate.
func (c Cursor) String() string {
	switch c.Kind {
	case KindInitial:
		return string(dkey.DiscStateInitial)
	case KindExact:
		body := dkey.PutBE64(nil, uint64(c.Exact))
		return dkey.EncodeHex(dkey.DiscStateExact, body)
	case KindIntermediate:
		var body []byte
		body = dkey.PutUvarint(body, uint64(c.From))
		body = dkey.PutUvarint(body, uint64(c.To-c.From))
		body = dkey.PutUvarint(body, c.ItemsSent)
		return dkey.EncodeHex(dkey.DiscStateInter, body)
	default:
		return ""
	}
}

// Parse is the inverse of String. It returns an error for any string
// that isn't exactly one of the three well-formed wire shapes,
// including an Intermediate cursor whose items_sent is zero — §8
// requires items_sent > 0 for Intermediate, so a zero value there is
// rejected as malformed rather than silently accepted.
func Parse(s string) (Cursor, error) {
	if len(s) == 0 {
		return Cursor{}, fmt.Errorf("jmapstate: %w: empty string", dkey.ErrCorrupt)
	}
	disc, body, err := dkey.DecodeHex(s)
	if err != nil {
		return Cursor{}, err
	}
	switch disc {
	case dkey.DiscStateInitial:
		if len(body) != 0 {
			return Cursor{}, dkey.ErrCorrupt
		}
		return Initial, nil
	case dkey.DiscStateExact:
		v, err := dkey.BE64(body)
		if err != nil || len(body) != 8 {
			return Cursor{}, dkey.ErrCorrupt
		}
		return Exact(dkey.ChangeId(v)), nil
	case dkey.DiscStateInter:
		from, n1, err := dkey.Uvarint(body)
		if err != nil {
			return Cursor{}, err
		}
		body = body[n1:]
		span, n2, err := dkey.Uvarint(body)
		if err != nil {
			return Cursor{}, err
		}
		body = body[n2:]
		sent, n3, err := dkey.Uvarint(body)
		if err != nil {
			return Cursor{}, err
		}
		body = body[n3:]
		if len(body) != 0 {
			return Cursor{}, dkey.ErrCorrupt
		}
		if sent == 0 {
			return Cursor{}, fmt.Errorf("jmapstate: %w: items_sent must be > 0", dkey.ErrCorrupt)
		}
		to := from + span
		if to < from {
			return Cursor{}, fmt.Errorf("jmapstate: %w: from+span overflows", dkey.ErrCorrupt)
		}
		return Cursor{Kind: KindIntermediate, From: dkey.ChangeId(from), To: dkey.ChangeId(to), ItemsSent: sent}, nil
	default:
		return Cursor{}, dkey.ErrCorrupt
	}
}

// Response is the payload GetChanges emits for one page of changes.
type Response struct {
	OldState           Cursor
	NewState           Cursor
	Created            []dkey.DocumentId
	Updated            []dkey.DocumentId
	Destroyed          []dkey.DocumentId
	HasMoreChanges     bool
	HasChildrenChanges bool
}

// GetChanges implements the pagination contract of §4.7 against log for
// (acct, coll), given the client's prior cursor and a maximum number of
// ids to return in created+updated+destroyed combined.
func GetChanges(log *changelog.Log, acct dkey.AccountId, coll dkey.Collection, since Cursor, max uint64) (Response, error) {
	switch since.Kind {
	case KindInitial:
		return getChangesFromWindow(log, acct, coll, since, 0, max, 0)
	case KindExact:
		if _, err := requireKnown(log, acct, coll, since.Exact); err != nil {
			return Response{}, err
		}
		return getChangesFromWindow(log, acct, coll, since, since.Exact, max, 0)
	case KindIntermediate:
		recs, err := log.Read(acct, coll, changelog.Query{Kind: changelog.RangeInclusive, From: since.From + 1, To: since.To})
		if err != nil {
			return Response{}, err
		}
		changes := changelog.Replay(recs)
		total := len(changes.Created) + len(changes.Updated) + len(changes.ChildrenChanged) + len(changes.Destroyed)
		if int(since.ItemsSent) >= total {
			// The client has already seen everything in [from, to];
			// advance straight to a Since(to) query for anything newer.
			return getChangesFromWindow(log, acct, coll, Exact(since.To), since.To, max, 0)
		}
		return pageWindow(changes, since, max, since.ItemsSent)
	default:
		return Response{}, fmt.Errorf("jmapstate: %w: unknown cursor kind", dkey.ErrCorrupt)
	}
}

func requireKnown(log *changelog.Log, acct dkey.AccountId, coll dkey.Collection, id dkey.ChangeId) (bool, error) {
	if id == 0 {
		return true, nil // change id 0 predates the log; treat as the origin
	}
	recs, err := log.Read(acct, coll, changelog.Query{Kind: changelog.RangeInclusive, From: id, To: id})
	if err != nil {
		return false, err
	}
	for _, r := range recs {
		if r.ChangeId == id {
			return true, nil
		}
	}
	return false, ErrNotFound
}

func getChangesFromWindow(log *changelog.Log, acct dkey.AccountId, coll dkey.Collection, since Cursor, from dkey.ChangeId, max, alreadySent uint64) (Response, error) {
	recs, err := log.Read(acct, coll, changelog.Query{Kind: changelog.Since, From: from})
	if err != nil {
		return Response{}, err
	}
	if len(recs) == 0 {
		return Response{OldState: since, NewState: since}, nil
	}
	changes := changelog.Replay(recs)
	newTo := recs[len(recs)-1].ChangeId
	windowed := Cursor{Kind: KindIntermediate, From: from, To: newTo, ItemsSent: alreadySent}
	return pageWindow(changes, windowed, max, alreadySent)
}

// pageWindow slices changes (already ordered created-then-updated-then-
// destroyed by changelog.Replay) according to how many items were
// already sent and the max-changes limit, emitting the next
// Intermediate cursor and hasMoreChanges when more remain.
func pageWindow(changes changelog.Changes, window Cursor, max, alreadySent uint64) (Response, error) {
	all := flatten(changes)
	total := uint64(len(all))

	if alreadySent > total {
		alreadySent = total
	}
	remaining := all[alreadySent:]

	limit := remaining
	hasMore := false
	if max > 0 && uint64(len(remaining)) > max {
		limit = remaining[:max]
		hasMore = true
	}

	resp := Response{OldState: Cursor{Kind: KindIntermediate, From: window.From, To: window.To, ItemsSent: alreadySent}}
	for _, it := range limit {
		switch it.bucket {
		case bucketCreated:
			resp.Created = append(resp.Created, it.id)
		case bucketUpdated:
			resp.Updated = append(resp.Updated, it.id)
		case bucketDestroyed:
			resp.Destroyed = append(resp.Destroyed, it.id)
		}
	}
	if len(changes.ChildrenChanged) > 0 && len(changes.Updated) == 0 {
		resp.HasChildrenChanges = true
	}

	sent := alreadySent + uint64(len(limit))
	if hasMore {
		resp.HasMoreChanges = true
		resp.NewState = Cursor{Kind: KindIntermediate, From: window.From, To: window.To, ItemsSent: sent}
	} else {
		resp.NewState = Exact(window.To)
	}
	return resp, nil
}

type bucket int

const (
	bucketCreated bucket = iota
	bucketUpdated
	bucketDestroyed
)

type bucketedId struct {
	id     dkey.DocumentId
	bucket bucket
}

// flatten orders created, then updated (including children-only
// changes, which share the client-visible updated bucket), then
// destroyed ids into one sequence so intermediate pagination has a
// stable, total order to slice through regardless of which bucket a
// page boundary falls in.
func flatten(c changelog.Changes) []bucketedId {
	out := make([]bucketedId, 0, len(c.Created)+len(c.Updated)+len(c.ChildrenChanged)+len(c.Destroyed))
	for _, id := range c.Created {
		out = append(out, bucketedId{id, bucketCreated})
	}
	for _, id := range c.Updated {
		out = append(out, bucketedId{id, bucketUpdated})
	}
	for _, id := range c.ChildrenChanged {
		out = append(out, bucketedId{id, bucketUpdated})
	}
	for _, id := range c.Destroyed {
		out = append(out, bucketedId{id, bucketDestroyed})
	}
	return out
}
