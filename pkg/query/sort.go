package query

import (
	"bytes"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
)

// Comparator orders a set of candidate document ids, returning them
// grouped into ties: ids in the same inner slice compare equal under
// this comparator and are handed to the next one in the chain.
type Comparator interface {
	order(store kv.Store, acct dkey.AccountId, coll dkey.Collection, candidates *roaring.Bitmap) ([][]dkey.DocumentId, error)
}

// Field streams the Indexes family in Field's key order, forward for
// ascending or backward for descending. Consecutive documents sharing
// identical index bytes tie and are grouped together.
type Field struct {
	Field     dkey.FieldId
	Ascending bool
}

func (c Field) order(store kv.Store, acct dkey.AccountId, coll dkey.Collection, candidates *roaring.Bitmap) ([][]dkey.DocumentId, error) {
	prefix := dkey.IndexPrefix(acct, coll, c.Field)
	seek := prefix
	if !c.Ascending {
		// A backward scan starts at the last key <= seek, so seek just
		// past the prefix's key range to begin at its largest key.
		seek = append([]byte(nil), prefix...)
		for i := len(seek) - 1; i >= 0; i-- {
			seek[i]++
			if seek[i] != 0 {
				break
			}
		}
	}
	it, err := store.Iterate(kv.FamilyIndexes, seek, !c.Ascending)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var groups [][]dkey.DocumentId
	var curKey []byte
	var curGroup []dkey.DocumentId
	flush := func() {
		if len(curGroup) > 0 {
			groups = append(groups, curGroup)
			curGroup = nil
		}
	}
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, prefix) {
			if c.Ascending {
				break
			}
			continue
		}
		keyBytes, doc, err := dkey.ParseIndexKey(k, len(prefix))
		if err != nil {
			continue
		}
		if !candidates.Contains(uint32(doc)) {
			continue
		}
		if curKey == nil || !bytes.Equal(curKey, keyBytes) {
			flush()
			curKey = append([]byte(nil), keyBytes...)
		}
		curGroup = append(curGroup, doc)
	}
	flush()
	return groups, nil
}

// DocumentSet orders candidates by membership in Set: members first
// when ascending, non-members first when descending (the descending
// case is the document-id stream XOR'd against Set). Each bucket is
// itself ordered ascending by document id.
type DocumentSet struct {
	Set       *roaring.Bitmap
	Ascending bool
}

func (c DocumentSet) order(_ kv.Store, _ dkey.AccountId, _ dkey.Collection, candidates *roaring.Bitmap) ([][]dkey.DocumentId, error) {
	members := roaring.And(candidates, c.Set)
	nonMembers := roaring.AndNot(candidates, c.Set)

	memberGroup := toSorted(members)
	nonMemberGroup := toSorted(nonMembers)

	var groups [][]dkey.DocumentId
	if c.Ascending {
		if len(memberGroup) > 0 {
			groups = append(groups, memberGroup)
		}
		if len(nonMemberGroup) > 0 {
			groups = append(groups, nonMemberGroup)
		}
	} else {
		if len(nonMemberGroup) > 0 {
			groups = append(groups, nonMemberGroup)
		}
		if len(memberGroup) > 0 {
			groups = append(groups, memberGroup)
		}
	}
	return groups, nil
}

// None preserves the filter's natural (ascending document-id) order,
// as one tie group handed to the next comparator in the chain.
type None struct{}

func (c None) order(_ kv.Store, _ dkey.AccountId, _ dkey.Collection, candidates *roaring.Bitmap) ([][]dkey.DocumentId, error) {
	return [][]dkey.DocumentId{toSorted(candidates)}, nil
}

func toSorted(bm *roaring.Bitmap) []dkey.DocumentId {
	if bm == nil || bm.IsEmpty() {
		return nil
	}
	it := bm.Iterator()
	out := make([]dkey.DocumentId, 0, bm.GetCardinality())
	for it.HasNext() {
		out = append(out, dkey.DocumentId(it.Next()))
	}
	return out
}

// Sort resolves candidates into a single total order by running each
// comparator in turn: a comparator only re-orders within the tie
// groups the previous comparator produced, and the final comparator's
// (or, absent one, ascending document-id) order resolves whatever
// remains tied.
func Sort(store kv.Store, acct dkey.AccountId, coll dkey.Collection, candidates *roaring.Bitmap, comparators []Comparator) ([]dkey.DocumentId, error) {
	groups := [][]dkey.DocumentId{toSorted(candidates)}
	for _, c := range comparators {
		var next [][]dkey.DocumentId
		for _, g := range groups {
			if len(g) == 0 {
				continue
			}
			if len(g) == 1 {
				next = append(next, g)
				continue
			}
			sub := roaring.New()
			for _, id := range g {
				sub.Add(uint32(id))
			}
			ordered, err := c.order(store, acct, coll, sub)
			if err != nil {
				return nil, err
			}
			next = append(next, ordered...)
		}
		groups = next
	}

	total := 0
	for _, g := range groups {
		total += len(g)
	}
	out := make([]dkey.DocumentId, 0, total)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out, nil
}
