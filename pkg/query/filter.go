// Package query implements a filter/sort/paginate pipeline: a boolean
// filter tree evaluated into a roaring bitmap against a collection's
// universe, a chain of sort comparators that hand ties down to the
// next level, and position/anchor pagination.
package query

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
)

// Filter evaluates to the bitmap of matching document ids within coll.
type Filter interface {
	eval(store kv.Store, acct dkey.AccountId, coll dkey.Collection, universe *roaring.Bitmap) (*roaring.Bitmap, error)
}

// And intersects every child filter's result.
type And []Filter

func (f And) eval(store kv.Store, acct dkey.AccountId, coll dkey.Collection, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	if len(f) == 0 {
		return universe.Clone(), nil
	}
	results := make([]*roaring.Bitmap, 0, len(f))
	for _, child := range f {
		r, err := child.eval(store, acct, coll, universe)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
		if r.IsEmpty() {
			break // short-circuit: an empty operand makes the whole AND empty
		}
	}
	return bitmap.Intersect(results...), nil
}

// Or unions every child filter's result.
type Or []Filter

func (f Or) eval(store kv.Store, acct dkey.AccountId, coll dkey.Collection, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	results := make([]*roaring.Bitmap, 0, len(f))
	for _, child := range f {
		r, err := child.eval(store, acct, coll, universe)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return bitmap.Union(results...), nil
}

// Not complements Inner against the universe.
type Not struct{ Inner Filter }

func (f Not) eval(store kv.Store, acct dkey.AccountId, coll dkey.Collection, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	r, err := f.Inner.eval(store, acct, coll, universe)
	if err != nil {
		return nil, err
	}
	return bitmap.Not(universe, r), nil
}

// Term matches documents whose field contains a term hashing to
// termHash, either as an exact or stemmed match.
type Term struct {
	Field    dkey.FieldId
	TermHash uint64
	Stemmed  bool
}

func (f Term) eval(store kv.Store, acct dkey.AccountId, coll dkey.Collection, _ *roaring.Bitmap) (*roaring.Bitmap, error) {
	raw, err := store.Get(kv.FamilyBitmaps, dkey.TermBitmapKey(acct, coll, f.Field, f.TermHash, f.Stemmed))
	if err != nil {
		return nil, err
	}
	return bitmapOrEmpty(raw)
}

// Tag matches documents carrying Tag in Field's tag bitmap.
type Tag struct {
	Field dkey.FieldId
	Tag   []byte
}

func (f Tag) eval(store kv.Store, acct dkey.AccountId, coll dkey.Collection, _ *roaring.Bitmap) (*roaring.Bitmap, error) {
	raw, err := store.Get(kv.FamilyBitmaps, dkey.TagBitmapKey(acct, coll, f.Field, f.Tag))
	if err != nil {
		return nil, err
	}
	return bitmapOrEmpty(raw)
}

// Range matches documents whose Field index value satisfies Op against
// Target, delegating the actual scan to pkg/kv (which already owns the
// Indexes-family scan logic shared with pkg/docstore's sort indexes).
type Range struct {
	Field  dkey.FieldId
	Op     kv.RangeOp
	Target []byte
}

func (f Range) eval(store kv.Store, acct dkey.AccountId, coll dkey.Collection, _ *roaring.Bitmap) (*roaring.Bitmap, error) {
	return kv.RangeToBitmap(store, dkey.IndexPrefix(acct, coll, f.Field), f.Op, f.Target)
}

func bitmapOrEmpty(raw []byte) (*roaring.Bitmap, error) {
	bm, ok, err := bitmap.GetBitmap(raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return roaring.New(), nil
	}
	return bm, nil
}

// Universe returns the collection's live document-id set: used ids
// minus whatever is currently tombstoned and awaiting physical purge,
// since a logically deleted document must never appear in a query
// result even before its purge pass runs.
func Universe(store kv.Store, acct dkey.AccountId, coll dkey.Collection) (*roaring.Bitmap, error) {
	usedRaw, err := store.Get(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapUsedIds))
	if err != nil {
		return nil, err
	}
	tombRaw, err := store.Get(kv.FamilyBitmaps, dkey.CollectionBitmapKey(acct, coll, dkey.BitmapTombstoned))
	if err != nil {
		return nil, err
	}
	used, err := bitmapOrEmpty(usedRaw)
	if err != nil {
		return nil, err
	}
	tomb, err := bitmapOrEmpty(tombRaw)
	if err != nil {
		return nil, err
	}
	return bitmap.Not(used, tomb), nil
}

// Evaluate runs f (or, if f is nil, the bare universe) against coll's
// live document set.
func Evaluate(store kv.Store, acct dkey.AccountId, coll dkey.Collection, f Filter) (*roaring.Bitmap, error) {
	universe, err := Universe(store, acct, coll)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return universe, nil
	}
	return f.eval(store, acct, coll, universe)
}
