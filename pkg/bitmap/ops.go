package bitmap

import "github.com/RoaringBitmap/roaring/v2"

// Intersect ANDs every bitmap together, short-circuiting to an empty
// result as soon as any input is empty.
func Intersect(bitmaps ...*roaring.Bitmap) *roaring.Bitmap {
	if len(bitmaps) == 0 {
		return roaring.New()
	}
	out := bitmaps[0].Clone()
	for _, bm := range bitmaps[1:] {
		if out.IsEmpty() {
			return out
		}
		if bm == nil || bm.IsEmpty() {
			return roaring.New()
		}
		out.And(bm)
	}
	return out
}

// Union ORs every bitmap together.
func Union(bitmaps ...*roaring.Bitmap) *roaring.Bitmap {
	out := roaring.New()
	for _, bm := range bitmaps {
		if bm != nil {
			out.Or(bm)
		}
	}
	return out
}

// Not computes universe \ bm, used for descending DocumentSet comparators.
func Not(universe, bm *roaring.Bitmap) *roaring.Bitmap {
	out := universe.Clone()
	if bm != nil {
		out.AndNot(bm)
	}
	return out
}
