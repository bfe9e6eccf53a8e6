package query

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cuemby/driftbox/pkg/bitmap"
)

func roaringOf(ids ...uint32) *roaring.Bitmap {
	bm := roaring.New()
	for _, id := range ids {
		bm.Add(id)
	}
	return bm
}

func encodeBitmapForTest(bm *roaring.Bitmap) []byte {
	return bitmap.EncodeBitmap(bm)
}

func toUint32Slice(bm *roaring.Bitmap) []uint32 {
	it := bm.Iterator()
	out := make([]uint32, 0, bm.GetCardinality())
	for it.HasNext() {
		out = append(out, it.Next())
	}
	return out
}
