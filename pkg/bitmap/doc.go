/*
Package bitmap implements driftbox's document-set engine: roaring-backed
bitmaps of DocumentId with a mergeable, append-friendly delta encoding on
top, grounded on the sharded roaring-bitmap writer in turbo-geth's
ethdb/bitmapdb (AppendMergeByOr) and exercised through
github.com/RoaringBitmap/roaring/v2.

Two on-disk encodings share one discriminant byte:

	0x00  bitlist  — an append-only log of (set|clear, doc-id) runs.
	                  Writers never read before writing: they append a
	                  delta here instead of touching the materialized
	                  bitmap.
	0x01  bitmap   — a serialized roaring.Bitmap.

A concurrent write pattern only ever appends bitlist deltas; Merge folds
any mix of bitlists (in append order) and at most one bitmap into a
single materialized bitmap. This mirrors a storage engine's merge
operator: invoked with (existing, operands) it must be associative enough
that replaying deltas sequentially and merging them all at once produce
the same final bitmap.
*/
package bitmap
