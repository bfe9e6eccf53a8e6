package bitmap

import "github.com/c2h5oh/datasize"

// ShardLimit is the serialized-size threshold above which a materialized
// bitmap is considered oversized. turbo-geth's ethdb/bitmapdb shards a
// bitmap's on-disk value once it crosses this kind of threshold, because
// its backing LMDB engine copies whole pages on write; bbolt shares that
// copy-on-write cost profile for large values, so pkg/kv logs a warning
// at this threshold instead of silently growing a single value without
// bound (see pkg/kv's merge dispatch).
const ShardLimit = 3 * datasize.KB

// Oversized reports whether a bitmap's serialized form exceeds ShardLimit.
func Oversized(bm interface{ GetSerializedSizeInBytes() uint64 }) bool {
	return bm.GetSerializedSizeInBytes() > uint64(ShardLimit)
}
