package bitmap

import "github.com/RoaringBitmap/roaring/v2"

// Merge is the merge-operator function plugged into the KV engine's
// merge dispatch (pkg/kv) for the Bitmaps family: it is invoked with the
// key's existing value and the pending operand values, in append order,
// and must return the new materialized value.
//
// existing may itself be a bitlist (nothing has compacted it yet) or a
// bitmap, or nil (key absent). operands are always bitlists — callers
// never merge a bitmap operand, they only ever append deltas — but
// Merge tolerates a bitmap operand too so compaction can be expressed as
// a merge of an empty existing value against one full bitmap.
func Merge(existing []byte, operands [][]byte) []byte {
	all := make([][]byte, 0, len(operands)+1)
	if len(existing) > 0 {
		all = append(all, existing)
	}
	all = append(all, operands...)
	bm, err := fold(nil, all)
	if err != nil {
		// A corrupt existing value is a data-corruption bug the caller
		// should have caught on read; merging must not lose writes, so
		// fall back to folding only the operands.
		bm, err = fold(nil, operands)
		if err != nil {
			return existing
		}
	}
	return EncodeBitmap(bm)
}

// fold decodes raw values (bitlists and/or at most one bitmap) in order
// into a single roaring.Bitmap.
func fold(into *roaring.Bitmap, raws [][]byte) (*roaring.Bitmap, error) {
	if into == nil {
		into = roaring.New()
	}
	for _, raw := range raws {
		if err := decodeOne(raw, into); err != nil {
			return nil, err
		}
	}
	return into, nil
}
