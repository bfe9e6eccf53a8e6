package kv

import (
	"bytes"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cuemby/driftbox/pkg/dkey"
)

// RangeOp is one of the five comparison operators a range-to-bitmap
// index scan supports.
type RangeOp int

const (
	OpLT RangeOp = iota
	OpLE
	OpEQ
	OpGE
	OpGT
)

// RangeToBitmap scans the Indexes family under prefix (built by
// dkey.IndexPrefix) for keys whose key-bytes portion satisfies
// op against target, returning the document-id suffix of every match as
// a bitmap.
func RangeToBitmap(s Store, prefix []byte, op RangeOp, target []byte) (*roaring.Bitmap, error) {
	out := roaring.New()
	it, err := s.Iterate(FamilyIndexes, prefix, false)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		keyBytes, doc, err := dkey.ParseIndexKey(k, len(prefix))
		if err != nil {
			continue // tolerate foreign-length keys sharing the prefix range
		}
		if matches(keyBytes, target, op) {
			out.Add(uint32(doc))
		} else if op == OpLT || op == OpLE {
			// Keys are lexicographically ordered after the fixed prefix,
			// so once we've passed the boundary for an ascending scan
			// restricted to <, <= we can stop early once a larger
			// key-bytes value is seen — but ties on keyBytes can still
			// have more matching docs, so only break once strictly past.
			if bytes.Compare(keyBytes, target) > 0 {
				break
			}
		}
	}
	return out, nil
}

func matches(keyBytes, target []byte, op RangeOp) bool {
	c := bytes.Compare(keyBytes, target)
	switch op {
	case OpLT:
		return c < 0
	case OpLE:
		return c <= 0
	case OpEQ:
		return c == 0
	case OpGE:
		return c >= 0
	case OpGT:
		return c > 0
	default:
		return false
	}
}
