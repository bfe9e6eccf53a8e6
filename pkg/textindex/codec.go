package textindex

import (
	"fmt"

	"github.com/cuemby/driftbox/pkg/dkey"
)

// PositionEntry is one term-position record as stored on disk: term-id
// and stemmed-term-id are resolved against the term-id cache before
// encoding, so the blob itself holds only small integers.
type PositionEntry struct {
	TermId        uint64
	StemmedTermId uint64
	Offset        uint32
	Length        uint32
}

// EncodePositions serializes a field's term-position entries into the
// compressed blob pkg/docstore writes once into the Values family.
func EncodePositions(entries []PositionEntry) []byte {
	out := dkey.PutUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		out = dkey.PutUvarint(out, e.TermId)
		out = dkey.PutUvarint(out, e.StemmedTermId)
		out = dkey.PutUvarint(out, uint64(e.Offset))
		out = dkey.PutUvarint(out, uint64(e.Length))
	}
	return out
}

// DecodePositions is the inverse of EncodePositions. It fails with
// dkey.ErrCorrupt on truncated input rather than panicking.
func DecodePositions(raw []byte) ([]PositionEntry, error) {
	n, k, err := dkey.Uvarint(raw)
	if err != nil {
		return nil, err
	}
	raw = raw[k:]
	entries := make([]PositionEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		termId, k1, err := dkey.Uvarint(raw)
		if err != nil {
			return nil, err
		}
		raw = raw[k1:]
		stemId, k2, err := dkey.Uvarint(raw)
		if err != nil {
			return nil, err
		}
		raw = raw[k2:]
		offset, k3, err := dkey.Uvarint(raw)
		if err != nil {
			return nil, err
		}
		raw = raw[k3:]
		length, k4, err := dkey.Uvarint(raw)
		if err != nil {
			return nil, err
		}
		raw = raw[k4:]
		if offset > uint64(^uint32(0)) || length > uint64(^uint32(0)) {
			return nil, fmt.Errorf("textindex: %w: offset/length overflow", dkey.ErrCorrupt)
		}
		entries = append(entries, PositionEntry{
			TermId:        termId,
			StemmedTermId: stemId,
			Offset:        uint32(offset),
			Length:        uint32(length),
		})
	}
	return entries, nil
}
