package bitmap

import (
	"bytes"
	"errors"

	"github.com/RoaringBitmap/roaring/v2"
)

// ErrCorrupt is returned when a stored bitmap value has an unrecognized
// discriminant byte or a truncated roaring payload.
var ErrCorrupt = errors.New("bitmap: data corruption")

// Discriminant is the leading byte of every value stored under a
// Bitmaps-family key.
type Discriminant byte

const (
	DiscBitlist Discriminant = 0x00
	DiscBitmap  Discriminant = 0x01
)

// EncodeBitmap serializes a materialized roaring bitmap with its
// discriminant byte. Returns nil if the bitmap is empty — callers store
// no value at all for an empty set, mirroring the read-side contract
// that an empty bitmap and an absent key are indistinguishable.
func EncodeBitmap(bm *roaring.Bitmap) []byte {
	if bm == nil || bm.IsEmpty() {
		return nil
	}
	buf := bytes.NewBuffer(make([]byte, 0, bm.GetSerializedSizeInBytes()+1))
	buf.WriteByte(byte(DiscBitmap))
	if _, err := bm.WriteTo(buf); err != nil {
		// roaring.Bitmap.WriteTo only fails on writer errors; bytes.Buffer
		// never returns one.
		panic(err)
	}
	return buf.Bytes()
}

// Decode reads a stored bitmap value (of either encoding) into a fresh
// roaring.Bitmap by folding any bitlist deltas found. Equivalent to
// Merge(nil, [][]byte{raw}) but avoids an allocation round trip for the
// common single-value read path.
func Decode(raw []byte) (*roaring.Bitmap, error) {
	if len(raw) == 0 {
		return roaring.New(), nil
	}
	return fold(nil, [][]byte{raw})
}

// GetBitmap decodes raw and returns (bitmap, true) or (nil, false) for an
// absent/empty value.
func GetBitmap(raw []byte) (*roaring.Bitmap, bool, error) {
	if len(raw) == 0 {
		return nil, false, nil
	}
	bm, err := Decode(raw)
	if err != nil {
		return nil, false, err
	}
	if bm.IsEmpty() {
		return nil, false, nil
	}
	return bm, true, nil
}

func decodeOne(raw []byte, into *roaring.Bitmap) error {
	if len(raw) == 0 {
		return nil
	}
	switch Discriminant(raw[0]) {
	case DiscBitmap:
		bm := roaring.New()
		if _, err := bm.ReadFrom(bytes.NewReader(raw[1:])); err != nil {
			return ErrCorrupt
		}
		into.Or(bm)
		return nil
	case DiscBitlist:
		return applyBitlist(raw[1:], into)
	default:
		return ErrCorrupt
	}
}
