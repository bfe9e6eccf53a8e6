package dkey

import "encoding/hex"

// Discriminant is the single leading byte of every hex-serialized wire
// id driftbox hands to clients: JMAPId, state cursor, and blob id all
// share this one-byte-prefix-then-hex convention.
type Discriminant byte

const (
	DiscID           Discriminant = 'i' // JMAPId
	DiscStateExact   Discriminant = 's' // exact state cursor
	DiscStateInter   Discriminant = 'r' // intermediate state cursor
	DiscStateInitial Discriminant = 'n' // initial state cursor
	DiscBlobOwned    Discriminant = 'o' // owned blob id
	DiscBlobTemp     Discriminant = 't' // temporary blob id
	DiscBlobInner    Discriminant = 'p' // inner-owned blob id
	DiscBlobInnerTmp Discriminant = 'q' // inner-temporary blob id
)

// EncodeHex lowercase-hex-encodes body prefixed by disc, the format every
// wire id in this system shares.
func EncodeHex(disc Discriminant, body []byte) string {
	out := make([]byte, 1+hex.EncodedLen(len(body)))
	out[0] = byte(disc)
	hex.Encode(out[1:], body)
	return string(out)
}

// DecodeHex splits a wire id string into its discriminant and decoded
// body. It never panics; malformed hex yields ErrCorrupt.
func DecodeHex(s string) (Discriminant, []byte, error) {
	if len(s) < 1 {
		return 0, nil, ErrCorrupt
	}
	body, err := hex.DecodeString(s[1:])
	if err != nil {
		return 0, nil, ErrCorrupt
	}
	return Discriminant(s[0]), body, nil
}

// JMAPId is 64 bits: a 32-bit prefix (ThreadId for Mail, 0 for every
// other collection) over a 32-bit DocumentId.
type JMAPId uint64

// NewJMAPId packs a prefix and document id into one JMAPId.
func NewJMAPId(prefix uint32, doc DocumentId) JMAPId {
	return JMAPId(uint64(prefix)<<32 | uint64(doc))
}

// Prefix returns the high 32 bits (ThreadId, or 0 outside Mail).
func (id JMAPId) Prefix() uint32 { return uint32(id >> 32) }

// Document returns the low 32 bits.
func (id JMAPId) Document() DocumentId { return DocumentId(uint32(id)) }

// String renders the JMAPId in its client-facing wire form: 'i' followed
// by the lowercase hex of its 8 big-endian bytes.
func (id JMAPId) String() string {
	body := PutBE64(nil, uint64(id))
	return EncodeHex(DiscID, body)
}

// ParseJMAPId is the inverse of String.
func ParseJMAPId(s string) (JMAPId, error) {
	disc, body, err := DecodeHex(s)
	if err != nil {
		return 0, err
	}
	if disc != DiscID {
		return 0, ErrCorrupt
	}
	v, err := BE64(body)
	if err != nil {
		return 0, err
	}
	return JMAPId(v), nil
}
