package dkey

// BlobHashSize is the length in bytes of a blob's content hash (SHA-256).
const BlobHashSize = 32

// BlobHash is a content hash identifying an immutable blob payload.
type BlobHash [BlobHashSize]byte

// BlobContentKey addresses the blob's raw bytes: hash(32B) . size(LEB128).
func BlobContentKey(hash BlobHash, size uint64) []byte {
	k := make([]byte, 0, BlobHashSize+binaryMaxVarint)
	k = append(k, hash[:]...)
	k = PutUvarint(k, size)
	return k
}

const binaryMaxVarint = 10

// BlobLinkKey addresses an Owned/Inner-owned reference edge from a blob
// to the document that references it: hash(32B) . size(LEB128) .
// acct(LEB128) . collection(1B) . doc(LEB128) [. subIndex(LEB128)].
// subIndex is only present for inner-owned links (a blob referenced by
// one of several sub-parts of a document, e.g. a multipart attachment).
func BlobLinkKey(hash BlobHash, size uint64, acct AccountId, coll Collection, doc DocumentId, subIndex *uint32) []byte {
	k := BlobContentKey(hash, size)
	k = PutUvarint(k, uint64(acct))
	k = append(k, byte(coll))
	k = PutUvarint(k, uint64(doc))
	if subIndex != nil {
		k = PutUvarint(k, uint64(*subIndex))
	}
	return k
}

// BlobTempKey addresses a temporary, time-bounded upload link that exists
// before any document references the blob: acct(LEB128) . timestamp(BE8)
// . hash(32B).
func BlobTempKey(acct AccountId, timestamp uint64, hash BlobHash) []byte {
	k := make([]byte, 0, binaryMaxVarint+8+BlobHashSize)
	k = PutUvarint(k, uint64(acct))
	k = PutBE64(k, timestamp)
	k = append(k, hash[:]...)
	return k
}

// BlobIdKind discriminates the four wire forms of a client-facing blob id.
type BlobIdKind byte

const (
	BlobKindOwned      = DiscBlobOwned
	BlobKindTemporary  = DiscBlobTemp
	BlobKindInnerOwned = DiscBlobInner
	BlobKindInnerTemp  = DiscBlobInnerTmp
)

// BlobId is the parsed form of a client-facing blob id string.
type BlobId struct {
	Kind       Discriminant
	Hash       BlobHash
	Size       uint64
	Account    AccountId
	Collection Collection
	Document   DocumentId
	SubIndex   uint32
	HasSub     bool
	Timestamp  uint64
}

// String encodes a BlobId to its wire form: the discriminant byte
// followed by LEB128 fields in link-key order, hex encoded.
func (b BlobId) String() string {
	var body []byte
	switch b.Kind {
	case DiscBlobTemp:
		body = PutUvarint(body, uint64(b.Account))
		body = PutBE64(body, b.Timestamp)
		body = append(body, b.Hash[:]...)
	case DiscBlobOwned, DiscBlobInner, DiscBlobInnerTmp:
		body = append(body, b.Hash[:]...)
		body = PutUvarint(body, b.Size)
		body = PutUvarint(body, uint64(b.Account))
		body = append(body, byte(b.Collection))
		body = PutUvarint(body, uint64(b.Document))
		if b.Kind == DiscBlobInner || b.Kind == DiscBlobInnerTmp {
			body = PutUvarint(body, uint64(b.SubIndex))
		}
	}
	return EncodeHex(b.Kind, body)
}

// ParseBlobId is the inverse of String.
func ParseBlobId(s string) (BlobId, error) {
	disc, body, err := DecodeHex(s)
	if err != nil {
		return BlobId{}, err
	}
	switch disc {
	case DiscBlobTemp:
		acct, n, err := Uvarint(body)
		if err != nil {
			return BlobId{}, err
		}
		body = body[n:]
		ts, err := BE64(body)
		if err != nil || len(body) < 8+BlobHashSize {
			return BlobId{}, ErrCorrupt
		}
		var hash BlobHash
		copy(hash[:], body[8:8+BlobHashSize])
		return BlobId{Kind: disc, Account: AccountId(acct), Timestamp: ts, Hash: hash}, nil
	case DiscBlobOwned, DiscBlobInner, DiscBlobInnerTmp:
		if len(body) < BlobHashSize {
			return BlobId{}, ErrCorrupt
		}
		var hash BlobHash
		copy(hash[:], body[:BlobHashSize])
		rest := body[BlobHashSize:]
		size, n, err := Uvarint(rest)
		if err != nil {
			return BlobId{}, err
		}
		rest = rest[n:]
		acct, n, err := Uvarint(rest)
		if err != nil {
			return BlobId{}, err
		}
		rest = rest[n:]
		if len(rest) < 1 {
			return BlobId{}, ErrCorrupt
		}
		coll := Collection(rest[0])
		rest = rest[1:]
		doc, n, err := Uvarint(rest)
		if err != nil {
			return BlobId{}, err
		}
		rest = rest[n:]
		id := BlobId{Kind: disc, Hash: hash, Size: size, Account: AccountId(acct), Collection: coll, Document: DocumentId(doc)}
		if disc == DiscBlobInner || disc == DiscBlobInnerTmp {
			sub, _, err := Uvarint(rest)
			if err != nil {
				return BlobId{}, err
			}
			id.SubIndex = uint32(sub)
			id.HasSub = true
		}
		return id, nil
	default:
		return BlobId{}, ErrCorrupt
	}
}
