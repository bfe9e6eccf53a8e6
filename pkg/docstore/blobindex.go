package docstore

import "github.com/cuemby/driftbox/pkg/dkey"

// blobIndexField is the reserved field a document's blob reference
// index is stored under (dkey.SubBlobIdx), mirroring how the whole ORM
// payload lives under its own reserved field rather than a real
// schema property id.
const blobIndexField dkey.FieldId = 0xFE

// BlobIndexKey addresses the serialized list of blobs one document
// links, the record pkg/tombstone reads during a purge pass to know
// which blob links to drop and which refcounts to decrement.
func BlobIndexKey(acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId) []byte {
	return dkey.ValueKey(acct, coll, doc, blobIndexField, dkey.SubBlobIdx)
}

// EncodeBlobRefs serializes refs as a flat count-prefixed list of
// (hash, size, hasSub, subIndex) tuples.
func EncodeBlobRefs(refs []BlobRef) []byte {
	out := dkey.PutUvarint(nil, uint64(len(refs)))
	for _, r := range refs {
		out = append(out, r.Hash[:]...)
		out = dkey.PutUvarint(out, r.Size)
		if r.SubIndex != nil {
			out = append(out, 1)
			out = dkey.PutUvarint(out, uint64(*r.SubIndex))
		} else {
			out = append(out, 0)
		}
	}
	return out
}

// DecodeBlobRefs is the inverse of EncodeBlobRefs. A truncated or
// malformed payload surfaces dkey.ErrCorrupt.
func DecodeBlobRefs(raw []byte) ([]BlobRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	count, n, err := dkey.Uvarint(raw)
	if err != nil {
		return nil, err
	}
	raw = raw[n:]
	refs := make([]BlobRef, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(raw) < dkey.BlobHashSize {
			return nil, dkey.ErrCorrupt
		}
		var hash dkey.BlobHash
		copy(hash[:], raw[:dkey.BlobHashSize])
		raw = raw[dkey.BlobHashSize:]
		size, n, err := dkey.Uvarint(raw)
		if err != nil {
			return nil, err
		}
		raw = raw[n:]
		if len(raw) < 1 {
			return nil, dkey.ErrCorrupt
		}
		hasSub := raw[0] == 1
		raw = raw[1:]
		ref := BlobRef{Hash: hash, Size: size}
		if hasSub {
			sub, n, err := dkey.Uvarint(raw)
			if err != nil {
				return nil, err
			}
			raw = raw[n:]
			v := uint32(sub)
			ref.SubIndex = &v
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
