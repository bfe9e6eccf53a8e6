// Package blob implements a content-addressed blob store: immutable
// (hash, size) payloads, Owned/Inner-owned reference links that hold a
// blob alive for as long as a document references it, and Temporary/
// Inner-temporary upload links that exist before any document does. A
// blob is eligible for removal once its last link edge is gone.
package blob

import (
	"bytes"
	"crypto/sha256"

	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/metrics"
)

// Store is the blob store over one kv.Store's Blobs family.
type Store struct {
	kv kv.Store
}

func New(store kv.Store) *Store {
	return &Store{kv: store}
}

// Hash computes the content hash driftbox addresses a blob by.
func Hash(data []byte) dkey.BlobHash {
	return dkey.BlobHash(sha256.Sum256(data))
}

// Put stores data under its content hash if not already present,
// returning the (hash, size) address callers link to. Put never
// overwrites an existing value for the same hash — content-addressing
// makes a second write of the same bytes a no-op.
func (s *Store) Put(data []byte) (dkey.BlobHash, uint64, error) {
	hash := Hash(data)
	size := uint64(len(data))
	key := dkey.BlobContentKey(hash, size)
	existing, err := s.kv.Get(kv.FamilyBlobs, key)
	if err != nil {
		return hash, 0, err
	}
	if existing != nil {
		metrics.BlobsPutTotal.Inc()
		metrics.BlobsDedupedTotal.Inc()
		return hash, size, nil
	}
	b := &kv.Batch{}
	b.Put(kv.FamilyBlobs, key, data)
	if err := s.kv.Apply(b); err != nil {
		return hash, 0, err
	}
	metrics.BlobsPutTotal.Inc()
	metrics.BlobBytesStored.Add(float64(size))
	return hash, size, nil
}

// Get returns a blob's content, or ok=false if it has no stored value
// (never written, or already purged).
func (s *Store) Get(hash dkey.BlobHash, size uint64) ([]byte, bool, error) {
	v, err := s.kv.Get(kv.FamilyBlobs, dkey.BlobContentKey(hash, size))
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// LinkOwned adds an Owned (or Inner-owned, when subIndex is non-nil)
// reference edge from (acct, coll, doc) to the blob, keeping it alive
// for the life of that document.
func (s *Store) LinkOwned(hash dkey.BlobHash, size uint64, acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId, subIndex *uint32) error {
	b := &kv.Batch{}
	b.Put(kv.FamilyBlobs, dkey.BlobLinkKey(hash, size, acct, coll, doc, subIndex), nil)
	return s.kv.Apply(b)
}

// LinkTemporary adds a time-bounded upload link for acct, before any
// document references the blob.
func (s *Store) LinkTemporary(acct dkey.AccountId, timestamp uint64, hash dkey.BlobHash) error {
	b := &kv.Batch{}
	b.Put(kv.FamilyBlobs, dkey.BlobTempKey(acct, timestamp, hash), nil)
	return s.kv.Apply(b)
}

// Unlink removes one Owned/Inner-owned link edge and, if no other link
// of any kind still references the blob, removes its content too. It
// is the per-document half of the tombstone purge pass: pkg/tombstone
// calls this once per blob reference a purged document held.
func (s *Store) Unlink(hash dkey.BlobHash, size uint64, acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId, subIndex *uint32) error {
	b := &kv.Batch{}
	b.Delete(kv.FamilyBlobs, dkey.BlobLinkKey(hash, size, acct, coll, doc, subIndex))
	if err := s.kv.Apply(b); err != nil {
		return err
	}
	return s.purgeIfUnreferenced(hash, size)
}

// RefCount counts the owned and inner-owned link edges stored under
// this content's key prefix that still point at (hash, size).
// Temporary links are keyed by account, not by content, and are not
// counted.
func (s *Store) RefCount(hash dkey.BlobHash, size uint64) (int, error) {
	prefix := dkey.BlobContentKey(hash, size)
	it, err := s.kv.Iterate(kv.FamilyBlobs, prefix, false)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	count := 0
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		if len(k) > len(prefix) {
			count++
		}
	}
	return count, nil
}

// purgeIfUnreferenced removes a blob's content once no link edge
// references it. Asynchronous in the sense that callers may batch many
// unlinks before the content is actually gone, but here it runs inline
// — there is no separate GC worker in this core, only the caller's
// choice of when to call Unlink.
func (s *Store) purgeIfUnreferenced(hash dkey.BlobHash, size uint64) error {
	n, err := s.RefCount(hash, size)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	b := &kv.Batch{}
	b.Delete(kv.FamilyBlobs, dkey.BlobContentKey(hash, size))
	if err := s.kv.Apply(b); err != nil {
		return err
	}
	metrics.BlobBytesStored.Sub(float64(size))
	return nil
}

// ExpireTemporary removes every temporary upload link for acct with a
// timestamp strictly before cutoff. Only the link keys are deleted: the
// blob's content stays in place even when an expired link was the last
// one referencing it. Called periodically by a caller-owned ticker —
// this package does not run its own goroutine.
func (s *Store) ExpireTemporary(acct dkey.AccountId, cutoff uint64) error {
	prefix := dkey.PutUvarint(nil, uint64(acct))
	it, err := s.kv.Iterate(kv.FamilyBlobs, prefix, false)
	if err != nil {
		return err
	}
	defer it.Close()

	type expired struct {
		key  []byte
		hash dkey.BlobHash
	}
	var toExpire []expired
	for ; it.Valid(); it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, prefix) {
			break
		}
		ts, hash, ok := parseTempKey(k, len(prefix))
		if !ok {
			continue
		}
		if ts < cutoff {
			toExpire = append(toExpire, expired{key: append([]byte(nil), k...), hash: hash})
		}
	}

	if len(toExpire) == 0 {
		return nil
	}
	b := &kv.Batch{}
	for _, e := range toExpire {
		b.Delete(kv.FamilyBlobs, e.key)
	}
	if err := s.kv.Apply(b); err != nil {
		return err
	}
	return nil
}

// parseTempKey splits a BlobTempKey's suffix (after the acct varint)
// into its timestamp and hash, tolerating any key that doesn't have
// the expected trailing length.
func parseTempKey(k []byte, prefixLen int) (uint64, dkey.BlobHash, bool) {
	body := k[prefixLen:]
	if len(body) != 8+dkey.BlobHashSize {
		return 0, dkey.BlobHash{}, false
	}
	ts, err := dkey.BE64(body[:8])
	if err != nil {
		return 0, dkey.BlobHash{}, false
	}
	var hash dkey.BlobHash
	copy(hash[:], body[8:])
	return ts, hash, true
}
