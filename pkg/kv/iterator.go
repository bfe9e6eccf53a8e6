package kv

import (
	bolt "go.etcd.io/bbolt"
)

// boltIterator wraps a read-only bbolt transaction and cursor. bbolt
// cursors are only valid for the lifetime of their transaction, so the
// iterator owns a dedicated transaction (begun read-only) and rolls it
// back on Close — the standard bbolt pattern for a cursor that outlives
// a single callback.
type boltIterator struct {
	tx      *bolt.Tx
	cursor  *bolt.Cursor
	reverse bool
	prefix  []byte
	key     []byte
	value   []byte
	valid   bool
}

// Iterate returns a forward or backward Iterator over family, seeded at
// seek (or the family's first/last key when seek is nil). The returned
// Iterator must be Closed.
func (s *BoltStore) Iterate(family Family, seek []byte, reverse bool) (Iterator, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	c := tx.Bucket([]byte(family)).Cursor()
	it := &boltIterator{tx: tx, cursor: c, reverse: reverse, prefix: seek}

	var k, v []byte
	if reverse {
		if seek != nil {
			// Seek lands on the first key >= seek; for a backward scan
			// we want the last key <= seek, so step back once unless we
			// landed exactly on it.
			k, v = c.Seek(seek)
			if k == nil {
				k, v = c.Last()
			} else if string(k) != string(seek) {
				k, v = c.Prev()
			}
		} else {
			k, v = c.Last()
		}
	} else {
		if seek != nil {
			k, v = c.Seek(seek)
		} else {
			k, v = c.First()
		}
	}
	it.set(k, v)
	return it, nil
}

func (it *boltIterator) set(k, v []byte) {
	if k == nil {
		it.valid = false
		return
	}
	it.valid = true
	it.key = append([]byte(nil), k...)
	it.value = append([]byte(nil), v...)
}

func (it *boltIterator) Valid() bool   { return it.valid }
func (it *boltIterator) Key() []byte   { return it.key }
func (it *boltIterator) Value() []byte { return it.value }

func (it *boltIterator) Next() {
	if !it.valid {
		return
	}
	var k, v []byte
	if it.reverse {
		k, v = it.cursor.Prev()
	} else {
		k, v = it.cursor.Next()
	}
	it.set(k, v)
}

func (it *boltIterator) Close() error {
	return it.tx.Rollback()
}
