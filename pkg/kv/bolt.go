package kv

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/driftbox/pkg/bitmap"
	"github.com/cuemby/driftbox/pkg/log"
	"github.com/cuemby/driftbox/pkg/metrics"
)

// BoltStore implements Store on top of go.etcd.io/bbolt: one bucket per
// column family instead of one bucket per entity type, plus a merge
// dispatch bbolt has no native equivalent for.
type BoltStore struct {
	db *bolt.DB
}

// Open creates (or opens) a BoltStore at path, creating all five column
// family buckets if absent.
func Open(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, f := range Families {
			if _, err := tx.CreateBucketIfNotExists([]byte(f)); err != nil {
				return fmt.Errorf("kv: create bucket %s: %w", f, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(family Family, key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(family)).Get(key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) MultiGet(family Family, keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(family))
		for i, k := range keys {
			if v := b.Get(k); v != nil {
				out[i] = append([]byte(nil), v...)
			}
		}
		return nil
	})
	return out, err
}

// Apply commits every operation in batch within a single bbolt
// read-write transaction, so all deltas land atomically or not at all.
func (s *BoltStore) Apply(batch *Batch) error {
	clog := log.WithComponent("kv")
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, op := range batch.Ops {
			b := tx.Bucket([]byte(op.Family))
			if b == nil {
				return fmt.Errorf("kv: unknown family %s", op.Family)
			}
			switch op.Kind {
			case OpPut:
				if err := b.Put(op.Key, op.Value); err != nil {
					return err
				}
			case OpDelete:
				if err := b.Delete(op.Key); err != nil {
					return err
				}
			case OpMerge:
				if op.Family != FamilyBitmaps {
					return fmt.Errorf("kv: merge only supported on %s, got %s", FamilyBitmaps, op.Family)
				}
				existing := b.Get(op.Key)
				merged := bitmap.Merge(existing, [][]byte{op.Value})
				metrics.BitmapMergesTotal.WithLabelValues(string(op.Family)).Inc()
				if bm, err := bitmap.Decode(merged); err == nil && bitmap.Oversized(bm) {
					clog.Warn().Str("key", fmt.Sprintf("%x", op.Key)).Msg("bitmap exceeds shard limit")
				}
				if err := b.Put(op.Key, merged); err != nil {
					return err
				}
			default:
				return fmt.Errorf("kv: unknown op kind %d", op.Kind)
			}
		}
		return nil
	})
}

func decodeBitmapOrEmpty(raw []byte) (*roaring.Bitmap, error) {
	if len(raw) == 0 {
		return roaring.New(), nil
	}
	return bitmap.Decode(raw)
}
