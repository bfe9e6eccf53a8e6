// Package raftlog layers hashicorp/raft's LogStore and StableStore
// contracts directly over pkg/kv's Logs column family — the Raft log
// is not a second database next to the document store, it is entries
// under the same family's '1' prefix — and applies committed entries
// through an FSM that calls back into pkg/changelog.
package raftlog

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"

	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
)

// LogStore implements raft.LogStore over the Logs family.
type LogStore struct {
	kv kv.Store
}

func NewLogStore(store kv.Store) *LogStore {
	return &LogStore{kv: store}
}

var _ raft.LogStore = (*LogStore)(nil)

func encodeLog(l *raft.Log) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(l); err != nil {
		return nil, fmt.Errorf("raftlog: encode entry: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeLog(raw []byte, l *raft.Log) error {
	dec := codec.NewDecoder(bytes.NewReader(raw), &codec.MsgpackHandle{})
	if err := dec.Decode(l); err != nil {
		return fmt.Errorf("raftlog: %w: decode entry: %v", dkey.ErrCorrupt, err)
	}
	return nil
}

func indexPrefix(index uint64) []byte {
	return append(dkey.RaftLogPrefix(), dkey.PutBE64(nil, index)...)
}

// FirstIndex returns the lowest index still held in the log, or 0 if
// the log is empty.
func (s *LogStore) FirstIndex() (uint64, error) {
	it, err := s.kv.Iterate(kv.FamilyLogs, dkey.RaftLogPrefix(), false)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		if idx, _, ok := dkey.ParseRaftLogKey(it.Key()); ok {
			return uint64(idx), nil
		}
		if !bytes.HasPrefix(it.Key(), dkey.RaftLogPrefix()) {
			break
		}
	}
	return 0, nil
}

// LastIndex returns the highest index still held in the log, or 0 if
// the log is empty.
func (s *LogStore) LastIndex() (uint64, error) {
	upper := []byte{byte(dkey.LogPrefixRaft) + 1}
	it, err := s.kv.Iterate(kv.FamilyLogs, upper, true)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		k := it.Key()
		if len(k) == 0 || dkey.LogPrefix(k[0]) != dkey.LogPrefixRaft {
			break
		}
		if idx, _, ok := dkey.ParseRaftLogKey(k); ok {
			return uint64(idx), nil
		}
	}
	return 0, nil
}

// GetLog looks up the entry at index regardless of the term it was
// stored under — StoreLog always removes a prior entry at the same
// index before writing the new one, so at most one entry can match.
func (s *LogStore) GetLog(index uint64, out *raft.Log) error {
	prefix := indexPrefix(index)
	it, err := s.kv.Iterate(kv.FamilyLogs, prefix, false)
	if err != nil {
		return err
	}
	defer it.Close()

	if !it.Valid() || !bytes.HasPrefix(it.Key(), prefix) {
		return raft.ErrLogNotFound
	}
	return decodeLog(it.Value(), out)
}

// StoreLog stores a single log entry.
func (s *LogStore) StoreLog(l *raft.Log) error {
	return s.StoreLogs([]*raft.Log{l})
}

// StoreLogs stores a batch of log entries atomically, clearing any
// stale entry already present at each index (a term conflict after a
// leadership change) before writing the new one.
func (s *LogStore) StoreLogs(logs []*raft.Log) error {
	b := &kv.Batch{}
	for _, l := range logs {
		if err := s.clearIndex(b, l.Index); err != nil {
			return err
		}
		data, err := encodeLog(l)
		if err != nil {
			return err
		}
		b.Put(kv.FamilyLogs, dkey.RaftLogKey(dkey.LogIndex(l.Index), dkey.TermId(l.Term)), data)
	}
	return s.kv.Apply(b)
}

func (s *LogStore) clearIndex(b *kv.Batch, index uint64) error {
	prefix := indexPrefix(index)
	it, err := s.kv.Iterate(kv.FamilyLogs, prefix, false)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid() && bytes.HasPrefix(it.Key(), prefix); it.Next() {
		b.Delete(kv.FamilyLogs, append([]byte(nil), it.Key()...))
	}
	return nil
}

// DeleteRange removes every entry with an index in [min, max].
func (s *LogStore) DeleteRange(min, max uint64) error {
	it, err := s.kv.Iterate(kv.FamilyLogs, dkey.RaftLogPrefix(), false)
	if err != nil {
		return err
	}
	defer it.Close()

	b := &kv.Batch{}
	for ; it.Valid(); it.Next() {
		idx, _, ok := dkey.ParseRaftLogKey(it.Key())
		if !ok {
			if !bytes.HasPrefix(it.Key(), dkey.RaftLogPrefix()) {
				break
			}
			continue
		}
		if uint64(idx) > max {
			break
		}
		if uint64(idx) >= min {
			b.Delete(kv.FamilyLogs, append([]byte(nil), it.Key()...))
		}
	}
	if len(b.Ops) == 0 {
		return nil
	}
	return s.kv.Apply(b)
}

// StableStore implements raft.StableStore over the Logs family,
// using the reserved 0xFF marker prefix so its entries never collide
// with log-index keys during the scans above.
type StableStore struct {
	kv kv.Store
}

func NewStableStore(store kv.Store) *StableStore {
	return &StableStore{kv: store}
}

var _ raft.StableStore = (*StableStore)(nil)

func (s *StableStore) Set(key, val []byte) error {
	b := &kv.Batch{}
	b.Put(kv.FamilyLogs, dkey.RaftStableKey(key), val)
	return s.kv.Apply(b)
}

func (s *StableStore) Get(key []byte) ([]byte, error) {
	v, err := s.kv.Get(kv.FamilyLogs, dkey.RaftStableKey(key))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v, nil
}

func (s *StableStore) SetUint64(key []byte, val uint64) error {
	return s.Set(key, dkey.PutBE64(nil, val))
}

func (s *StableStore) GetUint64(key []byte) (uint64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return dkey.BE64(v)
}
