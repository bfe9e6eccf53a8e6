package raftlog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/driftbox/pkg/changelog"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/log"
	"github.com/cuemby/driftbox/pkg/metrics"
)

// CommandKind discriminates the two entries the FSM applies.
type CommandKind string

const (
	// CommandItem carries a fully-built kv.Batch (the seventh step of
	// pkg/docstore's write pipeline, already holding the changelog
	// append) to be replayed verbatim on every node.
	CommandItem CommandKind = "item"
	// CommandSnapshot carries one or more per-(account,collection)
	// change-log compactions to replay locally.
	CommandSnapshot CommandKind = "snapshot"
)

// ItemCommand replicates one write's batch, plus the envelope metadata
// (which account and collections it touched) the commit-index watch
// and account-ordering lock use without decoding the batch itself.
type ItemCommand struct {
	Account            dkey.AccountId    `json:"account"`
	ChangedCollections []dkey.Collection `json:"changed_collections"`
	Batch              kv.Batch          `json:"batch"`
}

// SnapshotEntry is one (account, collection) compaction to replay.
type SnapshotEntry struct {
	Account    dkey.AccountId  `json:"account"`
	Collection dkey.Collection `json:"collection"`
	UpTo       dkey.ChangeId   `json:"up_to"`
}

// SnapshotCommand groups a round of change-log compactions, spelled
// out as a flat list since each entry needs its own UpTo.
type SnapshotCommand struct {
	Entries []SnapshotEntry `json:"entries"`
}

// Command is the envelope written as one raft.Log's Data.
type Command struct {
	Kind     CommandKind      `json:"kind"`
	Item     *ItemCommand     `json:"item,omitempty"`
	Snapshot *SnapshotCommand `json:"snapshot,omitempty"`
}

// EncodeItem and EncodeSnapshot build the []byte payload for
// raft.Raft.Apply.
func EncodeItem(c ItemCommand) ([]byte, error) {
	return json.Marshal(Command{Kind: CommandItem, Item: &c})
}

func EncodeSnapshot(c SnapshotCommand) ([]byte, error) {
	return json.Marshal(Command{Kind: CommandSnapshot, Snapshot: &c})
}

// FSM applies committed Raft entries to the local kv.Store and tracks
// the highest applied index for read-your-writes waiters.
type FSM struct {
	mu        sync.Mutex
	store     kv.Store
	changelog *changelog.Log

	appliedIndex uint64
	commitCh     chan uint64
}

func NewFSM(store kv.Store) *FSM {
	return &FSM{
		store:     store,
		changelog: changelog.New(store),
		commitCh:  make(chan uint64, 1),
	}
}

var _ raft.FSM = (*FSM)(nil)

// CommitCh returns a channel that receives the latest applied index
// each time Apply commits one: a single-slot "latest value" channel
// where a waiter only cares that the index it is blocked on has been
// reached, not about replaying every intermediate one.
func (f *FSM) CommitCh() <-chan uint64 {
	return f.commitCh
}

// AppliedIndex returns the highest index applied so far.
func (f *FSM) AppliedIndex() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appliedIndex
}

// Apply applies one committed Raft log entry.
func (f *FSM) Apply(l *raft.Log) interface{} {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftApplyDuration)

	var cmd Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("raftlog: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	switch cmd.Kind {
	case CommandItem:
		err = f.applyItem(cmd.Item)
	case CommandSnapshot:
		err = f.applySnapshot(cmd.Snapshot)
	default:
		err = fmt.Errorf("raftlog: unknown command kind %q", cmd.Kind)
	}
	if err != nil {
		log.WithComponent("raftlog").Error().Err(err).Uint64("index", l.Index).Msg("apply failed")
		return err
	}

	f.appliedIndex = l.Index
	metrics.RaftEntriesCommittedTotal.Inc()
	select {
	case f.commitCh <- l.Index:
	default:
		// A prior index is still unread; drop it, the newer one
		// supersedes it for every waiter blocked on "at least N".
		select {
		case <-f.commitCh:
		default:
		}
		f.commitCh <- l.Index
	}
	return nil
}

func (f *FSM) applyItem(c *ItemCommand) error {
	if c == nil {
		return fmt.Errorf("raftlog: item command missing payload")
	}
	batch := c.Batch
	return f.store.Apply(&batch)
}

func (f *FSM) applySnapshot(c *SnapshotCommand) error {
	if c == nil {
		return fmt.Errorf("raftlog: snapshot command missing payload")
	}
	for _, e := range c.Entries {
		if err := f.changelog.Compact(e.Account, e.Collection, e.UpTo); err != nil {
			return fmt.Errorf("raftlog: compact account=%d coll=%d upTo=%d: %w", e.Account, e.Collection, e.UpTo, err)
		}
	}
	return nil
}

// Snapshot satisfies raft.FSM. The authoritative state already lives,
// durably, in the same kv.Store every node replicates through — a new
// follower catches up by replaying the log (or restoring a copy of the
// underlying bbolt file out of band), not through raft's own snapshot
// transfer. This snapshot only carries the applied index, so raft can
// still use it to decide how much log it is safe to truncate.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &fsmSnapshot{appliedIndex: f.appliedIndex}, nil
}

// Restore satisfies raft.FSM. Restoring the applied index alone is
// sufficient here, since Snapshot never serialized anything else.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap struct {
		AppliedIndex uint64 `json:"applied_index"`
	}
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("raftlog: decode snapshot: %w", err)
	}
	f.mu.Lock()
	f.appliedIndex = snap.AppliedIndex
	f.mu.Unlock()
	return nil
}

type fsmSnapshot struct {
	appliedIndex uint64
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := json.NewEncoder(sink).Encode(struct {
		AppliedIndex uint64 `json:"applied_index"`
	}{s.appliedIndex})
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
