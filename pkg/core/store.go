package core

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"

	"github.com/cuemby/driftbox/pkg/blob"
	"github.com/cuemby/driftbox/pkg/changelog"
	"github.com/cuemby/driftbox/pkg/dkey"
	"github.com/cuemby/driftbox/pkg/docstore"
	"github.com/cuemby/driftbox/pkg/kv"
	"github.com/cuemby/driftbox/pkg/orm"
	"github.com/cuemby/driftbox/pkg/principal"
	"github.com/cuemby/driftbox/pkg/query"
	"github.com/cuemby/driftbox/pkg/raftlog"
	"github.com/cuemby/driftbox/pkg/schema"
	"github.com/cuemby/driftbox/pkg/textindex"
)

// Store is the top-level object every front-end surface (JMAP/IMAP/
// LMTP handlers, the CLI) calls through: it owns the kv.Store, the
// Raft FSM, the three shared caches, and the per-(account,collection)
// named lock — one object owning storage, replication, and caches,
// and exposing request methods over them.
type Store struct {
	cfg Config
	kv  kv.Store

	changelog *changelog.Log
	blobs     *blob.Store

	fsm         *raftlog.FSM
	raftLog     *raftlog.LogStore
	raftStable  *raftlog.StableStore
	raftHandle  *raft.Raft
	standaloneIdx uint64 // atomic index counter used only when raftHandle is nil

	locks      *acctLocks
	ormCache   *ormCache
	termCache  *termIdCache
	recipients *recipientCache
	worker     *Worker
}

// Open creates (or opens) a Store backed by a bbolt file under
// cfg.DataDir, without joining or bootstrapping any Raft cluster — a
// standalone Store still assigns monotonically increasing Raft-style
// indices via an in-process atomic counter, committing each write
// without requiring a multi-node cluster.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("core: create data dir: %w", err)
	}
	store, err := kv.Open(cfg.DataDir + "/driftbox.db")
	if err != nil {
		return nil, fmt.Errorf("core: open store: %w", err)
	}
	return &Store{
		cfg:        cfg,
		kv:         store,
		changelog:  changelog.New(store),
		blobs:      blob.New(store),
		fsm:        raftlog.NewFSM(store),
		raftLog:    raftlog.NewLogStore(store),
		raftStable: raftlog.NewStableStore(store),
		locks:      newAcctLocks(),
		ormCache:   newORMCache(),
		termCache:  newTermIdCache(),
		recipients: newRecipientCache(),
		worker:     NewWorker(cfg.WorkerPoolSize),
	}, nil
}

// KV exposes the underlying kv.Store for packages (pkg/tombstone,
// pkg/ingest, pkg/query) that take a kv.Store directly rather than a
// *Store, so they stay decoupled from pkg/core's own dependency graph.
func (s *Store) KV() kv.Store { return s.kv }

// Changelog exposes the per-(account,collection) change log for
// pkg/jmapstate-facing callers.
func (s *Store) Changelog() *changelog.Log { return s.changelog }

// Blobs exposes the blob store for pkg/tombstone's purge pass and any
// front-end surface serving/uploading blob content directly.
func (s *Store) Blobs() *blob.Store { return s.blobs }

// Locks exposes the named-lock map so pkg/tombstone and pkg/ingest can
// serialize their own multi-step operations under the same
// (account,collection) domain a document write would use.
func (s *Store) Locks() interface {
	WithLock(acct dkey.AccountId, coll dkey.Collection, fn func() error) error
} {
	return s.locks
}

// InvalidateRecipient drops a cached email->RecipientType entry,
// called by pkg/principal whenever a Principal document's email or
// membership changes.
func (s *Store) InvalidateRecipient(email string) { s.recipients.invalidate(email) }

// RecipientCache exposes the shared cache pkg/ingest resolves
// addresses through.
func (s *Store) RecipientCache() interface {
	Get(email string) (RecipientType, bool)
	Put(email string, t RecipientType)
} {
	return recipientCacheAdapter{s.recipients}
}

type recipientCacheAdapter struct{ c *recipientCache }

func (a recipientCacheAdapter) Get(email string) (RecipientType, bool) { return a.c.get(email) }
func (a recipientCacheAdapter) Put(email string, t RecipientType)      { a.c.put(email, t) }

// Bootstrap wires a single-node Raft cluster over this Store's kv.Store
// (logStore/stableStore from pkg/raftlog, not a second bbolt file): a
// TCP transport, file snapshot store, raft.NewRaft, and BootstrapCluster
// sequence, with raft-boltdb's two separate database files replaced by
// pkg/raftlog's view over the Logs column family already inside s.kv.
func (s *Store) Bootstrap() error {
	if s.cfg.NodeID == "" || s.cfg.BindAddr == "" {
		return fmt.Errorf("core: Bootstrap requires NodeID and BindAddr")
	}
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(s.cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("core: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(s.cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("core: create transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(s.cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("core: create snapshot store: %w", err)
	}

	r, err := raft.NewRaft(config, s.fsm, s.raftLog, s.raftStable, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("core: create raft: %w", err)
	}

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("core: bootstrap cluster: %w", err)
	}
	s.raftHandle = r
	return nil
}

// CommitCh exposes the FSM's single-slot latest-applied-index channel,
// a read-your-writes wait point for callers that need to block until a
// given index has been locally applied.
func (s *Store) CommitCh() <-chan uint64 { return s.fsm.CommitCh() }

// RaftStats reports this node's replication position for pkg/metrics'
// collector: whether it holds leadership, the last index stored in the
// log and the last index the FSM has applied, and the current voter
// count. A Store that never called Bootstrap reports isLeader=true
// (the standalone atomic counter stands in for a single-node cluster)
// with peers=1 and lastIndex==appliedIndex.
func (s *Store) RaftStats() (isLeader bool, lastIndex, appliedIndex uint64, peers int) {
	if s.raftHandle == nil {
		idx := atomic.LoadUint64(&s.standaloneIdx)
		return true, idx, idx, 1
	}
	last, _ := s.raftLog.LastIndex()
	applied := s.fsm.AppliedIndex()
	isLeader = s.raftHandle.State() == raft.Leader
	cfgFuture := s.raftHandle.GetConfiguration()
	if err := cfgFuture.Error(); err == nil {
		peers = len(cfgFuture.Configuration().Servers)
	}
	return isLeader, last, applied, peers
}

// Close shuts down the worker pool and the backing kv.Store. Raft (if
// bootstrapped) is left running — callers that bootstrap are expected
// to call raft.Shutdown() themselves before Close, mirroring the
// teacher's explicit ordering in its own shutdown path.
func (s *Store) Close() error {
	s.worker.Shutdown()
	return s.kv.Close()
}

// applyBatch commits batch through the Raft log: via a real
// raft.Raft.Apply when bootstrapped/joined, or — in standalone mode —
// by assigning the next index from an in-process atomic counter and
// calling the FSM directly, which is exactly what a single-node
// raft.Raft would do for its own leader-local apply. Either path ends
// with batch durably applied to s.kv and the commit-index channel
// notified.
func (s *Store) applyBatch(acct dkey.AccountId, changedCollections []dkey.Collection, batch *kv.Batch) error {
	cmd := raftlog.ItemCommand{Account: acct, ChangedCollections: changedCollections, Batch: *batch}
	data, err := raftlog.EncodeItem(cmd)
	if err != nil {
		return err
	}
	return s.applyRaw(data)
}

// applyRaw commits an already-encoded raftlog.Command payload (an item
// write or a snapshot compaction) through the same leader-local-or-real
// Raft dispatch applyBatch uses.
func (s *Store) applyRaw(data []byte) error {
	if s.raftHandle != nil {
		future := s.raftHandle.Apply(data, 10*time.Second)
		return future.Error()
	}
	idx := atomic.AddUint64(&s.standaloneIdx, 1)
	result := s.fsm.Apply(&raft.Log{Index: idx, Term: 1, Data: data})
	if result == nil {
		return nil
	}
	return result.(error)
}

// loadOrm returns the cached ORM payload for (acct,coll,doc), falling
// back to a store read (and populating the cache) on a miss.
func (s *Store) loadOrm(acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId) (*orm.Object, error) {
	if o, ok := s.ormCache.get(acct, coll, doc); ok {
		return o, nil
	}
	raw, err := s.kv.Get(kv.FamilyValues, dkey.OrmPayloadKey(acct, coll, doc))
	if err != nil {
		return nil, newErr(InternalError, err)
	}
	o, err := orm.Decode(raw)
	if err != nil {
		return nil, newErr(DataCorruption, err)
	}
	s.ormCache.put(acct, coll, doc, o)
	return o, nil
}

// merged returns current with changes' properties/tags/ACL applied in
// memory, the snapshot pkg/core re-caches and persists after a
// successful write — orm.MergeValidate only computes the mutation
// list, it does not mutate current itself.
func merged(current, changes *orm.Object) *orm.Object {
	out := orm.New()
	if current != nil {
		for _, p := range current.Order {
			out.Set(p, current.Properties[p])
		}
		out.Tags = append(out.Tags, current.Tags...)
		out.ACL = append(out.ACL, current.ACL...)
	}
	if changes != nil {
		for _, p := range changes.Order {
			if changes.Properties[p] == nil {
				delete(out.Properties, p)
				continue
			}
			out.Set(p, changes.Properties[p])
		}
		if changes.Tags != nil {
			out.Tags = changes.Tags
		}
		if changes.ACL != nil {
			out.ACL = changes.ACL
		}
	}
	return out
}

// CreateDocument validates changes against coll's property table,
// draws a fresh document id, and commits the insert through the full
// pipeline (docstore batch + change-log entry + Raft entry) under
// (acct, coll)'s named lock. blobRefs links any blobs the document
// owns (e.g. a Mail document's attachments) as part of the same
// write; pass nil for collections that never carry blobs.
func (s *Store) CreateDocument(ctx context.Context, acct dkey.AccountId, coll dkey.Collection, changes *orm.Object, blobRefs []docstore.BlobRef) (dkey.DocumentId, error) {
	table, ok := schema.ForCollection(coll)
	if !ok {
		return 0, newErr(InternalError, fmt.Errorf("core: no schema for collection %d", coll))
	}

	var docID dkey.DocumentId
	err := s.locks.WithLock(acct, coll, func() error {
		mutations, _, err := orm.MergeValidate(table, nil, changes)
		if verr, ok := err.(*orm.ValidationError); ok {
			return invalidProperty(table.Defs[verr.Property].Name, verr.Reason)
		}
		if err != nil {
			return newErr(InternalError, err)
		}

		if coll == dkey.CollectionPushSubscription && s.cfg.MaxPushSubscriptions > 0 {
			live, err := query.Universe(s.kv, acct, coll)
			if err != nil {
				return newErr(InternalError, err)
			}
			if live.GetCardinality() >= uint64(s.cfg.MaxPushSubscriptions) {
				return &Error{Kind: Forbidden, Reason: "push subscription limit reached"}
			}
		}

		docID, err = kv.NextDocumentId(s.kv, acct, coll)
		if err != nil {
			return newErr(InternalError, err)
		}

		full := merged(nil, changes)
		if coll == dkey.CollectionPrincipal {
			if perr := principal.Validate(s.kv, acct, docID, true, full); perr != nil {
				if verr, ok := perr.(*principal.ValidationError); ok {
					return invalidProperty(verr.Property, verr.Reason)
				}
				return newErr(InternalError, perr)
			}
		}

		batch, err := docstore.BuildBatch(acct, coll, docID, mutations, blobRefs, docstore.DocInsert, s.termCache.Resolve, textindex.DefaultTokenizer, textindex.DefaultStemmer)
		if err != nil {
			return newErr(InternalError, err)
		}

		changeID, err := s.changelog.NextChangeId(acct, coll)
		if err != nil {
			return newErr(InternalError, err)
		}
		changelog.AppendOps(batch, acct, coll, changeID, changelog.Entry{Inserted: []dkey.DocumentId{docID}})

		payload, err := orm.Encode(full)
		if err != nil {
			return newErr(InternalError, err)
		}
		batch.Put(kv.FamilyValues, dkey.OrmPayloadKey(acct, coll, docID), payload)

		if err := s.applyBatch(acct, []dkey.Collection{coll}, batch); err != nil {
			return newErr(InternalError, err)
		}
		s.ormCache.put(acct, coll, docID, full)
		return nil
	})
	return docID, err
}

// UpdateDocument diffs changes against the document's current ORM
// payload and, when anything actually changed, commits an Update
// change-log entry through the same pipeline.
func (s *Store) UpdateDocument(ctx context.Context, acct dkey.AccountId, coll dkey.Collection, doc dkey.DocumentId, changes *orm.Object) error {
	table, ok := schema.ForCollection(coll)
	if !ok {
		return newErr(InternalError, fmt.Errorf("core: no schema for collection %d", coll))
	}

	return s.locks.WithLock(acct, coll, func() error {
		current, err := s.loadOrm(acct, coll, doc)
		if err != nil {
			return err
		}

		mutations, hasChanges, err := orm.MergeValidate(table, current, changes)
		if verr, ok := err.(*orm.ValidationError); ok {
			return invalidProperty(table.Defs[verr.Property].Name, verr.Reason)
		}
		if err != nil {
			return newErr(InternalError, err)
		}
		if !hasChanges {
			return nil
		}

		full := merged(current, changes)
		if coll == dkey.CollectionPrincipal {
			if perr := principal.Validate(s.kv, acct, doc, false, full); perr != nil {
				if verr, ok := perr.(*principal.ValidationError); ok {
					return invalidProperty(verr.Property, verr.Reason)
				}
				return newErr(InternalError, perr)
			}
		}

		batch, err := docstore.BuildBatch(acct, coll, doc, mutations, nil, docstore.DocUpdate, s.termCache.Resolve, textindex.DefaultTokenizer, textindex.DefaultStemmer)
		if err != nil {
			return newErr(InternalError, err)
		}

		changeID, err := s.changelog.NextChangeId(acct, coll)
		if err != nil {
			return newErr(InternalError, err)
		}
		changelog.AppendOps(batch, acct, coll, changeID, changelog.Entry{Updated: []dkey.DocumentId{doc}})

		payload, err := orm.Encode(full)
		if err != nil {
			return newErr(InternalError, err)
		}
		batch.Put(kv.FamilyValues, dkey.OrmPayloadKey(acct, coll, doc), payload)

		if err := s.applyBatch(acct, []dkey.Collection{coll}, batch); err != nil {
			return newErr(InternalError, err)
		}
		s.ormCache.put(acct, coll, doc, full)
		if coll == dkey.CollectionPrincipal {
			s.invalidatePrincipalEmails(current, full)
		}
		return nil
	})
}

// invalidatePrincipalEmails drops the recipient cache's entries for a
// Principal's old and new email, so pkg/ingest's next resolution sees
// the updated membership/address instead of a stale RecipientType.
func (s *Store) invalidatePrincipalEmails(current, full *orm.Object) {
	if current != nil {
		if email, ok := current.Properties[schema.PrincipalEmail].(string); ok && email != "" {
			s.InvalidateRecipient(email)
		}
	}
	if email, ok := full.Properties[schema.PrincipalEmail].(string); ok && email != "" {
		s.InvalidateRecipient(email)
	}
}
