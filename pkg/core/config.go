package core

import "github.com/c2h5oh/datasize"

// Config holds the plain-struct-of-fields configuration every
// subsystem the Store wires needs, passed once at construction.
type Config struct {
	// NodeID and BindAddr name this node within the Raft cluster.
	NodeID   string
	BindAddr string
	// DataDir is where the bbolt file and Raft snapshot store live.
	DataDir string

	// BitlistCompactionThreshold is a byte size for bitlist compaction.
	// Nothing reads it: the oversized-bitmap warning pkg/kv logs after a
	// merge uses the fixed constant pkg/bitmap.ShardLimit.
	BitlistCompactionThreshold datasize.ByteSize

	// MaxPushSubscriptions bounds how many PushSubscription documents
	// one account may hold before Create returns core.Forbidden.
	MaxPushSubscriptions int

	// MailboxMaxDepth is the ancestor-level bound for mailbox tree
	// sorts. Store does not read it; pkg/query.SortAsTree takes its
	// depth bound as an argument from its caller.
	MailboxMaxDepth int

	// WorkerPoolSize is the number of goroutines in the bounded worker
	// pool blocking KV calls are dispatched to.
	WorkerPoolSize int
}

// DefaultConfig returns the values this module was built and tested
// against.
func DefaultConfig() Config {
	return Config{
		BitlistCompactionThreshold: 3 * datasize.KB,
		MaxPushSubscriptions:       10,
		MailboxMaxDepth:            10,
		WorkerPoolSize:             8,
	}
}
