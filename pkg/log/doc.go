/*
Package log provides structured logging for driftbox using zerolog.

The log package wraps zerolog to give every subsystem (kv, bitmap,
changelog, raftlog, docstore, query, tombstone, blob) a component-scoped
logger with consistent fields, so a single process's log stream can be
filtered by account, collection, or change id during debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("changelog")                │          │
	│  │  - WithAccount(accountID)                    │          │
	│  │  - WithCollection("Mail")                    │          │
	│  │  - WithChangeID(changeID)                    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  JSON: {"level":"info","component":"raftlog"│          │
	│  │         ,"account_id":5,"message":"..."}    │          │
	│  │  Console: 10:30AM INF committed account=5   │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	import "github.com/cuemby/driftbox/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	clog := log.WithComponent("changelog")
	clog.Info().Uint32("account_id", 5).Msg("change appended")

# Levels

Debug is for per-key bitmap deltas and merge-operator traces; Info for
document writes, compaction runs, and raft commits; Warn for retried
internal errors; Error for data corruption and aborted requests.

# Don't

Don't log ORM payload contents (may carry message bodies); don't log in
the bitmap merge hot path at Info level — use Debug and expect it to be
disabled in production.
*/
package log
