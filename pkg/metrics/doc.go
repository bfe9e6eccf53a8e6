/*
Package metrics defines and registers every Prometheus metric this
storage core exposes, and the small HTTP/health-check surface that
accompanies them.

# Metrics catalog

Change log:

  - driftbox_changes_appended_total{state}: change-log entries appended,
    by insert/update/delete.
  - driftbox_changes_compacted_total: entries dropped by snapshot
    compaction.
  - driftbox_changes_append_duration_seconds: time to append one batch.

Bitmaps:

  - driftbox_bitmap_merges_total{family}: merge-operator applications
    against the Bitmaps column family.
  - driftbox_bitmap_optimize_duration_seconds: time to re-encode a
    bitlist delta chain into a roaring bitmap.

Tombstone / purge:

  - driftbox_tombstones_marked_total: documents marked tombstoned.
  - driftbox_purge_passes_total / driftbox_purged_documents_total /
    driftbox_purge_duration_seconds: purge-pass counters and timing.

Raft:

  - driftbox_raft_is_leader, driftbox_raft_peers_total,
    driftbox_raft_last_index, driftbox_raft_applied_index: gauges
    polled by Collector every 15s.
  - driftbox_raft_entries_committed_total /
    driftbox_raft_apply_duration_seconds: incremented inline by the FSM
    on every Apply.

Blob store:

  - driftbox_blobs_put_total / driftbox_blobs_deduped_total /
    driftbox_blob_bytes_stored.

Query engine:

  - driftbox_queries_total{collection} /
    driftbox_query_duration_seconds{collection}.

Ingestion:

  - driftbox_messages_ingested_total / driftbox_deliveries_total.

# Collection model

Event counters (changes appended, bitmap merges, tombstones marked,
purge counts, blob puts, queries, raft commits) are incremented inline
at the call site that produces the event — there is no polling loop
for them, since polling would mean re-deriving a count the write path
already knows for free. Collector exists only for the Raft gauges,
which reflect current replication state rather than an event count and
so have nothing to increment inline. Collector's periodic gauge refresh
is narrowed to the one state family this core's Store exposes.

# Usage

	http.Handle("/metrics", metrics.Handler())
	collector := metrics.NewCollector(store) // store implements RaftStats()
	collector.Start()
	defer collector.Stop()
*/
package metrics
