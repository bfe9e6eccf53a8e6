package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Change log metrics
	ChangesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftbox_changes_appended_total",
			Help: "Total number of change-log entries appended, by state (insert/update/delete)",
		},
		[]string{"state"},
	)

	ChangesCompactedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_changes_compacted_total",
			Help: "Total number of change-log entries dropped by dedup compaction",
		},
	)

	ChangesAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftbox_changes_append_duration_seconds",
			Help:    "Time taken to append one change-log batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Bitmap metrics
	BitmapMergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftbox_bitmap_merges_total",
			Help: "Total number of bitmap merge-operator applications, by family",
		},
		[]string{"family"},
	)

	BitmapOptimizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftbox_bitmap_optimize_duration_seconds",
			Help:    "Time taken to re-encode a bitlist delta chain into a roaring bitmap",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tombstone / purge metrics
	TombstonesMarkedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_tombstones_marked_total",
			Help: "Total number of documents marked tombstoned",
		},
	)

	PurgePassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_purge_passes_total",
			Help: "Total number of tombstone purge passes run",
		},
	)

	PurgedDocumentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_purged_documents_total",
			Help: "Total number of tombstoned documents reclaimed by a purge pass",
		},
	)

	PurgeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftbox_purge_duration_seconds",
			Help:    "Time taken to run one purge pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftbox_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftbox_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLastIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftbox_raft_last_index",
			Help: "Index of the last entry in the Raft log",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftbox_raft_applied_index",
			Help: "Index of the last Raft log entry applied to the FSM",
		},
	)

	RaftEntriesCommittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_raft_entries_committed_total",
			Help: "Total number of Raft log entries committed through the FSM",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "driftbox_raft_apply_duration_seconds",
			Help:    "Time taken for the FSM to apply one Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Blob store metrics
	BlobsPutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_blobs_put_total",
			Help: "Total number of blobs stored, counting deduplicated puts",
		},
	)

	BlobsDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_blobs_deduped_total",
			Help: "Total number of blob puts that matched an existing hash and were ref-counted instead of stored",
		},
	)

	BlobBytesStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "driftbox_blob_bytes_stored",
			Help: "Total bytes currently held by the blob store across all distinct blobs",
		},
	)

	// Query engine metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftbox_queries_total",
			Help: "Total number of document queries executed, by collection",
		},
		[]string{"collection"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "driftbox_query_duration_seconds",
			Help:    "Query execution duration in seconds, by collection",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Ingestion metrics
	MessagesIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_messages_ingested_total",
			Help: "Total number of raw messages accepted for delivery",
		},
	)

	DeliveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftbox_deliveries_total",
			Help: "Total number of per-recipient Mail documents created by ingestion fan-out",
		},
	)
)

func init() {
	prometheus.MustRegister(ChangesAppendedTotal)
	prometheus.MustRegister(ChangesCompactedTotal)
	prometheus.MustRegister(ChangesAppendDuration)

	prometheus.MustRegister(BitmapMergesTotal)
	prometheus.MustRegister(BitmapOptimizeDuration)

	prometheus.MustRegister(TombstonesMarkedTotal)
	prometheus.MustRegister(PurgePassesTotal)
	prometheus.MustRegister(PurgedDocumentsTotal)
	prometheus.MustRegister(PurgeDuration)

	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLastIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftEntriesCommittedTotal)
	prometheus.MustRegister(RaftApplyDuration)

	prometheus.MustRegister(BlobsPutTotal)
	prometheus.MustRegister(BlobsDedupedTotal)
	prometheus.MustRegister(BlobBytesStored)

	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(QueryDuration)

	prometheus.MustRegister(MessagesIngestedTotal)
	prometheus.MustRegister(DeliveriesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
