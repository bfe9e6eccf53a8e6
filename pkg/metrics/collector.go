package metrics

import "time"

// storeStats is the slice of *core.Store's surface the collector polls.
// Defined locally (rather than importing pkg/core directly) so
// pkg/metrics never depends on pkg/core — every other package already
// depends on pkg/metrics for its own counters, and pkg/core would
// close that cycle.
type storeStats interface {
	RaftStats() (isLeader bool, lastIndex, appliedIndex uint64, peers int)
}

// Collector periodically samples a Store's replication position into
// the Raft gauges, the one family of driftbox metrics that reflects
// current state rather than accumulating events as they happen, via a
// ticker-driven collect() loop with a Start/Stop lifecycle.
type Collector struct {
	store  storeStats
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store storeStats) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, in its own
// goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	isLeader, lastIndex, appliedIndex, peers := c.store.RaftStats()
	if isLeader {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
	RaftLastIndex.Set(float64(lastIndex))
	RaftAppliedIndex.Set(float64(appliedIndex))
	RaftPeers.Set(float64(peers))
}
