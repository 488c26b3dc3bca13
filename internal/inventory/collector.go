package inventory

import (
	"time"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"codeberg.org/mutker/edgegov/internal/metrics"
)

// Collector gates inventory snapshots on their own cadence, independent of
// the sampling loop that drives it.
type Collector struct {
	interval time.Duration
	clock    clock.Clock
	gather   func() Snapshot
	sink     *logsink.Sink
	metrics  metrics.Collector

	last  time.Time
	fired bool
}

func NewCollector(interval time.Duration, clk clock.Clock, opts Options, sink *logsink.Sink, m metrics.Collector) *Collector {
	if m == nil {
		m = metrics.Noop()
	}

	return &Collector{
		interval: interval,
		clock:    clk,
		gather:   func() Snapshot { return Gather(opts) },
		sink:     sink,
		metrics:  m,
	}
}

// Due reports whether a snapshot should be taken at now. The first check
// is always due.
func (c *Collector) Due(now time.Time) bool {
	return !c.fired || now.Sub(c.last) >= c.interval
}

// MarkFired records a snapshot taken at now.
func (c *Collector) MarkFired(now time.Time) {
	c.last = now
	c.fired = true
}

// MaybeCollect writes a snapshot if one is due and reports whether it did.
func (c *Collector) MaybeCollect() bool {
	now := c.clock.Now()
	if !c.Due(now) {
		return false
	}

	c.MarkFired(now)
	c.sink.Block("System inventory:", c.gather().Lines())
	c.metrics.IncInventory()

	return true
}
