// Package stats provides the process-wide live counter fold. Connections
// tick striped counters as they issue and finish ops; the app samples the
// fold for progress logging without touching any connection's hot state.
package stats

import (
	"github.com/puzpuzpuz/xsync/v4"
)

// Collector aggregates op counts across every worker in the process.
// Counters are striped per CPU, so the hot-path increments stay off any
// shared cache line.
type Collector struct {
	accesses *xsync.Counter
	gets     *xsync.Counter
	sets     *xsync.Counter
	misses   *xsync.Counter
	skips    *xsync.Counter
	rxBytes  *xsync.Counter
	txBytes  *xsync.Counter
}

func NewCollector() *Collector {
	return &Collector{
		accesses: xsync.NewCounter(),
		gets:     xsync.NewCounter(),
		sets:     xsync.NewCounter(),
		misses:   xsync.NewCounter(),
		skips:    xsync.NewCounter(),
		rxBytes:  xsync.NewCounter(),
		txBytes:  xsync.NewCounter(),
	}
}

func (c *Collector) RecordAccess()         { c.accesses.Inc() }
func (c *Collector) RecordGet()            { c.gets.Inc() }
func (c *Collector) RecordSet()            { c.sets.Inc() }
func (c *Collector) RecordMiss()           { c.misses.Inc() }
func (c *Collector) RecordSkips(n int64)   { c.skips.Add(n) }
func (c *Collector) RecordRxBytes(n int64) { c.rxBytes.Add(n) }
func (c *Collector) RecordTxBytes(n int64) { c.txBytes.Add(n) }

// Snapshot is a point-in-time copy of the fold. Reads are not atomic with
// respect to each other; progress reporting does not need them to be.
type Snapshot struct {
	Accesses int64
	Gets     int64
	Sets     int64
	Misses   int64
	Skips    int64
	RxBytes  int64
	TxBytes  int64
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Accesses: c.accesses.Value(),
		Gets:     c.gets.Value(),
		Sets:     c.sets.Value(),
		Misses:   c.misses.Value(),
		Skips:    c.skips.Value(),
		RxBytes:  c.rxBytes.Value(),
		TxBytes:  c.txBytes.Value(),
	}
}

// Reset zeroes the fold at a phase boundary.
func (c *Collector) Reset() {
	c.accesses.Reset()
	c.gets.Reset()
	c.sets.Reset()
	c.misses.Reset()
	c.skips.Reset()
	c.rxBytes.Reset()
	c.txBytes.Reset()
}
