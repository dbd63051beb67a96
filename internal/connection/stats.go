package connection

import (
	"time"

	"github.com/kvblast/kvblast/internal/adapter/stats"
	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/pkg/sampler"
)

// Stats holds one connection's counters and samplers. They are touched only
// by the connection's own goroutine on the hot path; aggregation across
// connections happens after the connection has finished.
type Stats struct {
	Start time.Time
	Stop  time.Time

	Gets      uint64
	Sets      uint64
	Deletes   uint64
	GetMisses uint64
	Skips     uint64
	Accesses  uint64

	RxBytes uint64
	TxBytes uint64

	WindowGets      uint64
	WindowSets      uint64
	WindowGetMisses uint64
	WindowAccesses  uint64

	GetSampler *sampler.Sampler
	SetSampler *sampler.Sampler
	OpSampler  *sampler.Sampler

	coll     *stats.Collector
	sampling bool
}

func NewStats(sampling bool) *Stats {
	return &Stats{
		GetSampler: sampler.New(sampling),
		SetSampler: sampler.New(sampling),
		OpSampler:  sampler.New(false),
		sampling:   sampling,
	}
}

// Reset zeroes every counter and sampler in place. In place matters: the
// protocol codec holds this object as its rx-byte sink, so the pointer must
// survive the warmup-to-measurement boundary.
func (s *Stats) Reset() {
	*s = Stats{
		GetSampler: sampler.New(s.sampling),
		SetSampler: sampler.New(s.sampling),
		OpSampler:  sampler.New(false),
		coll:       s.coll,
		sampling:   s.sampling,
	}
}

// AttachCollector ties this connection's byte accounting into the
// process-wide fold.
func (s *Stats) AttachCollector(c *stats.Collector) {
	s.coll = c
}

// AddRxBytes implements ports.RxBytesSink for the protocol codecs.
func (s *Stats) AddRxBytes(n uint64) {
	s.RxBytes += n
	if s.coll != nil {
		s.coll.RecordRxBytes(int64(n))
	}
}

// LogGet records a completed GET's latency.
func (s *Stats) LogGet(op *domain.Operation) {
	s.GetSampler.RecordAt(op.Start, op.Latency())
	s.Gets++
	s.WindowGets++
}

// LogSet records a completed SET's latency.
func (s *Stats) LogSet(op *domain.Operation) {
	s.SetSampler.RecordAt(op.Start, op.Latency())
	s.Sets++
	s.WindowSets++
}

// LogMiss counts a GET that came back empty.
func (s *Stats) LogMiss() {
	s.GetMisses++
	s.WindowGetMisses++
}

// LogAccess counts an issued operation toward the access totals.
func (s *Stats) LogAccess() {
	s.Accesses++
	s.WindowAccesses++
}

// LogOpQueue samples the pipeline depth after an issue.
func (s *Stats) LogOpQueue(depth int) {
	s.OpSampler.Record(int64(depth))
}

// ResetWindow zeroes the rolling window counters at a window boundary.
func (s *Stats) ResetWindow() {
	s.WindowGets = 0
	s.WindowSets = 0
	s.WindowGetMisses = 0
	s.WindowAccesses = 0
}

// Accumulate folds another connection's stats into this one.
func (s *Stats) Accumulate(other *Stats) {
	s.Gets += other.Gets
	s.Sets += other.Sets
	s.Deletes += other.Deletes
	s.GetMisses += other.GetMisses
	s.Skips += other.Skips
	s.Accesses += other.Accesses
	s.RxBytes += other.RxBytes
	s.TxBytes += other.TxBytes

	s.GetSampler.Merge(other.GetSampler)
	s.SetSampler.Merge(other.SetSampler)
	s.OpSampler.Merge(other.OpSampler)

	if s.Start.IsZero() || (!other.Start.IsZero() && other.Start.Before(s.Start)) {
		s.Start = other.Start
	}
	if other.Stop.After(s.Stop) {
		s.Stop = other.Stop
	}
}

// AccumulateAgent folds counters shipped back from a remote agent.
func (s *Stats) AccumulateAgent(a domain.AgentStats) {
	s.Gets += a.Gets
	s.Sets += a.Sets
	s.GetMisses += a.GetMisses
	s.Skips += a.Skips
	s.RxBytes += a.RxBytes
	s.TxBytes += a.TxBytes
	if s.Start.IsZero() || (!a.Start.IsZero() && a.Start.Before(s.Start)) {
		s.Start = a.Start
	}
	if a.Stop.After(s.Stop) {
		s.Stop = a.Stop
	}
}

// AgentView is the counter subset an agent ships to the master.
func (s *Stats) AgentView() domain.AgentStats {
	return domain.AgentStats{
		RxBytes:   s.RxBytes,
		TxBytes:   s.TxBytes,
		Gets:      s.Gets,
		Sets:      s.Sets,
		GetMisses: s.GetMisses,
		Skips:     s.Skips,
		Start:     s.Start,
		Stop:      s.Stop,
	}
}
