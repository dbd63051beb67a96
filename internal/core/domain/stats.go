package domain

import "time"

// AgentStats is the subset of connection counters an agent ships back to the
// master at the end of a run. Field tags keep the CBOR wire form stable; new
// fields must be appended, never renumbered.
type AgentStats struct {
	RxBytes   uint64    `cbor:"1,keyasint"`
	TxBytes   uint64    `cbor:"2,keyasint"`
	Gets      uint64    `cbor:"3,keyasint"`
	Sets      uint64    `cbor:"4,keyasint"`
	GetMisses uint64    `cbor:"5,keyasint"`
	Skips     uint64    `cbor:"6,keyasint"`
	Start     time.Time `cbor:"7,keyasint"`
	Stop      time.Time `cbor:"8,keyasint"`
}

// Accumulate folds another agent's counters into this one. The wall-clock
// window widens to cover both.
func (s *AgentStats) Accumulate(other AgentStats) {
	s.RxBytes += other.RxBytes
	s.TxBytes += other.TxBytes
	s.Gets += other.Gets
	s.Sets += other.Sets
	s.GetMisses += other.GetMisses
	s.Skips += other.Skips
	if s.Start.IsZero() || (!other.Start.IsZero() && other.Start.Before(s.Start)) {
		s.Start = other.Start
	}
	if other.Stop.After(s.Stop) {
		s.Stop = other.Stop
	}
}
