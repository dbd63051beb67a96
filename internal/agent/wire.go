// Package agent implements the master/agent coordination protocol: the
// master recruits remote agents, distributes the run options, computes the
// shared lambda denominator, synchronizes phase boundaries and collects
// per-agent statistics. Agents never talk to each other.
package agent

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/core/domain"
)

// wireVersion guards cross-host runs: both sides must speak the same frame
// layout. Bump on any incompatible message change.
const wireVersion = 1

// Message kinds, in handshake order. The phase dance is four messages
// because the master's socket is strictly request-initiated.
const (
	kindOptions = "options"
	kindThreads = "threads"
	kindServer  = "server"
	kindAck     = "ACK"
	kindDenom   = "denom"
	kindThanks  = "THANKS"

	kindSyncReq = "sync_req"
	kindSync    = "sync"
	kindProceed = "proceed"
	kindSyncAck = "ack"

	kindStatsReq = "stats"
	kindStats    = "stats_resp"
)

// message is the versioned envelope every coordination frame carries.
// Fields are optional; Kind dictates which one is populated.
type message struct {
	Version int                `cbor:"1,keyasint"`
	Kind    string             `cbor:"2,keyasint"`
	Options *config.Options    `cbor:"3,keyasint,omitempty"`
	Number  uint32             `cbor:"4,keyasint,omitempty"`
	Text    string             `cbor:"5,keyasint,omitempty"`
	Stats   *domain.AgentStats `cbor:"6,keyasint,omitempty"`
}

// maxFrameLen bounds a coordination frame; options plus padding fit in far
// less. Anything bigger is a framing bug or a stray client.
const maxFrameLen = 1 << 20

func writeMessage(w io.Writer, m *message) error {
	m.Version = wireVersion
	return writeRaw(w, m)
}

func writeRaw(w io.Writer, m *message) error {
	payload, err := cbor.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", m.Kind, err)
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write %s frame: %w", m.Kind, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write %s frame: %w", m.Kind, err)
	}
	return nil
}

func readMessage(r io.Reader) (*message, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	var m message
	if err := cbor.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if m.Version != wireVersion {
		return nil, fmt.Errorf("wire version %d, want %d", m.Version, wireVersion)
	}
	return &m, nil
}

// expect reads one message and fails the handshake on any other kind.
func expect(r io.Reader, kind string) (*message, error) {
	m, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	if m.Kind != kind {
		return nil, &domain.ErrHandshake{Expected: kind, Got: m.Kind}
	}
	return m, nil
}
