// Package ports defines the capability boundaries between the run
// orchestration and its adapters: wire codecs, sample generators and the
// trace feed.
package ports

import (
	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/pkg/netbuf"
)

// Response carries the outcome of one framed server response.
type Response struct {
	ObjSize int
	Opaque  uint32
	Done    bool
	Found   bool
}

// Protocol is the common capability of the three wire codecs. Requests are
// encoded into an outbound buffer; responses are framed out of the inbound
// buffer, returning false when only a partial frame is available so the
// caller re-invokes on the next read edge.
type Protocol interface {
	// GetRequest encodes a GET and returns the number of bytes written.
	GetRequest(out *netbuf.Buffer, key string, opaque uint32) int
	// SetRequest encodes a SET and returns the number of bytes written.
	SetRequest(out *netbuf.Buffer, key string, value []byte, opaque uint32) int
	// Delete90Request encodes the legacy delete probe.
	Delete90Request(out *netbuf.Buffer) int

	// SetupConnectionW writes any handshake bytes. It returns true when no
	// handshake round-trip is needed and the connection is immediately usable.
	SetupConnectionW(out *netbuf.Buffer) bool
	// SetupConnectionR consumes handshake response bytes. It returns true
	// once the handshake has completed.
	SetupConnectionR(in *netbuf.Buffer) (bool, error)

	// HandleResponse frames the next complete response. ok=false with a nil
	// error means not enough bytes are buffered; any part of the frame it
	// already consumed is kept in the codec's state and the next call resumes.
	HandleResponse(in *netbuf.Buffer, resp *Response) (ok bool, err error)

	// Ordered reports whether responses arrive strictly in issue order.
	Ordered() bool
}

// Generator produces scalar samples for inter-arrival gaps and sizes.
type Generator interface {
	Generate() float64
	SetLambda(lambda float64)
}

// KeyGenerator maps a key index onto its wire-format key string.
type KeyGenerator interface {
	Generate(index uint64) string
}

// TraceSource is the shared feed of decoded trace records. TryDequeue never
// blocks; eof becomes true once this consumer has seen the end of the trace
// and stays true.
type TraceSource interface {
	TryDequeue() (rec domain.TraceRecord, ok bool, eof bool)
}

// Sampler accumulates scalar observations (latencies, queue depths).
type Sampler interface {
	Record(value int64)
	Count() uint64
}

// RxBytesSink lets codecs account received bytes without owning the stats.
type RxBytesSink interface {
	AddRxBytes(n uint64)
}
