package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse is returned by a codec when the server sent a
	// line or frame it cannot make sense of. The pending op does not
	// advance; the line-based codecs have already consumed the bad line.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrSASLFailed is fatal: the binary handshake was rejected.
	ErrSASLFailed = errors.New("sasl authentication failed")

	// ErrOpaqueExhausted aborts the run if the 32-bit opaque space wraps.
	ErrOpaqueExhausted = errors.New("opaque counter exhausted")

	// ErrUnexpectedEOF marks a server that closed mid-run.
	ErrUnexpectedEOF = errors.New("unexpected EOF from server")
)

// ErrUnknownOpaque reports a binary response whose opaque matches no
// pending operation.
type ErrUnknownOpaque struct {
	Opaque uint32
}

func (e *ErrUnknownOpaque) Error() string {
	return fmt.Sprintf("response for unknown opaque %d", e.Opaque)
}

// ErrHandshake reports a deviation from the master/agent message sequence.
type ErrHandshake struct {
	Expected string
	Got      string
}

func (e *ErrHandshake) Error() string {
	return fmt.Sprintf("coordination handshake: expected %q, got %q", e.Expected, e.Got)
}
