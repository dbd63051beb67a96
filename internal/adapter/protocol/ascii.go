// Package protocol implements the three cache wire codecs: ASCII memcached,
// binary memcached (with optional SASL PLAIN) and RESP. All three share the
// ports.Protocol capability; framing is resumable so a response split across
// socket reads is picked up where the previous call left off.
package protocol

import (
	"fmt"

	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/pkg/netbuf"
)

type asciiReadState int

const (
	asciiWaitingForLine asciiReadState = iota
	asciiWaitingForData
)

// Ascii is the plain-text memcached codec. Responses arrive strictly in
// issue order.
type Ascii struct {
	sink     ports.RxBytesSink
	state    asciiReadState
	dataLen  int
	sawValue bool
}

func NewAscii(sink ports.RxBytesSink) *Ascii {
	return &Ascii{sink: sink}
}

func (a *Ascii) Ordered() bool { return true }

func (a *Ascii) GetRequest(out *netbuf.Buffer, key string, _ uint32) int {
	n, _ := fmt.Fprintf(out, "get %s\r\n", key)
	return n
}

func (a *Ascii) SetRequest(out *netbuf.Buffer, key string, value []byte, _ uint32) int {
	n, _ := fmt.Fprintf(out, "set %s 0 0 %d\r\n", key, len(value))
	out.Write(value)
	out.WriteString("\r\n")
	return n + len(value) + 2
}

// Delete90Request issues the legacy delete probe against a fixed key.
func (a *Ascii) Delete90Request(out *netbuf.Buffer) int {
	n, _ := out.WriteString("delete delete90probe\r\n")
	return n
}

func (a *Ascii) SetupConnectionW(*netbuf.Buffer) bool { return true }

func (a *Ascii) SetupConnectionR(*netbuf.Buffer) (bool, error) { return true, nil }

// HandleResponse runs the two-state line reader. "END" completes a GET
// (miss when no VALUE preceded it); a VALUE header switches to draining the
// data block; any other line is an ack that completes the head op.
func (a *Ascii) HandleResponse(in *netbuf.Buffer, resp *ports.Response) (bool, error) {
	switch a.state {
	case asciiWaitingForLine:
		line, ok := in.ReadLine()
		if !ok {
			return false, nil
		}
		a.sink.AddRxBytes(uint64(len(line) + 2))

		s := string(line)
		switch {
		case s == "END":
			resp.Done = true
			resp.Found = a.sawValue
			a.sawValue = false
			return true, nil
		case len(s) >= 6 && s[:6] == "VALUE ":
			var key string
			var flags int
			if _, err := fmt.Sscanf(s, "VALUE %s %d %d", &key, &flags, &a.dataLen); err != nil {
				return false, fmt.Errorf("ascii VALUE header %q: %w", s, err)
			}
			a.state = asciiWaitingForData
			resp.Done = false
			return true, nil
		default:
			// STORED, DELETED, NOT_FOUND and friends: a single-line ack.
			resp.Done = true
			resp.Found = true
			return true, nil
		}

	case asciiWaitingForData:
		if in.Len() < a.dataLen+2 {
			return false, nil
		}
		resp.ObjSize = a.dataLen
		in.Discard(a.dataLen + 2)
		a.sink.AddRxBytes(uint64(a.dataLen + 2))
		a.state = asciiWaitingForLine
		a.sawValue = true
		resp.Done = false
		resp.Found = true
		return true, nil
	}
	return false, nil
}
