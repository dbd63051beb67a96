package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/pkg/netbuf"
)

const (
	binHeaderLen = 24

	magicRequest  = 0x80
	magicResponse = 0x81

	cmdGet      = 0x00
	cmdSet      = 0x01
	cmdDelete   = 0x04
	cmdSASLAuth = 0x21

	statusOK = 0x0000

	setExtrasLen = 8
)

// Binary is the binary memcached codec. Responses may arrive out of order;
// the opaque header field correlates each response back to its operation.
type Binary struct {
	sink     ports.RxBytesSink
	username string
	password string
	sasl     bool
}

func NewBinary(sink ports.RxBytesSink, sasl bool, username, password string) *Binary {
	return &Binary{sink: sink, sasl: sasl, username: username, password: password}
}

func (b *Binary) Ordered() bool { return false }

func (b *Binary) header(out *netbuf.Buffer, opcode byte, keyLen, extrasLen, valueLen int, opaque uint32) {
	var h [binHeaderLen]byte
	h[0] = magicRequest
	h[1] = opcode
	binary.BigEndian.PutUint16(h[2:4], uint16(keyLen))
	h[4] = byte(extrasLen)
	// h[5] datatype, h[6:8] vbucket: zero
	binary.BigEndian.PutUint32(h[8:12], uint32(keyLen+extrasLen+valueLen))
	binary.BigEndian.PutUint32(h[12:16], opaque)
	// h[16:24] cas: zero
	out.Write(h[:])
}

func (b *Binary) GetRequest(out *netbuf.Buffer, key string, opaque uint32) int {
	b.header(out, cmdGet, len(key), 0, 0, opaque)
	out.WriteString(key)
	return binHeaderLen + len(key)
}

func (b *Binary) SetRequest(out *netbuf.Buffer, key string, value []byte, opaque uint32) int {
	b.header(out, cmdSet, len(key), setExtrasLen, len(value), opaque)
	var extras [setExtrasLen]byte // flags and expiry, both zero
	out.Write(extras[:])
	out.WriteString(key)
	out.Write(value)
	return binHeaderLen + setExtrasLen + len(key) + len(value)
}

// Delete90Request is only meaningful on the ASCII codec.
func (b *Binary) Delete90Request(*netbuf.Buffer) int { return 0 }

// SetupConnectionW sends the SASL PLAIN initial response when SASL is
// enabled. The handshake completes on the matching read.
func (b *Binary) SetupConnectionW(out *netbuf.Buffer) bool {
	if !b.sasl {
		return true
	}

	mech := "PLAIN"
	valueLen := 1 + len(b.username) + 1 + len(b.password)
	b.header(out, cmdSASLAuth, len(mech), 0, valueLen, 0)
	out.WriteString(mech)
	out.WriteString("\x00")
	out.WriteString(b.username)
	out.WriteString("\x00")
	out.WriteString(b.password)
	return false
}

func (b *Binary) SetupConnectionR(in *netbuf.Buffer) (bool, error) {
	if !b.sasl {
		return true, nil
	}
	var resp ports.Response
	return b.HandleResponse(in, &resp)
}

// HandleResponse frames one complete binary response: a 24-byte header plus
// body_len bytes. A non-zero status on a GET is a miss; a non-zero status on
// the SASL step is fatal.
func (b *Binary) HandleResponse(in *netbuf.Buffer, resp *ports.Response) (bool, error) {
	h := in.Peek(binHeaderLen)
	if h == nil {
		return false, nil
	}

	bodyLen := int(binary.BigEndian.Uint32(h[8:12]))
	frameLen := binHeaderLen + bodyLen
	if in.Len() < frameLen {
		return false, nil
	}

	if h[0] != magicResponse {
		return false, fmt.Errorf("binary: bad magic 0x%02x: %w", h[0], errMalformed)
	}

	opcode := h[1]
	status := binary.BigEndian.Uint16(h[6:8])
	resp.Opaque = binary.BigEndian.Uint32(h[12:16])
	resp.ObjSize = bodyLen
	resp.Done = true
	resp.Found = true

	if opcode == cmdGet && status != statusOK {
		resp.Found = false
	}
	if opcode == cmdSASLAuth && status != statusOK {
		return false, domain.ErrSASLFailed
	}

	in.Discard(frameLen)
	b.sink.AddRxBytes(uint64(frameLen))
	return true, nil
}
