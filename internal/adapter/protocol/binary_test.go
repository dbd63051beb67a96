package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/pkg/netbuf"
)

func binResponse(opcode byte, status uint16, opaque uint32, body []byte) []byte {
	frame := make([]byte, binHeaderLen+len(body))
	frame[0] = magicResponse
	frame[1] = opcode
	binary.BigEndian.PutUint16(frame[6:8], status)
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(body)))
	binary.BigEndian.PutUint32(frame[12:16], opaque)
	copy(frame[binHeaderLen:], body)
	return frame
}

func TestBinaryGetRequestWire(t *testing.T) {
	out := netbuf.New()
	b := NewBinary(&rxCounter{}, false, "", "")

	n := b.GetRequest(out, "key", 42)

	require.Equal(t, binHeaderLen+3, n)
	wire := out.Bytes()
	assert.Equal(t, byte(magicRequest), wire[0])
	assert.Equal(t, byte(cmdGet), wire[1])
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(wire[2:4]))
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(wire[8:12]))
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(wire[12:16]))
	assert.Equal(t, "key", string(wire[binHeaderLen:]))
}

func TestBinarySetRequestWire(t *testing.T) {
	out := netbuf.New()
	b := NewBinary(&rxCounter{}, false, "", "")

	n := b.SetRequest(out, "key", []byte("value"), 7)

	require.Equal(t, binHeaderLen+setExtrasLen+3+5, n)
	wire := out.Bytes()
	assert.Equal(t, byte(cmdSet), wire[1])
	assert.Equal(t, byte(setExtrasLen), wire[4])
	assert.Equal(t, uint32(setExtrasLen+3+5), binary.BigEndian.Uint32(wire[8:12]))
	assert.Equal(t, uint32(7), binary.BigEndian.Uint32(wire[12:16]))
	assert.Equal(t, "key", string(wire[binHeaderLen+setExtrasLen:binHeaderLen+setExtrasLen+3]))
	assert.Equal(t, "value", string(wire[binHeaderLen+setExtrasLen+3:]))
}

func TestBinaryGetMissByStatus(t *testing.T) {
	rx := &rxCounter{}
	b := NewBinary(rx, false, "", "")
	in := netbuf.New()
	in.Write(binResponse(cmdGet, 0x0001, 17, nil))

	var resp ports.Response
	resp.Found = true
	ok, err := b.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Done)
	assert.False(t, resp.Found)
	assert.Equal(t, uint32(17), resp.Opaque)
	assert.Equal(t, uint64(binHeaderLen), rx.n)
}

func TestBinaryGetHit(t *testing.T) {
	b := NewBinary(&rxCounter{}, false, "", "")
	in := netbuf.New()
	in.Write(binResponse(cmdGet, statusOK, 9, []byte("payload")))

	var resp ports.Response
	ok, err := b.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Found)
	assert.Equal(t, uint32(9), resp.Opaque)
	assert.Equal(t, 7, resp.ObjSize)
	assert.Equal(t, 0, in.Len())
}

func TestBinaryPartialHeaderAndBody(t *testing.T) {
	b := NewBinary(&rxCounter{}, false, "", "")
	in := netbuf.New()
	frame := binResponse(cmdGet, statusOK, 3, []byte("abc"))

	var resp ports.Response
	for i := 0; i < len(frame)-1; i++ {
		in.Write(frame[i : i+1])
		ok, err := b.HandleResponse(in, &resp)
		require.NoError(t, err)
		require.False(t, ok, "frame must not complete at byte %d", i)
	}
	in.Write(frame[len(frame)-1:])
	ok, err := b.HandleResponse(in, &resp)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBinaryOutOfOrderOpaques(t *testing.T) {
	b := NewBinary(&rxCounter{}, false, "", "")
	in := netbuf.New()
	in.Write(binResponse(cmdGet, statusOK, 31, nil))
	in.Write(binResponse(cmdGet, statusOK, 30, nil))

	var first, second ports.Response
	ok, err := b.HandleResponse(in, &first)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.HandleResponse(in, &second)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, uint32(31), first.Opaque)
	assert.Equal(t, uint32(30), second.Opaque)
}

func TestBinarySASLHandshakeWire(t *testing.T) {
	out := netbuf.New()
	b := NewBinary(&rxCounter{}, true, "user", "pass")

	complete := b.SetupConnectionW(out)
	require.False(t, complete)

	wire := out.Bytes()
	assert.Equal(t, byte(cmdSASLAuth), wire[1])
	assert.Equal(t, uint16(5), binary.BigEndian.Uint16(wire[2:4]))
	assert.Equal(t, uint32(5+1+4+1+4), binary.BigEndian.Uint32(wire[8:12]))
	assert.Equal(t, "PLAIN\x00user\x00pass", string(wire[binHeaderLen:]))
}

func TestBinarySASLSuccessCompletesSetup(t *testing.T) {
	b := NewBinary(&rxCounter{}, true, "user", "pass")
	in := netbuf.New()
	in.Write(binResponse(cmdSASLAuth, statusOK, 0, nil))

	done, err := b.SetupConnectionR(in)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestBinarySASLFailureIsFatal(t *testing.T) {
	b := NewBinary(&rxCounter{}, true, "user", "wrong")
	in := netbuf.New()
	in.Write(binResponse(cmdSASLAuth, 0x0020, 0, nil))

	_, err := b.SetupConnectionR(in)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSASLFailed))
}

func TestBinaryNoSASLSetupIsImmediate(t *testing.T) {
	out := netbuf.New()
	b := NewBinary(&rxCounter{}, false, "", "")

	assert.True(t, b.SetupConnectionW(out))
	assert.Equal(t, 0, out.Len())
}

func TestBinaryUnordered(t *testing.T) {
	assert.False(t, NewBinary(&rxCounter{}, false, "", "").Ordered())
}
