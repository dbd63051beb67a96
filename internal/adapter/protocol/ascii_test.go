package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/pkg/netbuf"
)

type rxCounter struct {
	n uint64
}

func (r *rxCounter) AddRxBytes(n uint64) { r.n += n }

func TestAsciiGetRequestWire(t *testing.T) {
	out := netbuf.New()
	a := NewAscii(&rxCounter{})

	n := a.GetRequest(out, "foo", 1)

	assert.Equal(t, "get foo\r\n", string(out.Bytes()))
	assert.Equal(t, len("get foo\r\n"), n)
}

func TestAsciiSetRequestWire(t *testing.T) {
	out := netbuf.New()
	a := NewAscii(&rxCounter{})

	n := a.SetRequest(out, "k", []byte("abc"), 2)

	assert.Equal(t, "set k 0 0 3\r\nabc\r\n", string(out.Bytes()))
	assert.Equal(t, len("set k 0 0 3\r\nabc\r\n"), n)
}

func TestAsciiGetHit(t *testing.T) {
	rx := &rxCounter{}
	a := NewAscii(rx)
	in := netbuf.New()
	in.WriteString("VALUE k 0 3\r\nabc\r\nEND\r\n")

	// VALUE header.
	var resp ports.Response
	ok, err := a.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, resp.Done)

	// Data block.
	resp = ports.Response{}
	ok, err = a.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, resp.Done)
	assert.Equal(t, 3, resp.ObjSize)

	// Terminating END: the op completes as a hit.
	resp = ports.Response{}
	ok, err = a.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Done)
	assert.True(t, resp.Found)

	assert.Equal(t, uint64(len("VALUE k 0 3\r\nabc\r\nEND\r\n")), rx.n)
	assert.Equal(t, 0, in.Len())
}

func TestAsciiGetMiss(t *testing.T) {
	rx := &rxCounter{}
	a := NewAscii(rx)
	in := netbuf.New()
	in.WriteString("END\r\n")

	var resp ports.Response
	ok, err := a.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Done)
	assert.False(t, resp.Found)
	assert.Equal(t, uint64(5), rx.n)
}

func TestAsciiSetAck(t *testing.T) {
	a := NewAscii(&rxCounter{})
	in := netbuf.New()
	in.WriteString("STORED\r\n")

	var resp ports.Response
	ok, err := a.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Done)
}

func TestAsciiPartialFramesResume(t *testing.T) {
	wire := "VALUE key 0 5\r\nhello\r\nEND\r\n"
	a := NewAscii(&rxCounter{})
	in := netbuf.New()

	var frames []ports.Response
	for i := 0; i < len(wire); i++ {
		in.WriteString(wire[i : i+1])
		for {
			var resp ports.Response
			resp.Found = true
			ok, err := a.HandleResponse(in, &resp)
			require.NoError(t, err)
			if !ok {
				break
			}
			frames = append(frames, resp)
		}
	}

	// Byte-at-a-time delivery yields the same three frames as one write.
	require.Len(t, frames, 3)
	assert.False(t, frames[0].Done)
	assert.Equal(t, 5, frames[1].ObjSize)
	assert.True(t, frames[2].Done)
	assert.True(t, frames[2].Found)
}

func TestAsciiOrdered(t *testing.T) {
	assert.True(t, NewAscii(&rxCounter{}).Ordered())
}
