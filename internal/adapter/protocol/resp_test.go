package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/pkg/netbuf"
)

func TestRespGetRequestWire(t *testing.T) {
	out := netbuf.New()
	r := NewResp(&rxCounter{})

	n := r.GetRequest(out, "mykey", 1)

	want := "*2\r\n$3\r\nGET\r\n$5\r\nmykey\r\n"
	assert.Equal(t, want, string(out.Bytes()))
	assert.Equal(t, len(want), n)
}

func TestRespSetRequestWire(t *testing.T) {
	out := netbuf.New()
	r := NewResp(&rxCounter{})

	n := r.SetRequest(out, "mykey", []byte("my value"), 1)

	want := "*3\r\n$3\r\nSET\r\n$5\r\nmykey\r\n$8\r\nmy value\r\n"
	assert.Equal(t, want, string(out.Bytes()))
	assert.Equal(t, len(want), n)
}

func TestRespNullBulkIsMiss(t *testing.T) {
	r := NewResp(&rxCounter{})
	in := netbuf.New()
	in.WriteString("$-1\r\n")

	var resp ports.Response
	resp.Found = true
	ok, err := r.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Done)
	assert.False(t, resp.Found)
}

func TestRespBulkIsHit(t *testing.T) {
	rx := &rxCounter{}
	r := NewResp(rx)
	in := netbuf.New()
	in.WriteString("$6\r\nfoobar\r\n")

	var resp ports.Response
	ok, err := r.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Done)
	assert.True(t, resp.Found)
	assert.Equal(t, 6, resp.ObjSize)
	assert.Equal(t, uint64(len("$6\r\nfoobar\r\n")), rx.n)
}

func TestRespSimpleAcks(t *testing.T) {
	for _, line := range []string{"+OK\r\n", ":1\r\n", "-ERR oops\r\n"} {
		t.Run(line[:1], func(t *testing.T) {
			r := NewResp(&rxCounter{})
			in := netbuf.New()
			in.WriteString(line)

			var resp ports.Response
			ok, err := r.HandleResponse(in, &resp)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, resp.Done)
			assert.True(t, resp.Found)
		})
	}
}

func TestRespBulkResumesAcrossReads(t *testing.T) {
	r := NewResp(&rxCounter{})
	in := netbuf.New()

	in.WriteString("$6\r\nfoo")
	var resp ports.Response
	ok, err := r.HandleResponse(in, &resp)
	require.NoError(t, err)
	assert.False(t, ok)

	in.WriteString("bar\r\n")
	ok, err = r.HandleResponse(in, &resp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, resp.Done)
	assert.Equal(t, 6, resp.ObjSize)
}

func TestRespByteAtATime(t *testing.T) {
	wire := "$5\r\nhello\r\n"
	r := NewResp(&rxCounter{})
	in := netbuf.New()

	var got *ports.Response
	for i := 0; i < len(wire); i++ {
		in.WriteString(wire[i : i+1])
		var resp ports.Response
		ok, err := r.HandleResponse(in, &resp)
		require.NoError(t, err)
		if ok {
			require.Nil(t, got, "frame completed twice")
			got = &resp
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, 5, got.ObjSize)
}

func TestRespMalformed(t *testing.T) {
	r := NewResp(&rxCounter{})
	in := netbuf.New()
	in.WriteString("?weird\r\n")

	var resp ports.Response
	_, err := r.HandleResponse(in, &resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))
}
