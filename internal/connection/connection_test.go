package connection

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvblast/kvblast/internal/adapter/generator"
	"github.com/kvblast/kvblast/internal/adapter/protocol"
	"github.com/kvblast/kvblast/internal/config"
)

// fakeServer is a scripted cache endpoint on loopback.
type fakeServer struct {
	ln net.Listener
}

func newFakeServer(t *testing.T, handle func(conn net.Conn)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return &fakeServer{ln: ln}
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func newTestConn(t *testing.T, opts *config.Options, server string) *Conn {
	t.Helper()

	stats := NewStats(false)
	kind := protocol.KindAscii
	if opts.Binary {
		kind = protocol.KindBinary
	}
	proto, err := protocol.New(protocol.Config{Kind: kind}, stats)
	require.NoError(t, err)

	keysize, err := generator.New("10")
	require.NoError(t, err)

	return New(opts, server, Deps{
		Proto:    proto,
		IAGen:    &generator.Fixed{Value: 0},
		ValueGen: &generator.Fixed{Value: 128},
		KeyGen:   generator.NewKeyGen(keysize, opts.Records),
		Stats:    stats,
		Logger:   testLogger(),
	})
}

func TestConnAsciiGetHit(t *testing.T) {
	srv := newFakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		if err != nil || !strings.HasPrefix(line, "get ") {
			return
		}
		conn.Write([]byte("VALUE k 0 3\r\nabc\r\nEND\r\n"))
		time.Sleep(100 * time.Millisecond)
	})

	opts := config.Defaults()
	opts.Queries = 2
	opts.Update = 0
	c := newTestConn(t, opts, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Run(ctx))

	s := c.Stats()
	assert.Equal(t, uint64(1), s.Gets)
	assert.Zero(t, s.GetMisses)
	assert.Equal(t, uint64(1), s.GetSampler.Count(), "latency recorded exactly once")
	assert.Equal(t, uint64(len("VALUE k 0 3\r\nabc\r\nEND\r\n")), s.RxBytes)
	assert.False(t, s.Stop.Before(s.Start))
}

func TestConnAsciiGetMissWithGetset(t *testing.T) {
	type setReq struct {
		key string
		n   int
	}
	gotSet := make(chan setReq, 1)

	srv := newFakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		line, err := r.ReadString('\n')
		if err != nil || !strings.HasPrefix(line, "get ") {
			return
		}
		conn.Write([]byte("END\r\n"))

		// The miss must be followed by a SET of the same key.
		line, err = r.ReadString('\n')
		if err != nil {
			return
		}
		var key string
		var flags, exp, n int
		if _, err := fmt.Sscanf(line, "set %s %d %d %d", &key, &flags, &exp, &n); err != nil {
			return
		}
		if _, err := io.CopyN(io.Discard, r, int64(n)+2); err != nil {
			return
		}
		gotSet <- setReq{key: key, n: n}
		conn.Write([]byte("STORED\r\n"))
		time.Sleep(100 * time.Millisecond)
	})

	opts := config.Defaults()
	opts.GetSet = true
	opts.Queries = 2
	c := newTestConn(t, opts, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Run(ctx))

	s := c.Stats()
	assert.Equal(t, uint64(1), s.GetMisses)
	assert.LessOrEqual(t, s.GetMisses, s.Gets)

	select {
	case req := <-gotSet:
		assert.Equal(t, 128, req.n, "miss-fill uses the requested value length")
	default:
		t.Fatal("miss was not followed by a SET")
	}
}

func TestConnBinaryMissFillSharesOpaqueKey(t *testing.T) {
	type issued struct {
		opcode byte
		key    string
		bodyN  int
	}
	reqs := make(chan issued, 4)

	srv := newFakeServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for {
			hdr := make([]byte, 24)
			if _, err := io.ReadFull(r, hdr); err != nil {
				return
			}
			keyLen := int(binary.BigEndian.Uint16(hdr[2:4]))
			extras := int(hdr[4])
			bodyLen := int(binary.BigEndian.Uint32(hdr[8:12]))
			opaque := binary.BigEndian.Uint32(hdr[12:16])

			body := make([]byte, bodyLen)
			if _, err := io.ReadFull(r, body); err != nil {
				return
			}
			key := string(body[extras : extras+keyLen])
			reqs <- issued{opcode: hdr[1], key: key, bodyN: bodyLen - extras - keyLen}

			if hdr[1] == 0x00 {
				// GET: respond with a miss, opaque echoed.
				resp := make([]byte, 24)
				resp[0] = 0x81
				binary.BigEndian.PutUint16(resp[6:8], 0x0001)
				binary.BigEndian.PutUint32(resp[12:16], opaque)
				conn.Write(resp)
			} else {
				resp := make([]byte, 24)
				resp[0] = 0x81
				resp[1] = hdr[1]
				binary.BigEndian.PutUint32(resp[12:16], opaque)
				conn.Write(resp)
			}
		}
	})

	opts := config.Defaults()
	opts.Binary = true
	opts.GetSet = true
	opts.Queries = 2
	c := newTestConn(t, opts, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Run(ctx))

	s := c.Stats()
	assert.Equal(t, uint64(1), s.GetMisses)
	assert.Equal(t, uint64(1), s.GetSampler.Count(), "the fill SET must not land in the get sampler")

	get := <-reqs
	require.Equal(t, byte(0x00), get.opcode)
	set := <-reqs
	assert.Equal(t, byte(0x01), set.opcode)
	assert.Equal(t, get.key, set.key, "miss-fill reuses the missed key")
	assert.Equal(t, 128, set.bodyN)
}

func TestConnServerCloseStopsIssuing(t *testing.T) {
	srv := newFakeServer(t, func(conn net.Conn) {
		// Take one request, then slam the door.
		buf := make([]byte, 64)
		conn.Read(buf)
	})

	opts := config.Defaults()
	opts.Update = 0
	c := newTestConn(t, opts, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Run(ctx))

	assert.True(t, c.Dead())
	// Abandoned ops contribute no latency samples.
	assert.Zero(t, c.Stats().GetSampler.Count())
}

func TestConnLoader(t *testing.T) {
	var stored int
	done := make(chan struct{})
	srv := newFakeServer(t, func(conn net.Conn) {
		defer close(done)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			var key string
			var flags, exp, n int
			if _, err := fmt.Sscanf(line, "set %s %d %d %d", &key, &flags, &exp, &n); err != nil {
				return
			}
			if _, err := io.CopyN(io.Discard, r, int64(n)+2); err != nil {
				return
			}
			stored++
			conn.Write([]byte("STORED\r\n"))
			if stored == 100 {
				return
			}
		}
	})

	opts := config.Defaults()
	opts.Records = 100
	c := newTestConn(t, opts, srv.addr())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	defer c.Close()
	require.NoError(t, c.Load(ctx))

	<-done
	assert.Equal(t, 100, stored)
	s := c.Stats()
	assert.Zero(t, s.TxBytes, "loading bypasses tx accounting")
	assert.Zero(t, s.SetSampler.Count(), "loading is not latency-sampled")
}
