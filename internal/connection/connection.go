// Package connection implements the per-connection request pacing state
// machine: an open-loop client that emits requests on a configurable
// inter-arrival schedule, bounds outstanding requests to a pipeline depth
// and records per-operation latency.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"time"

	"github.com/kvblast/kvblast/internal/adapter/stats"
	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/internal/logger"
	"github.com/kvblast/kvblast/pkg/netbuf"
	"github.com/kvblast/kvblast/pkg/pool"
)

type writeState int

const (
	initWrite writeState = iota
	waitingForTime
	issuing
	waitingForOpq
)

type readState int

const (
	initRead readState = iota
	connSetup
	loading
	idle
	waitingForGet
	waitingForSet
	waitingForDelete
)

const (
	// loaderChunk is the preload issue window.
	loaderChunk = 64

	// moderateGap is the minimum last-rx to next-issue gap under --moderate.
	moderateGap = 250 * time.Microsecond

	// skipThreshold and skipFloor bound the open-loop schedule debt under
	// --skip: once next_time falls more than skipThreshold behind real time
	// with a full pipeline, tx credits are dropped until the schedule is
	// within skipFloor of now.
	skipThreshold = 5 * time.Millisecond
	skipFloor     = 4 * time.Millisecond

	// Unix socket connects race the server's accept backlog at startup.
	unixConnectAttempts = 10000

	readChunkSize = 64 * 1024
)

// Read buffers cycle between the reader pump and the event loop instead of
// being reallocated per read.
var readBufPool = pool.NewLitePool(func() []byte {
	return make([]byte, readChunkSize)
})

// Conn drives one TCP or Unix-domain connection to a cache server. It is
// owned by exactly one goroutine; none of its methods are safe for
// concurrent use.
type Conn struct {
	id   uint32
	opts *config.Options
	log  logger.StyledLogger

	server string
	sock   net.Conn
	proto  ports.Protocol

	in  *netbuf.Buffer
	out *netbuf.Buffer

	readCh  chan []byte
	readErr error

	opq   *opQueue
	stats *Stats
	coll  *stats.Collector

	iagen   ports.Generator
	valgen  ports.Generator
	keygen  ports.KeyGenerator
	tracer  ports.TraceSource
	itemLks *ItemLockTable

	timer      *time.Timer
	timerArmed bool

	wstate writeState
	rstate readState

	startTime time.Time
	nextTime  time.Time
	lastTx    time.Time
	lastRx    time.Time

	loaderIssued    uint64
	loaderCompleted uint64

	eof  bool
	dead bool
}

// Deps carries the collaborators a connection needs; the worker wires them.
type Deps struct {
	Proto     ports.Protocol
	IAGen     ports.Generator
	ValueGen  ports.Generator
	KeyGen    ports.KeyGenerator
	Tracer    ports.TraceSource
	ItemLks   *ItemLockTable
	Stats     *Stats
	Collector *stats.Collector
	Logger    logger.StyledLogger
}

func New(opts *config.Options, server string, deps Deps) *Conn {
	if opts.Lambda > 0 {
		deps.IAGen.SetLambda(opts.Lambda)
	}
	c := &Conn{
		id:      nextConnID(),
		opts:    opts,
		log:     deps.Logger,
		server:  server,
		proto:   deps.Proto,
		in:      netbuf.New(),
		out:     netbuf.New(),
		readCh:  make(chan []byte, 16),
		opq:     newOpQueue(deps.Proto.Ordered(), opts.Depth),
		stats:   deps.Stats,
		iagen:   deps.IAGen,
		valgen:  deps.ValueGen,
		keygen:  deps.KeyGen,
		tracer:  deps.Tracer,
		itemLks: deps.ItemLks,
		coll:    deps.Collector,
		wstate:  initWrite,
		rstate:  initRead,
	}
	c.timer = time.NewTimer(time.Hour)
	c.disarmTimer()
	return c
}

func (c *Conn) ID() uint32     { return c.id }
func (c *Conn) Stats() *Stats  { return c.stats }
func (c *Conn) Server() string { return c.server }
func (c *Conn) EOF() bool      { return c.eof }
func (c *Conn) Dead() bool     { return c.dead }

// Connect dials the server, starts the reader pump and completes the
// protocol handshake (SASL for binary). On return the connection is IDLE.
func (c *Conn) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}

	go c.readPump()

	c.rstate = connSetup
	if c.proto.SetupConnectionW(c.out) {
		c.rstate = idle
	}
	if err := c.flush(); err != nil {
		return err
	}

	for c.rstate == connSetup {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-c.readCh:
			if !ok {
				return fmt.Errorf("connection %d to %s: %w", c.id, c.server, domain.ErrUnexpectedEOF)
			}
			c.in.Write(chunk)
			c.recycle(chunk)
			done, err := c.proto.SetupConnectionR(c.in)
			if err != nil {
				return err
			}
			if done {
				c.rstate = idle
			}
		}
	}

	c.log.Debug("Connected", "conn", c.id, "server", c.server)
	return nil
}

func (c *Conn) dial(ctx context.Context) error {
	var d net.Dialer
	if c.opts.UnixSocket {
		// The path rides in the server argument. Local servers drop
		// connects while their accept queue churns at startup; retry with
		// a short random backoff.
		var lastErr error
		for i := 0; i < unixConnectAttempts; i++ {
			sock, err := d.DialContext(ctx, "unix", c.server)
			if err == nil {
				c.sock = sock
				return nil
			}
			lastErr = err
			time.Sleep(time.Duration(rand.IntN(10)) * time.Microsecond)
		}
		return fmt.Errorf("connect %s: %w", c.server, lastErr)
	}

	sock, err := d.DialContext(ctx, "tcp", c.server)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.server, err)
	}
	if tc, ok := sock.(*net.TCPConn); ok && !c.opts.NoNodelay {
		if err := tc.SetNoDelay(true); err != nil {
			sock.Close()
			return fmt.Errorf("set nodelay on %s: %w", c.server, err)
		}
	}
	c.sock = sock
	return nil
}

// readPump moves socket bytes onto the connection's event channel. It is
// the only other goroutine that touches the socket, and only for reads.
func (c *Conn) readPump() {
	defer close(c.readCh)
	for {
		buf := readBufPool.Get()
		n, err := c.sock.Read(buf)
		if n > 0 {
			c.readCh <- buf[:n]
		} else {
			readBufPool.Put(buf)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.readErr = err
			}
			return
		}
	}
}

// recycle returns a pump buffer to the pool once its bytes are copied into
// the framing buffer.
func (c *Conn) recycle(chunk []byte) {
	readBufPool.Put(chunk[:cap(chunk)])
}

// Close tears the socket down; the reader pump exits on its own.
func (c *Conn) Close() error {
	if c.sock == nil {
		return nil
	}
	return c.sock.Close()
}

// Reset returns the connection to a fresh pre-run state for the next scan
// or search step. The socket stays up.
func (c *Conn) Reset() {
	c.opq.Drain()
	c.disarmTimer()
	c.rstate = idle
	c.wstate = initWrite
	c.eof = false
	c.stats.Reset()
}

// ResetStats discards warmup-phase numbers at the measurement boundary.
func (c *Conn) ResetStats() {
	c.stats.Reset()
}

// Load issues the bulk preload: records SETs spanning the key space,
// loaderChunk at a time. Loading bypasses tx accounting and latency
// sampling.
func (c *Conn) Load(ctx context.Context) error {
	c.rstate = loading
	c.loaderIssued = 0
	c.loaderCompleted = 0

	c.loaderRefill()
	if err := c.flush(); err != nil {
		return err
	}

	for c.loaderCompleted < c.opts.Records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-c.readCh:
			if !ok {
				return c.transportDown()
			}
			c.in.Write(chunk)
			c.recycle(chunk)
			if err := c.consumeLoaderResponses(); err != nil {
				return err
			}
			if err := c.flush(); err != nil {
				return err
			}
		}
	}

	c.rstate = idle
	c.log.Debug("Finished loading", "conn", c.id, "records", c.loaderCompleted)
	return nil
}

func (c *Conn) loaderRefill() {
	for c.loaderIssued < c.loaderCompleted+loaderChunk && c.loaderIssued < c.opts.Records {
		key := c.opts.Prefix + c.keygen.Generate(c.loaderIssued)
		vl := int(c.valgen.Generate())
		if vl < 1 {
			vl = 1
		}
		c.issueSet(key, vl, false)
		c.loaderIssued++
	}
}

func (c *Conn) consumeLoaderResponses() error {
	for {
		var resp ports.Response
		resp.Found = true
		ok, err := c.proto.HandleResponse(c.in, &resp)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		op := c.opq.Lookup(resp.Opaque)
		if op == nil {
			return &domain.ErrUnknownOpaque{Opaque: resp.Opaque}
		}
		c.opq.Remove(op)
		c.loaderCompleted++
		c.loaderRefill()
		if c.loaderCompleted == c.opts.Records {
			return nil
		}
	}
}

// Run drives the pacing machine until the phase context expires or the
// exit condition holds.
func (c *Conn) Run(ctx context.Context) error {
	now := time.Now()
	c.startTime = now
	c.stats.Start = now
	defer func() {
		c.stats.Stop = time.Now()
	}()

	c.wstate = initWrite
	c.driveWriteMachine(time.Now())
	if err := c.flush(); err != nil {
		return err
	}

	for !c.exitCondition(time.Now()) {
		select {
		case <-ctx.Done():
			return nil
		case <-c.timer.C:
			c.timerArmed = false
			c.driveWriteMachine(time.Now())
		case chunk, ok := <-c.readCh:
			if !ok {
				return c.transportDown()
			}
			c.in.Write(chunk)
			c.recycle(chunk)
			if err := c.readCallback(); err != nil {
				return err
			}
			c.driveWriteMachine(time.Now())
		}
		if err := c.flush(); err != nil {
			return err
		}
	}
	return nil
}

// exitCondition mirrors the run-bounding rules: trace runs end at EOF (or
// the wall clock under the bounded-time guard), synthetic runs end on the
// access bound; the wall-clock-only case is handled by the phase context.
func (c *Conn) exitCondition(now time.Time) bool {
	if c.dead {
		return true
	}
	if c.opts.TraceMode() {
		if c.eof {
			return true
		}
		if c.opts.Queries == 1 && now.After(c.startTime.Add(time.Duration(c.opts.Time)*time.Second)) {
			return true
		}
		return false
	}
	if c.opts.Queries != 0 && c.stats.Accesses >= uint64(c.opts.Queries) {
		return true
	}
	return false
}

// transportDown handles an unexpected close or socket error: log it, stop
// issuing, abandon outstanding ops. Other connections proceed.
func (c *Conn) transportDown() error {
	c.dead = true
	if c.readErr != nil {
		c.log.ErrorWithServer("Transport error from", c.server, "conn", c.id, "error", c.readErr)
	} else {
		c.log.ErrorWithServer("Unexpected EOF from", c.server, "conn", c.id)
	}
	c.opq.Drain()
	return nil
}

func (c *Conn) flush() error {
	if c.out.Len() == 0 {
		return nil
	}
	_, err := c.sock.Write(c.out.Bytes())
	c.out.Reset()
	if err != nil {
		c.dead = true
		c.log.ErrorWithServer("Write failed to", c.server, "conn", c.id, "error", err)
	}
	return nil
}

func (c *Conn) armTimer(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.disarmTimer()
	c.timer.Reset(d)
	c.timerArmed = true
}

func (c *Conn) disarmTimer() {
	if !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
	c.timerArmed = false
}

// driveWriteMachine advances the write-side state machine. It loops until
// the machine blocks on time (timer armed) or on pipeline space.
func (c *Conn) driveWriteMachine(now time.Time) {
	if c.dead {
		return
	}

	for {
		switch c.wstate {
		case initWrite:
			delay := c.interArrival()
			c.nextTime = now.Add(delay)
			c.armTimer(delay)
			c.wstate = waitingForTime

		case waitingForTime:
			if now.Before(c.nextTime) {
				if !c.timerArmed {
					c.armTimer(c.nextTime.Sub(now))
				}
				return
			}
			c.wstate = issuing

		case issuing:
			if c.opq.Len() >= c.opts.Depth {
				c.wstate = waitingForOpq
				return
			}
			if now.Before(c.nextTime) {
				c.wstate = waitingForTime
				continue
			}
			if c.opts.Moderate && now.Before(c.lastRx.Add(moderateGap)) {
				c.armTimer(c.lastRx.Add(moderateGap).Sub(now))
				return
			}

			if c.issueNext(now) {
				// Trace exhausted; nothing further will be issued.
				return
			}

			c.lastTx = now
			c.stats.LogOpQueue(c.opq.Len())
			c.nextTime = c.nextTime.Add(c.interArrival())

			if c.opts.Skip && c.opts.QPS > 0 &&
				now.Sub(c.nextTime) > skipThreshold &&
				c.opq.Len() >= c.opts.Depth {
				floor := now.Add(-skipFloor)
				var dropped int64
				for c.nextTime.Before(floor) {
					c.stats.Skips++
					dropped++
					c.nextTime = c.nextTime.Add(c.interArrival())
				}
				if c.coll != nil && dropped > 0 {
					c.coll.RecordSkips(dropped)
				}
			}

		case waitingForOpq:
			if c.opq.Len() >= c.opts.Depth {
				return
			}
			c.wstate = issuing
		}
	}
}

func (c *Conn) interArrival() time.Duration {
	return time.Duration(c.iagen.Generate() * float64(time.Second))
}
