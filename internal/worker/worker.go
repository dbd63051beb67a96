// Package worker runs one measurement thread: it owns a set of connections,
// drives them through the load, warmup and measurement phases, and folds
// their stats when the phase ends. Connections never cross workers.
package worker

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kvblast/kvblast/internal/adapter/generator"
	"github.com/kvblast/kvblast/internal/adapter/protocol"
	"github.com/kvblast/kvblast/internal/adapter/stats"
	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/connection"
	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/internal/logger"
)

// TraceQueue is the subset of the trace feed a worker needs to hand each
// connection its own consumer view.
type TraceQueue interface {
	NewSource() ports.TraceSource
}

type Worker struct {
	id    int
	opts  *config.Options
	log   logger.StyledLogger
	coll  *stats.Collector
	conns []*connection.Conn
}

// New builds the worker's connections. Server assignment is striped (every
// worker talks to every server) unless --roundrobin gives each worker a
// single server.
func New(id int, opts *config.Options, traceQ TraceQueue, itemLks *connection.ItemLockTable, coll *stats.Collector, log logger.StyledLogger) (*Worker, error) {
	w := &Worker{id: id, opts: opts, log: log, coll: coll}

	servers := opts.Servers
	if opts.RoundRobin && len(servers) > 0 {
		servers = []string{opts.Servers[id%len(opts.Servers)]}
	}

	for _, server := range servers {
		for i := 0; i < opts.ConnectionsPerThread(); i++ {
			conn, err := w.buildConnection(server, traceQ, itemLks)
			if err != nil {
				return nil, err
			}
			w.conns = append(w.conns, conn)
		}
	}
	return w, nil
}

func (w *Worker) buildConnection(server string, traceQ TraceQueue, itemLks *connection.ItemLockTable) (*connection.Conn, error) {
	connStats := connection.NewStats(w.opts.SavePath != "")
	connStats.AttachCollector(w.coll)

	kind := protocol.KindAscii
	switch {
	case w.opts.Binary:
		kind = protocol.KindBinary
	case w.opts.Redis:
		kind = protocol.KindResp
	}
	proto, err := protocol.New(protocol.Config{
		Kind:     kind,
		SASL:     w.opts.SASL,
		Username: w.opts.Username,
		Password: w.opts.Password,
	}, connStats)
	if err != nil {
		return nil, err
	}

	var iagen ports.Generator
	if w.opts.Lambda > 0 {
		iagen, err = generator.New(w.opts.IADist)
		if err != nil {
			return nil, fmt.Errorf("iadist: %w", err)
		}
	} else {
		// Peak-rate mode: no pacing gap at all.
		iagen = &generator.Fixed{Value: 0}
	}

	valgen, err := generator.New(w.opts.ValueSize)
	if err != nil {
		return nil, fmt.Errorf("valuesize: %w", err)
	}
	keysize, err := generator.New(w.opts.KeySize)
	if err != nil {
		return nil, fmt.Errorf("keysize: %w", err)
	}

	var tracer ports.TraceSource
	if traceQ != nil {
		tracer = traceQ.NewSource()
	}

	return connection.New(w.opts, server, connection.Deps{
		Proto:     proto,
		IAGen:     iagen,
		ValueGen:  valgen,
		KeyGen:    generator.NewKeyGen(keysize, w.opts.Records),
		Tracer:    tracer,
		ItemLks:   itemLks,
		Stats:     connStats,
		Collector: w.coll,
		Logger:    w.log,
	}), nil
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) Connections() []*connection.Conn { return w.conns }

// Connect brings every connection up to IDLE, including any SASL handshake.
func (w *Worker) Connect(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range w.conns {
		g.Go(func() error { return c.Connect(gctx) })
	}
	return g.Wait()
}

// Load runs the bulk preload on this worker's first connection per server.
func (w *Worker) Load(ctx context.Context) error {
	seen := make(map[string]bool, len(w.conns))
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range w.conns {
		if seen[c.Server()] {
			continue
		}
		seen[c.Server()] = true
		g.Go(func() error { return c.Load(gctx) })
	}
	return g.Wait()
}

// ResetStats drops phase counters on every connection, for the warmup to
// measurement boundary.
func (w *Worker) ResetStats() {
	for _, c := range w.conns {
		c.ResetStats()
	}
}

// Run drives all connections until the phase context ends or each
// connection's own exit condition holds.
func (w *Worker) Run(ctx context.Context) error {
	if w.opts.Affinity {
		pinThread(w.id)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range w.conns {
		g.Go(func() error { return c.Run(gctx) })
	}
	return g.Wait()
}

// Close tears down every socket.
func (w *Worker) Close() {
	for _, c := range w.conns {
		_ = c.Close()
	}
}

// Stats folds every connection's counters into one thread-level view.
func (w *Worker) Stats() *connection.Stats {
	agg := connection.NewStats(w.opts.SavePath != "")
	for _, c := range w.conns {
		agg.Accumulate(c.Stats())
	}
	return agg
}
