package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kvblast/kvblast/internal/adapter/stats"
	"github.com/kvblast/kvblast/internal/adapter/trace"
	"github.com/kvblast/kvblast/internal/agent"
	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/connection"
	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/logger"
	"github.com/kvblast/kvblast/internal/worker"
)

// runOnce performs one full measurement at the given target qps and
// returns the folded stats, or nil for a load-only run.
func (a *Application) runOnce(ctx context.Context, qps int) (*connection.Stats, error) {
	opts := *a.opts
	opts.QPS = qps

	var master *agent.Master
	ownCount := opts.TotalConnections()

	if len(opts.Agents) > 0 {
		master = agent.NewMaster(&opts, a.log)
		defer master.Close()

		denom, err := master.Recruit(ctx, ownCount)
		if err != nil {
			return nil, err
		}
		opts.DeriveLambda(denom)
		a.log.InfoWithCount("Agents recruited", master.AgentCount(), "lambda_denom", denom)

		// The master may measure with a lighter footprint than the load it
		// asked the fleet to generate.
		if opts.MeasureConnections > 0 {
			opts.Conns = opts.MeasureConnections
		}
		if opts.MeasureDepth > 0 {
			opts.Depth = opts.MeasureDepth
		}
		if opts.MeasureQPS > 0 {
			opts.Lambda = float64(opts.MeasureQPS) / float64(opts.TotalConnections())
		}
	} else {
		opts.DeriveLambda(ownCount)
	}

	traceQ, traceDone, err := a.startTrace(ctx, &opts)
	if err != nil {
		return nil, err
	}

	coll := stats.NewCollector()
	workers, err := buildWorkers(&opts, traceQ, a.itemLockTable(), coll, a.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, w := range workers {
			w.Close()
		}
	}()

	if err := connectAll(ctx, workers); err != nil {
		return nil, err
	}
	a.log.InfoWithCount("Connections established", len(workers)*len(workers[0].Connections()))

	if !opts.NoLoad && !opts.TraceMode() {
		loadStart := time.Now()
		if err := workers[0].Load(ctx); err != nil {
			return nil, fmt.Errorf("preload: %w", err)
		}
		a.log.Info("Preload complete", "records", opts.Records, "elapsed", time.Since(loadStart).Round(time.Millisecond))
	}
	if opts.LoadOnly {
		return nil, nil
	}

	if opts.Wait > 0 {
		a.log.Info("Waiting before measurement", "seconds", opts.Wait)
		select {
		case <-time.After(time.Duration(opts.Wait) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Barrier 1: warmup start.
	if err := barrier(ctx, master); err != nil {
		return nil, err
	}
	if opts.Warmup > 0 {
		a.log.Info("Warmup", "seconds", opts.Warmup)
		if err := runPhase(ctx, workers, time.Duration(opts.Warmup)*time.Second); err != nil {
			return nil, err
		}
		for _, w := range workers {
			w.ResetStats()
		}
	}

	// Barrier 2: measurement start.
	if err := barrier(ctx, master); err != nil {
		return nil, err
	}
	a.log.Info("Measurement started", "qps", qps, "lambda", opts.Lambda, "time", opts.Time)
	coll.Reset()
	stopProgress := a.logProgress(ctx, coll)
	defer stopProgress()

	var phaseLen time.Duration
	if boundedByTime(&opts) {
		phaseLen = time.Duration(opts.Time) * time.Second
	}
	if err := runPhase(ctx, workers, phaseLen); err != nil {
		return nil, err
	}

	// Barrier 3: measurement stop.
	if err := barrier(ctx, master); err != nil {
		return nil, err
	}

	folded := connection.NewStats(opts.SavePath != "")
	for _, w := range workers {
		folded.Accumulate(w.Stats())
	}
	if master != nil {
		agentStats, err := master.CollectStats(ctx)
		if err != nil {
			return nil, err
		}
		folded.AccumulateAgent(agentStats)
	}

	if traceDone != nil {
		select {
		case err := <-traceDone:
			if err != nil && err != context.Canceled {
				a.log.Warn("Trace producer", "error", err)
			}
		default:
		}
	}

	return folded, nil
}

// boundedByTime reports whether the measurement phase needs a wall-clock
// deadline: synthetic runs without an access bound, and trace runs under
// the bounded-time guard.
func boundedByTime(opts *config.Options) bool {
	if opts.TraceMode() {
		return opts.Queries == 1
	}
	return opts.Queries == 0
}

func buildWorkers(opts *config.Options, traceQ worker.TraceQueue, itemLks *connection.ItemLockTable, coll *stats.Collector, log logger.StyledLogger) ([]*worker.Worker, error) {
	workers := make([]*worker.Worker, 0, opts.Threads)
	for i := 0; i < opts.Threads; i++ {
		w, err := worker.New(i, opts, traceQ, itemLks, coll, log)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

func connectAll(ctx context.Context, workers []*worker.Worker) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.Connect(gctx) })
	}
	return g.Wait()
}

// runPhase drives every worker until the phase deadline (if any) or until
// every connection's own exit condition holds.
func runPhase(ctx context.Context, workers []*worker.Worker, d time.Duration) error {
	phaseCtx := ctx
	var cancel context.CancelFunc
	if d > 0 {
		phaseCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	g, gctx := errgroup.WithContext(phaseCtx)
	for _, w := range workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	return g.Wait()
}

func barrier(ctx context.Context, master *agent.Master) error {
	if master == nil {
		return nil
	}
	return master.Barrier(ctx)
}

// startTrace spins up the shared trace producer when trace mode is on.
func (a *Application) startTrace(ctx context.Context, opts *config.Options) (worker.TraceQueue, chan error, error) {
	if !opts.TraceMode() {
		return nil, nil, nil
	}

	dialect := domain.TraceDialect(opts.TwitterTrace)
	q := trace.NewQueue(dialect, trace.DefaultQueueDepth, a.log)
	done := make(chan error, 1)
	go func() {
		done <- q.Produce(ctx, opts.ReadFile)
	}()
	return q, done, nil
}
