package app

import (
	"context"
	"fmt"
	"sync"
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

// runAgentMode hosts the reply socket and lets the master drive this
// process through the run.
func (a *Application) runAgentMode(ctx context.Context) error {
	handler := &agentRun{
		localMul: a.opts.LambdaMul,
		log:      a.log,
		appCtx:   ctx,
	}
	srv := agent.NewAgent(a.opts, a.log)
	if err := srv.Serve(ctx, handler); err != nil {
		return err
	}
	handler.teardown()
	a.log.Info("Agent run complete")
	return nil
}

// agentRun implements agent.Handler: it owns the workers on this host and
// starts and stops phases as the master's barriers land.
type agentRun struct {
	localMul int
	log      logger.StyledLogger
	appCtx   context.Context

	opts    *config.Options
	workers []*worker.Worker

	phaseCancel context.CancelFunc
	phaseGroup  *errgroup.Group
	phaseMu     sync.Mutex
}

func (r *agentRun) Configure(opts *config.Options) (int, error) {
	// The master's option block governs the run; only the lambda
	// multiplier stays local, since it encodes this host's share.
	r.opts = opts
	r.opts.LambdaMul = r.localMul
	return opts.Threads * r.localMul, nil
}

func (r *agentRun) SetServers(servers []string) {
	r.opts.Servers = servers
}

func (r *agentRun) SetDenominator(ctx context.Context, denom int) error {
	r.opts.DeriveLambda(denom)

	var traceQ worker.TraceQueue
	if r.opts.TraceMode() {
		q := trace.NewQueue(domain.TraceDialect(r.opts.TwitterTrace), trace.DefaultQueueDepth, r.log)
		go func() {
			if err := q.Produce(r.appCtx, r.opts.ReadFile); err != nil {
				r.log.Warn("Trace producer", "error", err)
			}
		}()
		traceQ = q
	}

	var itemLks *connection.ItemLockTable
	if r.opts.ItemLocks {
		itemLks = connection.NewItemLockTable(itemLockHashPower)
	}

	workers, err := buildWorkers(r.opts, traceQ, itemLks, stats.NewCollector(), r.log)
	if err != nil {
		return err
	}
	r.workers = workers

	// Agents never preload: the master owns cache population.
	return connectAll(ctx, workers)
}

// PhaseBarrier reacts to the master's three phase boundaries in order:
// warmup start, measurement start, measurement stop.
func (r *agentRun) PhaseBarrier(ctx context.Context, n int) error {
	switch n {
	case 0:
		if r.opts.Warmup > 0 {
			r.startPhase(time.Duration(r.opts.Warmup) * time.Second)
		}
		return nil
	case 1:
		r.stopPhase()
		for _, w := range r.workers {
			w.ResetStats()
		}
		var d time.Duration
		if boundedByTime(r.opts) {
			// Pad the local deadline; the master's stop barrier is the
			// authoritative end of measurement.
			d = time.Duration(r.opts.Time+5) * time.Second
		}
		r.startPhase(d)
		return nil
	case 2:
		r.stopPhase()
		return nil
	default:
		return fmt.Errorf("unexpected phase barrier %d", n)
	}
}

func (r *agentRun) startPhase(d time.Duration) {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()

	var phaseCtx context.Context
	var cancel context.CancelFunc
	if d > 0 {
		phaseCtx, cancel = context.WithTimeout(r.appCtx, d)
	} else {
		phaseCtx, cancel = context.WithCancel(r.appCtx)
	}
	r.phaseCancel = cancel

	g, gctx := errgroup.WithContext(phaseCtx)
	for _, w := range r.workers {
		g.Go(func() error { return w.Run(gctx) })
	}
	r.phaseGroup = g
}

func (r *agentRun) stopPhase() {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()

	if r.phaseCancel == nil {
		return
	}
	r.phaseCancel()
	if err := r.phaseGroup.Wait(); err != nil {
		r.log.Error("Phase ended with error", "error", err)
	}
	r.phaseCancel = nil
	r.phaseGroup = nil
}

func (r *agentRun) Stats() domain.AgentStats {
	agg := connection.NewStats(false)
	for _, w := range r.workers {
		agg.Accumulate(w.Stats())
	}
	return agg.AgentView()
}

func (r *agentRun) teardown() {
	r.stopPhase()
	for _, w := range r.workers {
		w.Close()
	}
}
