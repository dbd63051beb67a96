// Package app wires the run together: resolve targets, spin up workers,
// coordinate agents, walk the load/warmup/measurement phases and render
// the final report.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/connection"
	"github.com/kvblast/kvblast/internal/logger"
)

type Application struct {
	opts      *config.Options
	log       logger.StyledLogger
	runID     xid.ID
	startTime time.Time
}

func New(opts *config.Options, log logger.StyledLogger, startTime time.Time) *Application {
	return &Application{
		opts:      opts,
		log:       log,
		runID:     xid.New(),
		startTime: startTime,
	}
}

// Run executes the configured mode: remote agent, qps scan, latency-target
// search, or a single measurement run.
func (a *Application) Run(ctx context.Context) error {
	if a.opts.AgentMode {
		return a.runAgentMode(ctx)
	}

	if err := a.resolveServers(); err != nil {
		return err
	}

	a.log.Info("Run starting", "run_id", a.runID.String(), "protocol", a.protocolName())
	if a.opts.Verbose > 0 {
		if y, err := a.opts.YAML(); err == nil {
			a.log.Debug("Effective options\n" + y)
		}
	}

	switch {
	case a.opts.Scan != "":
		return a.runScan(ctx)
	case a.opts.Search != "":
		return a.runSearch(ctx)
	default:
		stats, err := a.runOnce(ctx, a.opts.QPS)
		if err != nil {
			return err
		}
		if stats != nil {
			a.report(stats)
			if err := a.writeSaveFile(stats); err != nil {
				return err
			}
		}
		return nil
	}
}

func (a *Application) protocolName() string {
	switch {
	case a.opts.Binary:
		return "binary"
	case a.opts.Redis:
		return "resp"
	default:
		return "ascii"
	}
}

// resolveServers fails fast on DNS errors; a misspelt host should not get
// as far as opening sockets.
func (a *Application) resolveServers() error {
	if a.opts.UnixSocket {
		return nil
	}
	for _, server := range a.opts.Servers {
		host, _, err := net.SplitHostPort(server)
		if err != nil {
			return fmt.Errorf("server %q: %w", server, err)
		}
		if _, err := net.LookupHost(host); err != nil {
			return fmt.Errorf("resolve %s: %w", host, err)
		}
	}
	return nil
}

// itemLockHashPower sizes the optional cross-connection key lock table.
const itemLockHashPower = 13

func (a *Application) itemLockTable() *connection.ItemLockTable {
	if !a.opts.ItemLocks {
		return nil
	}
	return connection.NewItemLockTable(itemLockHashPower)
}
