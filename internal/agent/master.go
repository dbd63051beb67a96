package agent

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/logger"
)

// Master drives the agent fleet from the measuring host. One socket per
// agent; every exchange is request-initiated from this side.
type Master struct {
	opts     *config.Options
	log      logger.StyledLogger
	sessions []*session
}

type session struct {
	addr    string
	conn    net.Conn
	threads uint32
}

func NewMaster(opts *config.Options, log logger.StyledLogger) *Master {
	return &Master{opts: opts, log: log}
}

// Recruit connects to every configured agent, ships the options and
// servers, and computes the shared lambda denominator from the returned
// weighted thread counts plus the master's own contribution. Both sides
// then derive lambda = qps / lambda_denom x lambda_mul.
func (m *Master) Recruit(ctx context.Context, ownCount int) (int, error) {
	var d net.Dialer
	for _, host := range m.opts.Agents {
		addr := fmt.Sprintf("%s:%d", host, m.opts.AgentPort)
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return 0, fmt.Errorf("enlist agent %s: %w", addr, err)
		}
		m.sessions = append(m.sessions, &session{addr: addr, conn: conn})
	}

	denom := ownCount
	for _, s := range m.sessions {
		if err := writeMessage(s.conn, &message{Kind: kindOptions, Options: m.opts}); err != nil {
			return 0, err
		}
		reply, err := expect(s.conn, kindThreads)
		if err != nil {
			return 0, fmt.Errorf("agent %s: %w", s.addr, err)
		}
		s.threads = reply.Number
		denom += int(reply.Number)

		for _, server := range m.opts.Servers {
			if err := writeMessage(s.conn, &message{Kind: kindServer, Text: server}); err != nil {
				return 0, err
			}
			if _, err := expect(s.conn, kindAck); err != nil {
				return 0, fmt.Errorf("agent %s: %w", s.addr, err)
			}
		}

		m.log.InfoWithServer("Enlisted agent", s.addr, "weighted_threads", s.threads)
	}

	for _, s := range m.sessions {
		if err := writeMessage(s.conn, &message{Kind: kindDenom, Number: uint32(denom)}); err != nil {
			return 0, err
		}
		if _, err := expect(s.conn, kindThanks); err != nil {
			return 0, fmt.Errorf("agent %s: %w", s.addr, err)
		}
	}

	return denom, nil
}

// Barrier runs one four-message phase barrier across every agent: sync_req
// out, sync back, proceed out, ack back. Used at warmup start, measurement
// start and measurement stop.
func (m *Master) Barrier(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, s := range m.sessions {
		g.Go(func() error {
			if err := writeMessage(s.conn, &message{Kind: kindSyncReq}); err != nil {
				return err
			}
			if _, err := expect(s.conn, kindSync); err != nil {
				return fmt.Errorf("agent %s: %w", s.addr, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, _ = errgroup.WithContext(ctx)
	for _, s := range m.sessions {
		g.Go(func() error {
			if err := writeMessage(s.conn, &message{Kind: kindProceed}); err != nil {
				return err
			}
			if _, err := expect(s.conn, kindSyncAck); err != nil {
				return fmt.Errorf("agent %s: %w", s.addr, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// CollectStats pulls every agent's counters and folds them together.
func (m *Master) CollectStats(ctx context.Context) (domain.AgentStats, error) {
	var total domain.AgentStats
	for _, s := range m.sessions {
		if err := writeMessage(s.conn, &message{Kind: kindStatsReq}); err != nil {
			return total, err
		}
		reply, err := expect(s.conn, kindStats)
		if err != nil {
			return total, fmt.Errorf("agent %s: %w", s.addr, err)
		}
		if reply.Stats == nil {
			return total, fmt.Errorf("agent %s: stats frame without payload", s.addr)
		}
		total.Accumulate(*reply.Stats)
	}
	return total, nil
}

// Close drops every agent session.
func (m *Master) Close() {
	for _, s := range m.sessions {
		_ = s.conn.Close()
	}
}

// AgentCount reports how many agents were recruited.
func (m *Master) AgentCount() int { return len(m.sessions) }
