package agent

import (
	"context"
	"fmt"
	"net"

	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/logger"
)

// Handler is the run-side half an agent process plugs into the protocol:
// it owns the workers and reacts to the master's phase boundaries.
type Handler interface {
	// Configure receives the master's options and returns this agent's
	// weighted thread count (threads x lambda_mul). The server list
	// follows separately.
	Configure(opts *config.Options) (int, error)
	// SetServers delivers the target list once enrollment completes.
	SetServers(servers []string)
	// SetDenominator delivers the fleet-wide lambda denominator; the agent
	// derives its per-connection lambda and brings its connections up.
	SetDenominator(ctx context.Context, denom int) error
	// PhaseBarrier fires once per barrier in order: warmup start,
	// measurement start, measurement stop.
	PhaseBarrier(ctx context.Context, n int) error
	// Stats returns the agent's folded counters after measurement stop.
	Stats() domain.AgentStats
}

// Agent hosts the reply socket the master drives. One master, one session.
type Agent struct {
	opts *config.Options
	log  logger.StyledLogger
}

func NewAgent(opts *config.Options, log logger.StyledLogger) *Agent {
	return &Agent{opts: opts, log: log}
}

// Serve accepts one master session and walks the fixed handshake sequence.
// Any deviation is fatal to the run.
func (a *Agent) Serve(ctx context.Context, handler Handler) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.opts.AgentPort))
	if err != nil {
		return fmt.Errorf("agent listen: %w", err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	a.log.Info("Agent awaiting master", "port", a.opts.AgentPort)
	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("agent accept: %w", err)
	}
	defer conn.Close()

	return a.serveSession(ctx, conn, handler)
}

func (a *Agent) serveSession(ctx context.Context, conn net.Conn, handler Handler) error {
	optMsg, err := expect(conn, kindOptions)
	if err != nil {
		return err
	}
	if optMsg.Options == nil {
		return fmt.Errorf("options frame without payload")
	}
	runOpts := optMsg.Options
	// The master's listening surface does not apply to this process.
	runOpts.AgentMode = false
	runOpts.Agents = nil

	var servers []string
	weighted, err := handler.Configure(runOpts)
	if err != nil {
		return err
	}
	if err := writeMessage(conn, &message{Kind: kindThreads, Number: uint32(weighted)}); err != nil {
		return err
	}

	// Server list arrives one host per frame, acked individually, until the
	// denominator frame ends the enrollment.
	var m *message
	for {
		m, err = readMessage(conn)
		if err != nil {
			return err
		}
		if m.Kind != kindServer {
			break
		}
		servers = append(servers, m.Text)
		if err := writeMessage(conn, &message{Kind: kindAck}); err != nil {
			return err
		}
	}

	if m.Kind != kindDenom {
		return &domain.ErrHandshake{Expected: kindDenom, Got: m.Kind}
	}
	handler.SetServers(servers)
	if err := handler.SetDenominator(ctx, int(m.Number)); err != nil {
		return err
	}
	if err := writeMessage(conn, &message{Kind: kindThanks}); err != nil {
		return err
	}
	a.log.Info("Joined federation", "lambda_denom", m.Number)

	for barrier := 0; barrier < 3; barrier++ {
		if _, err := expect(conn, kindSyncReq); err != nil {
			return err
		}
		if err := writeMessage(conn, &message{Kind: kindSync}); err != nil {
			return err
		}
		if _, err := expect(conn, kindProceed); err != nil {
			return err
		}
		if err := handler.PhaseBarrier(ctx, barrier); err != nil {
			return err
		}
		if err := writeMessage(conn, &message{Kind: kindSyncAck}); err != nil {
			return err
		}
	}

	if _, err := expect(conn, kindStatsReq); err != nil {
		return err
	}
	stats := handler.Stats()
	return writeMessage(conn, &message{Kind: kindStats, Stats: &stats})
}
