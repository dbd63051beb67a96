package connection

import (
	"errors"
	"time"

	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/core/ports"
)

// readCallback consumes every complete response currently buffered. A
// partial frame is finished on a later read edge.
func (c *Conn) readCallback() error {
	for {
		var resp ports.Response
		resp.Found = true

		ok, err := c.proto.HandleResponse(c.in, &resp)
		if err != nil {
			if errors.Is(err, domain.ErrSASLFailed) {
				return err
			}
			// Malformed response: do not advance the op and stop
			// processing this read edge; bytes still buffered are framed
			// again on the next one.
			c.log.Warn("Protocol error", "conn", c.id, "server", c.server, "error", err)
			return nil
		}
		if !ok {
			return nil
		}

		op := c.opq.Lookup(resp.Opaque)
		if op == nil {
			c.log.Debug("Spurious response", "conn", c.id, "opaque", resp.Opaque)
			continue
		}

		switch op.Type {
		case domain.OpGet:
			if !resp.Done {
				// A VALUE header or bulk body fragment; the terminating
				// line is still to come.
				continue
			}
			if !resp.Found && (c.opts.GetSet || c.opts.GetSetOrSet) {
				c.issueSetMiss(op.Key, op.ValueLen)
				c.finishOp(op, false)
			} else {
				c.finishOp(op, resp.Found)
			}

		case domain.OpSet, domain.OpDelete:
			c.finishOp(op, true)

		default:
			c.log.Warn("Response for unexpected op type", "conn", c.id, "type", op.Type.String())
			c.opq.Remove(op)
		}
	}
}

// finishOp stamps the end time, records stats and retires the op.
func (c *Conn) finishOp(op *domain.Operation, hit bool) {
	now := time.Now()
	op.End = now

	switch op.Type {
	case domain.OpGet:
		if !hit {
			c.stats.LogMiss()
			if c.coll != nil {
				c.coll.RecordMiss()
			}
		}
		c.stats.LogGet(op)
		if c.coll != nil {
			c.coll.RecordGet()
		}
	case domain.OpSet:
		c.stats.LogSet(op)
		if c.coll != nil {
			c.coll.RecordSet()
		}
	case domain.OpDelete:
		c.stats.Deletes++
	}

	c.lastRx = now
	c.opq.Remove(op)
	if c.rstate != loading {
		c.rstate = idle
	}
	c.traceOp("resp", op)

	if c.opts.MissWindow != 0 && c.stats.WindowAccesses%c.opts.MissWindow == 0 {
		if c.stats.WindowGets != 0 {
			c.stats.ResetWindow()
		}
	}
}
