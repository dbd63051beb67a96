package connection

import (
	"math/rand/v2"
	"time"

	"github.com/kvblast/kvblast/internal/core/domain"
)

// issueNext invokes the workload driver for one ISSUING iteration. It
// returns true once the trace feed is exhausted and nothing further will
// ever be issued.
func (c *Conn) issueNext(now time.Time) bool {
	switch {
	case c.opts.GetSetOrSet && c.opts.TraceMode():
		return c.issueFromTraceBatch(now)
	case c.opts.TraceMode():
		return c.issueFromTraceSingle(now)
	case c.opts.GetSet || c.opts.GetSetOrSet:
		c.issueGetset(now)
	default:
		c.issueSomething(now)
	}
	return false
}

// issueSomething realizes the synthetic mix: Bernoulli(update) chooses SET,
// otherwise GET, over a uniform key index.
func (c *Conn) issueSomething(now time.Time) {
	key := c.opts.Prefix + c.keygen.Generate(rand.Uint64N(c.opts.Records))

	if rand.Float64() < c.opts.Update {
		vl := int(c.valgen.Generate())
		if vl < 1 {
			vl = 1
		}
		c.issueSet(key, vl, true)
		return
	}
	c.issueGet(key, 0, now)
}

// issueGetset always issues a GET carrying a target value length; the read
// path fills the miss with a SET of that length.
func (c *Conn) issueGetset(now time.Time) {
	key := c.opts.Prefix + c.keygen.Generate(rand.Uint64N(c.opts.Records))
	vl := int(c.valgen.Generate())
	if vl < 1 {
		vl = 1
	}
	c.issueGet(key, vl, now)
}

// issueFromTraceBatch drains the shared trace queue up to the available
// pipeline space. Returns true on the EOF sentinel.
func (c *Conn) issueFromTraceBatch(now time.Time) bool {
	for c.opq.Len() < c.opts.Depth {
		rec, ok, eof := c.tracer.TryDequeue()
		if eof {
			c.eof = true
			return true
		}
		if !ok {
			break
		}
		c.issueTraceRecord(rec, now)
	}
	return false
}

// issueFromTraceSingle paces one trace op per ISSUING iteration.
func (c *Conn) issueFromTraceSingle(now time.Time) bool {
	rec, ok, eof := c.tracer.TryDequeue()
	if eof {
		c.eof = true
		return true
	}
	if !ok {
		return false
	}
	c.issueTraceRecord(rec, now)
	return false
}

func (c *Conn) issueTraceRecord(rec domain.TraceRecord, now time.Time) {
	switch rec.Op {
	case domain.OpGet:
		c.issueGet(rec.Key, rec.ValueLen, now)
	case domain.OpSet:
		c.issueSet(rec.Key, rec.ValueLen, true)
	default:
	}
}

func (c *Conn) issueGet(key string, valueLen int, now time.Time) {
	op := domain.NewOperation(domain.OpGet, key, valueLen, nextOpaque(), now)
	c.opq.Push(op)

	n := c.proto.GetRequest(c.out, key, op.Opaque)
	if c.rstate != loading {
		c.stats.TxBytes += uint64(n)
		if c.coll != nil {
			c.coll.RecordTxBytes(int64(n))
		}
	}
	c.stats.LogAccess()
	if c.coll != nil {
		c.coll.RecordAccess()
	}
	c.traceOp("issue_get", op)
}

func (c *Conn) issueSet(key string, valueLen int, isAccess bool) {
	op := domain.NewOperation(domain.OpSet, key, valueLen, nextOpaque(), time.Now())
	c.opq.Push(op)

	value := randomValue(valueLen)
	n := c.proto.SetRequest(c.out, key, value, op.Opaque)
	if c.rstate != loading {
		c.stats.TxBytes += uint64(n)
		if c.coll != nil {
			c.coll.RecordTxBytes(int64(n))
		}
	}
	if isAccess {
		c.stats.LogAccess()
		if c.coll != nil {
			c.coll.RecordAccess()
		}
	}
	c.traceOp("issue_set", op)
}

// issueSetMiss populates the cache behind a GET miss: same key, requested
// length, random payload. It goes out before the missed op is dropped so
// causal order holds, and it does not count as an access.
func (c *Conn) issueSetMiss(key string, valueLen int) {
	if c.itemLks != nil {
		hash := domain.HashKey(key)
		c.itemLks.Lock(hash)
		defer c.itemLks.Unlock(hash)
	}
	c.issueSet(key, valueLen, false)
}

// issueDelete90 sends the legacy delete probe.
func (c *Conn) issueDelete90(now time.Time) {
	op := domain.NewOperation(domain.OpDelete, "", 0, nextOpaque(), now)
	c.opq.Push(op)

	n := c.proto.Delete90Request(c.out)
	if c.rstate != loading {
		c.stats.TxBytes += uint64(n)
	}
	c.traceOp("issue_delete", op)
}

func (c *Conn) traceOp(action string, op *domain.Operation) {
	if c.opts.Verbose < 2 {
		return
	}
	c.log.Debug("op",
		"conn", c.id,
		"action", action,
		"key", op.Key,
		"opaque", op.Opaque,
		"type", op.Type.String(),
	)
}
