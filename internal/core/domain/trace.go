package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// TraceDialect selects how a CSV trace line maps onto an operation.
type TraceDialect int

const (
	// DialectGeneric is `t,app,op,key,valuelen` with op in {read,write}.
	DialectGeneric TraceDialect = 0
	// DialectTwitter is `t,key,keysize,valuelen,app,op` with op in {get,set};
	// any other op is skipped.
	DialectTwitter TraceDialect = 1
	// DialectCompact is `t,app,op,key,valuelen` with numeric op: 0 set, 1 get.
	DialectCompact TraceDialect = 2
)

// TraceEOF is the sentinel line that terminates trace ingestion.
const TraceEOF = "EOF"

// MaxTraceValueLen clamps value lengths decoded from trace lines.
const MaxTraceValueLen = 524000

// TraceRecord is one decoded trace line, ready to issue.
type TraceRecord struct {
	Key      string
	ValueLen int
	Op       OpType
}

// ParseTraceLine decodes one CSV line in the given dialect. skip reports a
// well-formed line that carries an op outside {get,set} and should be
// silently dropped (Twitter traces carry adds, deletes and the like).
func ParseTraceLine(line string, dialect TraceDialect) (rec TraceRecord, skip bool, err error) {
	fields := strings.Split(line, ",")

	switch dialect {
	case DialectTwitter:
		if len(fields) < 6 {
			return rec, false, fmt.Errorf("twitter trace line needs 6 fields, got %d: %q", len(fields), line)
		}
		rec.Key = fields[1]
		rec.ValueLen, _ = strconv.Atoi(fields[3])
		switch fields[5] {
		case "get":
			rec.Op = OpGet
		case "set":
			rec.Op = OpSet
		default:
			return rec, true, nil
		}

	case DialectCompact:
		if len(fields) < 5 {
			return rec, false, fmt.Errorf("compact trace line needs 5 fields, got %d: %q", len(fields), line)
		}
		rec.Key = fields[3]
		opNum, convErr := strconv.Atoi(fields[2])
		if convErr != nil {
			return rec, false, fmt.Errorf("compact trace op field %q: %w", fields[2], convErr)
		}
		switch opNum {
		case 0:
			rec.Op = OpSet
		case 1:
			rec.Op = OpGet
		default:
			return rec, true, nil
		}
		rec.ValueLen, _ = strconv.Atoi(fields[4])
		// The compact dialect records the full item footprint; strip the
		// fixed item overhead and the key itself to recover the value size.
		rec.ValueLen -= 76 + len(rec.Key)

	case DialectGeneric:
		if len(fields) < 5 {
			return rec, false, fmt.Errorf("trace line needs 5 fields, got %d: %q", len(fields), line)
		}
		rec.Key = fields[3]
		rec.ValueLen, _ = strconv.Atoi(fields[4])
		switch fields[2] {
		case "read":
			rec.Op = OpGet
		case "write":
			rec.Op = OpSet
		default:
			return rec, true, nil
		}

	default:
		return rec, false, fmt.Errorf("unknown trace dialect %d", dialect)
	}

	if rec.ValueLen < 1 {
		rec.ValueLen = 1
	}
	if rec.ValueLen > MaxTraceValueLen {
		rec.ValueLen = MaxTraceValueLen
	}
	return rec, false, nil
}
