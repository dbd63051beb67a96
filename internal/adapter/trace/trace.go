// Package trace feeds decoded trace records to every connection in the
// process. A single producer goroutine reads the CSV file and pushes records
// into a bounded queue; each consumer drains it without blocking and sees
// end-of-trace exactly once. This replaces sharing a file cursor under a
// mutex: decode cost is paid once, off the hot path.
package trace

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kvblast/kvblast/internal/core/domain"
	"github.com/kvblast/kvblast/internal/core/ports"
	"github.com/kvblast/kvblast/internal/logger"
)

// DefaultQueueDepth bounds the producer's lead over the consumers. Large
// enough to ride out issue bursts across every connection in the process.
const DefaultQueueDepth = 1 << 16

type Queue struct {
	records chan domain.TraceRecord
	logger  logger.StyledLogger
	dialect domain.TraceDialect
}

func NewQueue(dialect domain.TraceDialect, depth int, log logger.StyledLogger) *Queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Queue{
		records: make(chan domain.TraceRecord, depth),
		logger:  log,
		dialect: dialect,
	}
}

// Produce reads the trace until the EOF sentinel line, file end or context
// cancellation, then closes the queue so every consumer observes end-of-trace.
// Run it on its own goroutine.
func (q *Queue) Produce(ctx context.Context, path string) error {
	defer close(q.records)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open trace %s: %w", path, err)
	}
	defer f.Close()

	return q.produceFrom(ctx, f)
}

func (q *Queue) produceFrom(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pushed, skipped uint64
	for scanner.Scan() {
		line := scanner.Text()
		if line == domain.TraceEOF {
			break
		}

		rec, skip, err := domain.ParseTraceLine(line, q.dialect)
		if err != nil {
			q.logger.Warn("Skipping malformed trace line", "error", err)
			skipped++
			continue
		}
		if skip {
			skipped++
			continue
		}

		select {
		case q.records <- rec:
			pushed++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	q.logger.Info("Trace ingestion finished", "records", pushed, "skipped", skipped)
	return nil
}

// NewSource returns this consumer's view of the queue. Each connection gets
// its own so the end-of-trace flag is seen exactly once per consumer.
func (q *Queue) NewSource() ports.TraceSource {
	return &source{records: q.records}
}

type source struct {
	records chan domain.TraceRecord
	eof     bool
}

func (s *source) TryDequeue() (domain.TraceRecord, bool, bool) {
	if s.eof {
		return domain.TraceRecord{}, false, true
	}
	select {
	case rec, ok := <-s.records:
		if !ok {
			s.eof = true
			return domain.TraceRecord{}, false, true
		}
		return rec, true, false
	default:
		return domain.TraceRecord{}, false, false
	}
}
