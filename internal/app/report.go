package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kvblast/kvblast/internal/adapter/stats"
	"github.com/kvblast/kvblast/internal/connection"
	"github.com/kvblast/kvblast/pkg/format"
	"github.com/kvblast/kvblast/pkg/sampler"
)

// report renders the end-of-run summary the way the histograms read best:
// one row per op class, percentiles in microseconds.
func (a *Application) report(stats *connection.Stats) {
	elapsed := stats.Stop.Sub(stats.Start).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	total := stats.Gets + stats.Sets

	fmt.Printf("%-8s %8s %8s %8s %8s %8s %8s %8s %8s\n",
		"#type", "avg", "min", "p5", "p10", "p50", "p90", "p95", "p99")
	printSamplerRow("read", stats.GetSampler)
	printSamplerRow("update", stats.SetSampler)
	printSamplerRow("op_q", stats.OpSampler)

	fmt.Printf("\nTotal QPS = %.1f (%d / %.1fs)\n", float64(total)/elapsed, total, elapsed)

	missPct := 0.0
	if stats.Gets > 0 {
		missPct = float64(stats.GetMisses) / float64(stats.Gets) * 100
	}
	fmt.Printf("\nMisses = %d (%s)\n", stats.GetMisses, format.Percentage(missPct))

	skipPct := 0.0
	if total > 0 {
		skipPct = float64(stats.Skips) / float64(total) * 100
	}
	fmt.Printf("Skipped TXs = %d (%s)\n\n", stats.Skips, format.Percentage(skipPct))

	fmt.Printf("RX %10d bytes : %6.1f MB/s\n", stats.RxBytes,
		float64(stats.RxBytes)/1024/1024/elapsed)
	fmt.Printf("TX %10d bytes : %6.1f MB/s\n", stats.TxBytes,
		float64(stats.TxBytes)/1024/1024/elapsed)

	a.log.Info("Run finished",
		"qps", fmt.Sprintf("%.1f", float64(total)/elapsed),
		"gets", stats.Gets,
		"sets", stats.Sets,
		"misses", stats.GetMisses,
		"skips", stats.Skips,
		"rx", format.Bytes(stats.RxBytes),
		"tx", format.Bytes(stats.TxBytes),
	)
}

func printSamplerRow(name string, s *sampler.Sampler) {
	if s.Count() == 0 {
		fmt.Printf("%-8s %8.1f %8d %8d %8d %8d %8d %8d %8d\n", name, 0.0, 0, 0, 0, 0, 0, 0, 0)
		return
	}
	fmt.Printf("%-8s %8.1f %8d %8d %8d %8d %8d %8d %8d\n",
		name,
		s.Mean(),
		s.Min(),
		s.Quantile(5),
		s.Quantile(10),
		s.Quantile(50),
		s.Quantile(90),
		s.Quantile(95),
		s.Quantile(99),
	)
}

// progressInterval paces the live counter log line during measurement.
const progressInterval = 5 * time.Second

// logProgress periodically logs the process-wide counter fold. The returned
// stop function ends the reporter; it is safe to call more than once.
func (a *Application) logProgress(ctx context.Context, coll *stats.Collector) func() {
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		var last stats.Snapshot
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := coll.Snapshot()
				a.log.Info("Progress",
					"qps", float64(snap.Gets+snap.Sets-last.Gets-last.Sets)/progressInterval.Seconds(),
					"accesses", snap.Accesses,
					"misses", snap.Misses,
					"skips", snap.Skips,
					"rx", format.Bytes(uint64(snap.RxBytes)),
					"tx", format.Bytes(uint64(snap.TxBytes)),
				)
				last = snap
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}

// writeSaveFile dumps raw latency samples: one `start_time_s latency_us`
// line per sample, start times relative to process start.
func (a *Application) writeSaveFile(stats *connection.Stats) error {
	if a.opts.SavePath == "" {
		return nil
	}

	f, err := os.Create(a.opts.SavePath)
	if err != nil {
		return fmt.Errorf("create save file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := stats.GetSampler.WriteSamples(w, a.startTime); err != nil {
		return err
	}
	if err := stats.SetSampler.WriteSamples(w, a.startTime); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	a.log.Info("Latency samples saved", "path", a.opts.SavePath)
	return nil
}
