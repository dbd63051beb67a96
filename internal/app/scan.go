package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kvblast/kvblast/pkg/format"
)

// runScan sweeps latency across qps targets: --scan min:max:step.
func (a *Application) runScan(ctx context.Context) error {
	bounds := strings.Split(a.opts.Scan, ":")
	if len(bounds) != 3 {
		return fmt.Errorf("--scan wants min:max:step, got %q", a.opts.Scan)
	}
	minQPS, err1 := strconv.Atoi(bounds[0])
	maxQPS, err2 := strconv.Atoi(bounds[1])
	step, err3 := strconv.Atoi(bounds[2])
	if err1 != nil || err2 != nil || err3 != nil || step <= 0 {
		return fmt.Errorf("--scan wants numeric min:max:step, got %q", a.opts.Scan)
	}

	fmt.Printf("%-8s %8s %8s %8s %8s %8s %8s\n",
		"#qps", "avg", "p5", "p10", "p50", "p90", "p99")

	for qps := minQPS; qps <= maxQPS; qps += step {
		stats, err := a.runOnce(ctx, qps)
		if err != nil {
			return err
		}
		s := stats.GetSampler
		fmt.Printf("%-8d %8.1f %8d %8d %8d %8d %8d\n",
			qps, s.Mean(), s.Quantile(5), s.Quantile(10), s.Quantile(50),
			s.Quantile(90), s.Quantile(99))
	}
	return nil
}

// runSearch finds the highest qps at which the Nth percentile stays under
// X microseconds: --search N:X. Doubling probe, then bisection.
func (a *Application) runSearch(ctx context.Context) error {
	parts := strings.Split(a.opts.Search, ":")
	if len(parts) != 2 {
		return fmt.Errorf("--search wants N:X, got %q", a.opts.Search)
	}
	n, err1 := strconv.ParseFloat(parts[0], 64)
	x, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || n <= 0 || n > 100 || x <= 0 {
		return fmt.Errorf("--search wants percentile:microseconds, got %q", a.opts.Search)
	}

	measure := func(qps int) (int64, error) {
		stats, err := a.runOnce(ctx, qps)
		if err != nil {
			return 0, err
		}
		lat := stats.GetSampler.Quantile(n)
		a.log.Info("Search probe", "qps", qps,
			"latency", format.Latency(lat), "target", format.Latency(x))
		return lat, nil
	}

	low, high := 0, 1000
	for {
		lat, err := measure(high)
		if err != nil {
			return err
		}
		if lat > x {
			break
		}
		low = high
		high *= 2
	}

	for high-low > high/20 {
		mid := (low + high) / 2
		lat, err := measure(mid)
		if err != nil {
			return err
		}
		if lat > x {
			high = mid
		} else {
			low = mid
		}
	}

	fmt.Printf("%d-order statistic < %dus at %d QPS\n", int(n), x, low)
	return nil
}
