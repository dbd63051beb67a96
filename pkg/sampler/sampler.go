// Package sampler wraps HdrHistogram with the small amount of glue the load
// generator needs: microsecond latency recording, optional raw sample
// retention for --save, and merge across connections, workers and agents.
package sampler

import (
	"fmt"
	"io"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies up to a minute at 3 significant figures; anything slower than
// that is a broken run, not a data point.
const (
	minValue = 1
	maxValue = 60_000_000
	sigfigs  = 3
)

// Sample is one raw observation kept for the save file.
type Sample struct {
	Start time.Time
	Value int64
}

// Sampler accumulates scalar observations into a histogram and, when
// sampling is on, keeps the raw points.
type Sampler struct {
	hist     *hdrhistogram.Histogram
	raw      []Sample
	sampling bool
}

func New(sampling bool) *Sampler {
	return &Sampler{
		hist:     hdrhistogram.New(minValue, maxValue, sigfigs),
		sampling: sampling,
	}
}

func (s *Sampler) Record(value int64) {
	_ = s.hist.RecordValue(clamp(value))
}

// RecordAt records a value and retains the raw sample when sampling is on.
func (s *Sampler) RecordAt(start time.Time, value int64) {
	_ = s.hist.RecordValue(clamp(value))
	if s.sampling {
		s.raw = append(s.raw, Sample{Start: start, Value: value})
	}
}

func (s *Sampler) Count() uint64 { return uint64(s.hist.TotalCount()) }

func (s *Sampler) Mean() float64 { return s.hist.Mean() }

func (s *Sampler) Min() int64 { return s.hist.Min() }

func (s *Sampler) Max() int64 { return s.hist.Max() }

// Quantile returns the value at percentile p in [0,100].
func (s *Sampler) Quantile(p float64) int64 { return s.hist.ValueAtQuantile(p) }

// Merge folds other into s. Raw samples follow when both sides sample.
func (s *Sampler) Merge(other *Sampler) {
	s.hist.Merge(other.hist)
	if s.sampling {
		s.raw = append(s.raw, other.raw...)
	}
}

// WriteSamples emits one line per raw sample: start time in seconds since
// epoch, then the value in microseconds.
func (s *Sampler) WriteSamples(w io.Writer, epoch time.Time) error {
	for _, sm := range s.raw {
		rel := sm.Start.Sub(epoch).Seconds()
		if _, err := fmt.Fprintf(w, "%f %d\n", rel, sm.Value); err != nil {
			return err
		}
	}
	return nil
}

func clamp(v int64) int64 {
	if v < minValue {
		return minValue
	}
	if v > maxValue {
		return maxValue
	}
	return v
}
