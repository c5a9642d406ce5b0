// Package telemetry collects batch construction timings, tunes offload
// thresholds from them and writes run summaries.
package telemetry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/treewalk/walk"
)

// BatchSample is one timed request construction.
type BatchSample struct {
	Kind    walk.BatchKind
	Items   int
	Elapsed time.Duration
}

// BatchRecord is the CSV form of a BatchSample.
type BatchRecord struct {
	Seq       int     `csv:"seq"`
	Kind      string  `csv:"kind"`
	Items     int     `csv:"items"`
	ElapsedUS float64 `csv:"elapsed_us"`
	Threshold int     `csv:"threshold"`
}

// BatchTimer keeps a rolling window of construction timings per batch
// kind. It implements walk.BatchObserver and is safe for concurrent use,
// since walks on different goroutines share one timer.
type BatchTimer struct {
	mu         sync.Mutex
	windowSize int
	windows    map[walk.BatchKind]*window
	pending    []BatchRecord
	seq        int
}

type window struct {
	samples    []BatchSample
	writeIndex int
	count      int
}

// NewBatchTimer creates a timer that averages over windowSize requests per
// kind.
func NewBatchTimer(windowSize int) *BatchTimer {
	if windowSize < 1 {
		windowSize = 64
	}
	return &BatchTimer{
		windowSize: windowSize,
		windows:    make(map[walk.BatchKind]*window),
	}
}

// BatchBuilt implements walk.BatchObserver.
func (t *BatchTimer) BatchBuilt(kind walk.BatchKind, items int, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w := t.windows[kind]
	if w == nil {
		w = &window{samples: make([]BatchSample, t.windowSize)}
		t.windows[kind] = w
	}
	w.samples[w.writeIndex] = BatchSample{Kind: kind, Items: items, Elapsed: elapsed}
	w.writeIndex = (w.writeIndex + 1) % t.windowSize
	if w.count < t.windowSize {
		w.count++
	}

	t.seq++
	t.pending = append(t.pending, BatchRecord{
		Seq:       t.seq,
		Kind:      kind.String(),
		Items:     items,
		ElapsedUS: float64(elapsed) / float64(time.Microsecond),
	})
}

// Drain returns the records collected since the last call.
func (t *BatchTimer) Drain() []BatchRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.pending
	t.pending = nil
	return out
}

// BatchStats aggregates the current window of one batch kind.
type BatchStats struct {
	Kind          walk.BatchKind
	Count         int
	MeanItems     float64
	MeanBuild     time.Duration
	P90Build      time.Duration
	PerItemUS     float64 // Mean construction cost per item
	PerItemStdDev float64
}

// Stats computes statistics over the window for kind.
func (t *BatchTimer) Stats(kind walk.BatchKind) BatchStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := BatchStats{Kind: kind}
	w := t.windows[kind]
	if w == nil || w.count == 0 {
		return s
	}

	items := make([]float64, 0, w.count)
	builds := make([]float64, 0, w.count)
	perItem := make([]float64, 0, w.count)
	for i := 0; i < w.count; i++ {
		smp := w.samples[i]
		items = append(items, float64(smp.Items))
		us := float64(smp.Elapsed) / float64(time.Microsecond)
		builds = append(builds, us)
		if smp.Items > 0 {
			perItem = append(perItem, us/float64(smp.Items))
		}
	}

	s.Count = w.count
	s.MeanItems = stat.Mean(items, nil)
	s.MeanBuild = usToDuration(stat.Mean(builds, nil))
	sort.Float64s(builds)
	s.P90Build = usToDuration(stat.Quantile(0.9, stat.Empirical, builds, nil))
	if len(perItem) > 0 {
		s.PerItemUS = stat.Mean(perItem, nil)
	}
	if len(perItem) > 1 {
		s.PerItemStdDev = stat.StdDev(perItem, nil)
	}
	return s
}

func usToDuration(us float64) time.Duration {
	return time.Duration(us * float64(time.Microsecond))
}

// LogValue implements slog.LogValuer for structured logging.
func (s BatchStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", s.Kind.String()),
		slog.Int("count", s.Count),
		slog.Float64("mean_items", s.MeanItems),
		slog.Int64("mean_build_us", s.MeanBuild.Microseconds()),
		slog.Int64("p90_build_us", s.P90Build.Microseconds()),
		slog.Float64("per_item_us", s.PerItemUS),
	)
}
