package session

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/wckdouglas/rodeo/internal/shared/types"
)

// statsWindow keeps a bounded window of recent execution durations for
// timing reports. Old samples fall off; the count is lifetime-total.
type statsWindow struct {
	mu     sync.Mutex
	ring   []float64 // milliseconds
	next   int
	filled bool
	count  int
}

func newStatsWindow(size int) *statsWindow {
	if size <= 0 {
		size = 128
	}
	return &statsWindow{ring: make([]float64, size)}
}

func (w *statsWindow) record(d time.Duration) {
	ms := float64(d.Microseconds()) / 1e3
	w.mu.Lock()
	w.ring[w.next] = ms
	w.next = (w.next + 1) % len(w.ring)
	if w.next == 0 {
		w.filled = true
	}
	w.count++
	w.mu.Unlock()
}

// snapshot reports aggregate timings, nil when nothing ran yet.
func (w *statsWindow) snapshot() *types.ExecStats {
	w.mu.Lock()
	n := w.next
	if w.filled {
		n = len(w.ring)
	}
	if n == 0 {
		w.mu.Unlock()
		return nil
	}
	samples := make([]float64, n)
	copy(samples, w.ring[:n])
	count := w.count
	w.mu.Unlock()

	sort.Float64s(samples)
	return &types.ExecStats{
		Count:    count,
		MeanMs:   stat.Mean(samples, nil),
		MedianMs: stat.Quantile(0.5, stat.Empirical, samples, nil),
		P95Ms:    stat.Quantile(0.95, stat.Empirical, samples, nil),
		MaxMs:    samples[n-1],
	}
}
