// Package overlay drives the heads-up display: a frame loop that polls the
// metrics collector once per tick and hands the readings to a renderer,
// plus the rolling CPU history used for the trend chart.
package overlay

// DefaultHistorySize matches the 90-sample trend chart of the reference
// overlay.
const DefaultHistorySize = 90

// History is a fixed-capacity ring of recent CPU samples. Once full, each
// push overwrites the oldest entry. It is owned by the render side, not the
// collector.
type History struct {
	samples []float64
	next    int
	filled  int
}

// NewHistory creates a ring with the given capacity; a non-positive capacity
// falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{samples: make([]float64, capacity)}
}

// Push records a sample, overwriting the oldest once the ring is full.
func (h *History) Push(v float64) {
	h.samples[h.next] = v
	h.next = (h.next + 1) % len(h.samples)
	if h.filled < len(h.samples) {
		h.filled++
	}
}

// Values returns the recorded samples oldest first. The returned slice is a
// copy; mutating it does not affect the ring.
func (h *History) Values() []float64 {
	out := make([]float64, 0, h.filled)
	start := 0
	if h.filled == len(h.samples) {
		start = h.next
	}
	for i := 0; i < h.filled; i++ {
		out = append(out, h.samples[(start+i)%len(h.samples)])
	}
	return out
}

// Len returns the number of recorded samples, at most Cap.
func (h *History) Len() int { return h.filled }

// Cap returns the ring capacity.
func (h *History) Cap() int { return len(h.samples) }
