// Package history keeps a bounded window of probe results under a stable
// numbering that survives eviction.
//
// Every result ever recorded in a session gets a stable index: the number of
// results recorded before it. The store only holds the newest results; the
// count of evicted ones is the base, so the result at ring position i has the
// stable index Base()+i. A display laid out row-major with a fixed width maps
// the stable index s to row s/width, column s%width, and that cell never
// changes meaning while the result is retained.
package history

import (
	"github.com/thetooth/pinggraph/ping"
	"github.com/thetooth/pinggraph/statistics"
)

// History is a bounded ring of results plus the session statistics. It is
// owned by a single consumer and is not safe for concurrent use.
type History struct {
	results []ping.Result
	head    int
	length  int
	max     int
	base    int

	stats statistics.Aggregator
}

// New returns an empty store holding at most max results.
func New(max int) *History {
	if max < 1 {
		max = 1
	}
	return &History{max: max}
}

// Record updates the statistics and appends r, evicting the oldest result
// when the store is full.
func (h *History) Record(r ping.Result) {
	h.stats.Record(r)

	if h.length < h.max {
		// head stays at 0 until the ring first fills.
		h.results = append(h.results, r)
		h.length++
		return
	}

	h.results[h.head] = r
	h.head = (h.head + 1) % len(h.results)
	h.base++
}

// Stats returns the aggregator updated by Record.
func (h *History) Stats() *statistics.Aggregator { return &h.stats }

// Len is the number of retained results.
func (h *History) Len() int { return h.length }

// Max is the configured capacity.
func (h *History) Max() int { return h.max }

// Base is the number of results evicted since the last reset.
func (h *History) Base() int { return h.base }

// Total is the number of results recorded since the last reset.
func (h *History) Total() int { return h.base + h.length }

// At returns the result at ring position i, 0 being the oldest retained.
func (h *History) At(i int) (ping.Result, bool) {
	if i < 0 || i >= h.length {
		return ping.Result{}, false
	}
	return h.results[(h.head+i)%len(h.results)], true
}

// Latest returns the newest result.
func (h *History) Latest() (ping.Result, bool) {
	return h.At(h.length - 1)
}

// Get returns the result with the given stable index, false when it has been
// evicted or not produced yet.
func (h *History) Get(stable int) (ping.Result, bool) {
	return h.At(stable - h.base)
}

// Each calls fn for every retained result, oldest first, with its stable
// index. Iteration stops when fn returns false.
func (h *History) Each(fn func(stable int, r ping.Result) bool) {
	for i := 0; i < h.length; i++ {
		if !fn(h.base+i, h.results[(h.head+i)%len(h.results)]) {
			return
		}
	}
}

// TotalRows is the number of display rows needed for every result ever
// recorded, evicted ones included, at the given width.
func (h *History) TotalRows(width int) int {
	if width <= 0 || h.length == 0 {
		return 0
	}
	return (h.Total() + width - 1) / width
}

// Locate maps a display cell to a ring position.
func (h *History) Locate(width, row, col int) (int, bool) {
	if width <= 0 || row < 0 || col < 0 || col >= width {
		return 0, false
	}
	stable := row*width + col
	if stable < h.base || stable >= h.Total() {
		return 0, false
	}
	return stable - h.base, true
}

// Resize changes the capacity, evicting the oldest results if the store no
// longer fits.
func (h *History) Resize(max int) {
	if max < 1 {
		max = 1
	}

	keep := h.length
	if keep > max {
		keep = max
	}
	drop := h.length - keep

	results := make([]ping.Result, 0, keep)
	for i := drop; i < h.length; i++ {
		r, _ := h.At(i)
		results = append(results, r)
	}

	h.results = results
	h.head = 0
	h.length = keep
	h.base += drop
	h.max = max
}

// Reset drops every result and the statistics, restarting stable indices at
// zero. Used when a new session begins.
func (h *History) Reset() {
	h.results = nil
	h.head = 0
	h.length = 0
	h.base = 0
	h.stats.Reset()
}
