// Package flow aggregates per-second byte counts for each monitored
// interface and serves the recent trend.
package flow

import (
	"sort"

	"sharkline/internal/models"
)

// DefaultWindow is how many distinct seconds an interface keeps.
const DefaultWindow = 300

// Window is a per-interface series of one-second byte buckets bounded to
// size distinct seconds. When a new second pushes it past size the oldest
// second is evicted, even if samples arrive out of order. Window is not
// safe for concurrent use; Monitor guards it.
type Window struct {
	size    int
	buckets map[int64]int64
	seconds []int64 // ascending
}

// NewWindow returns a window holding at most size seconds.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{size: size, buckets: make(map[int64]int64)}
}

// Add adds n bytes to second sec and returns how many seconds were evicted.
func (w *Window) Add(sec, n int64) int {
	if _, ok := w.buckets[sec]; ok {
		w.buckets[sec] += n
		return 0
	}
	w.buckets[sec] = n
	i := sort.Search(len(w.seconds), func(i int) bool { return w.seconds[i] >= sec })
	w.seconds = append(w.seconds, 0)
	copy(w.seconds[i+1:], w.seconds[i:])
	w.seconds[i] = sec

	evicted := 0
	for len(w.seconds) > w.size {
		delete(w.buckets, w.seconds[0])
		w.seconds = w.seconds[1:]
		evicted++
	}
	return evicted
}

// Len is the number of distinct seconds held.
func (w *Window) Len() int {
	return len(w.seconds)
}

// Get returns the byte count for sec.
func (w *Window) Get(sec int64) (int64, bool) {
	n, ok := w.buckets[sec]
	return n, ok
}

// Oldest returns the earliest second held.
func (w *Window) Oldest() (int64, bool) {
	if len(w.seconds) == 0 {
		return 0, false
	}
	return w.seconds[0], true
}

// Samples copies the window in ascending second order.
func (w *Window) Samples() []models.FlowSample {
	out := make([]models.FlowSample, len(w.seconds))
	for i, s := range w.seconds {
		out[i] = models.FlowSample{Second: s, Bytes: w.buckets[s]}
	}
	return out
}

// Dense returns one entry per second in [from, to], zero where nothing was seen.
func (w *Window) Dense(from, to int64) map[int64]int64 {
	if to < from {
		return map[int64]int64{}
	}
	out := make(map[int64]int64, to-from+1)
	for s := from; s <= to; s++ {
		out[s] = w.buckets[s]
	}
	return out
}

// Reset drops every bucket.
func (w *Window) Reset() {
	w.buckets = make(map[int64]int64)
	w.seconds = nil
}

// DisplayRange is the span a snapshot covers. Until size seconds have passed
// since start it is anchored at start so the series fills in from the left;
// afterwards it ends at now. Both ends are inclusive.
func DisplayRange(start, now int64, size int) (from, to int64) {
	if now-start > int64(size) {
		return now - int64(size), now
	}
	return start, start + int64(size)
}
