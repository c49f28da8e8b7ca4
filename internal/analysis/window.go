// SPDX-License-Identifier: MIT
package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultWindowCapacity is the number of energy readings the adaptive
// threshold is computed over.
const DefaultWindowCapacity = 20

// RollingWindow is a fixed-capacity circular buffer of energy readings.
// Slots start at zero, so until the first full cycle the statistics include
// zero placeholders. It is not safe for concurrent use; the capture goroutine
// owns it.
type RollingWindow struct {
	values []float64
	next   int // index of the slot the next Push overwrites
	filled int // number of Push calls, saturating at capacity
}

// NewRollingWindow creates a zero-seeded window. A capacity below one is
// raised to one.
func NewRollingWindow(capacity int) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{
		values: make([]float64, capacity),
	}
}

// Push overwrites the oldest slot with energy.
func (w *RollingWindow) Push(energy float64) {
	w.values[w.next] = energy
	w.next = (w.next + 1) % len(w.values)
	if w.filled < len(w.values) {
		w.filled++
	}
}

// MeanAndStdDev returns the arithmetic mean and the population standard
// deviation (divided by capacity, not capacity-1) over every slot.
func (w *RollingWindow) MeanAndStdDev() (mean, stddev float64) {
	mean, variance := stat.PopMeanVariance(w.values, nil)
	// The compensated two-pass sum can dip a few ulps below zero on a
	// constant buffer.
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// Cap returns the window capacity.
func (w *RollingWindow) Cap() int {
	return len(w.values)
}

// Len returns how many slots hold a pushed value.
func (w *RollingWindow) Len() int {
	return w.filled
}

// Full reports whether every slot has been written at least once.
func (w *RollingWindow) Full() bool {
	return w.filled == len(w.values)
}

// Values returns a copy of the buffer ordered oldest to newest.
func (w *RollingWindow) Values() []float64 {
	out := make([]float64, 0, len(w.values))
	out = append(out, w.values[w.next:]...)
	out = append(out, w.values[:w.next]...)
	return out
}

// Reset zeroes every slot and rewinds the write index.
func (w *RollingWindow) Reset() {
	clear(w.values)
	w.next = 0
	w.filled = 0
}
