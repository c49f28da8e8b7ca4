// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"sync/atomic"
	"time"
)

// Detector tuning constants.
const (
	DefaultSensitivity = 1.8
	MinSensitivity     = 0.5
	MaxSensitivity     = 5.0

	// MinOnsetInterval is the debounce window between two accepted onsets.
	MinOnsetInterval = 100 * time.Millisecond

	// StdDevFloor keeps a zero-variance baseline from collapsing the
	// threshold onto the mean.
	StdDevFloor = 0.001
)

// WarmupPolicy selects how the detector behaves before the rolling window has
// been filled once.
type WarmupPolicy int

const (
	// WarmupZeroSeeded evaluates from the first frame against a baseline that
	// still contains zero placeholders.
	WarmupZeroSeeded WarmupPolicy = iota
	// WarmupDeferred keeps updating the window but never fires until it is full.
	WarmupDeferred
)

// String returns the config spelling of the policy.
func (p WarmupPolicy) String() string {
	switch p {
	case WarmupZeroSeeded:
		return "zero"
	case WarmupDeferred:
		return "defer"
	default:
		return "unknown"
	}
}

// OnsetEvent is a single detected onset.
type OnsetEvent struct {
	At time.Duration // monotonic time the onset was detected at
}

// Seconds returns the onset timestamp in seconds.
func (e OnsetEvent) Seconds() float64 {
	return e.At.Seconds()
}

// Sensitivity is the threshold multiplier k. It is written by the control
// goroutine and read by the capture goroutine once per frame, so it is stored
// as atomic float64 bits; a reader seeing the previous value for one frame is
// harmless.
type Sensitivity struct {
	bits atomic.Uint64
}

// NewSensitivity returns a Sensitivity holding the clamped value of k.
func NewSensitivity(k float64) *Sensitivity {
	s := &Sensitivity{}
	s.Set(k)
	return s
}

// Set stores k clamped to [MinSensitivity, MaxSensitivity]. NaN is treated
// as the default.
func (s *Sensitivity) Set(k float64) {
	s.bits.Store(math.Float64bits(ClampSensitivity(k)))
}

// Load returns the current multiplier.
func (s *Sensitivity) Load() float64 {
	return math.Float64frombits(s.bits.Load())
}

// ClampSensitivity limits k to the supported range.
func ClampSensitivity(k float64) float64 {
	if math.IsNaN(k) {
		return DefaultSensitivity
	}
	return math.Max(MinSensitivity, math.Min(MaxSensitivity, k))
}

// OnsetDetector decides, frame by frame, whether the current energy reading is
// an onset relative to the recent history. Apart from the shared Sensitivity
// it is owned by a single goroutine.
type OnsetDetector struct {
	window      *RollingWindow
	sensitivity *Sensitivity
	warmup      WarmupPolicy

	lastOnset     time.Duration
	hasOnset      bool
	lastThreshold float64
}

// NewOnsetDetector creates a detector over a fresh window of the default
// capacity. A nil sensitivity gets a private one at DefaultSensitivity.
func NewOnsetDetector(sensitivity *Sensitivity, warmup WarmupPolicy) *OnsetDetector {
	if sensitivity == nil {
		sensitivity = NewSensitivity(DefaultSensitivity)
	}
	return &OnsetDetector{
		window:      NewRollingWindow(DefaultWindowCapacity),
		sensitivity: sensitivity,
		warmup:      warmup,
	}
}

// Evaluate pushes energy into the window and reports whether it is an onset.
// The statistics are taken after the push, so the reading contributes to its
// own baseline. The window is updated whatever the outcome.
func (d *OnsetDetector) Evaluate(energy float64, now time.Duration) (OnsetEvent, bool) {
	d.window.Push(energy)

	mean, stddev := d.window.MeanAndStdDev()
	k := d.sensitivity.Load()
	threshold := mean + k*math.Max(stddev, StdDevFloor)
	d.lastThreshold = threshold

	if d.warmup == WarmupDeferred && !d.window.Full() {
		return OnsetEvent{}, false
	}

	if energy <= threshold {
		return OnsetEvent{}, false
	}
	if d.hasOnset && now-d.lastOnset <= MinOnsetInterval {
		return OnsetEvent{}, false
	}

	d.lastOnset = now
	d.hasOnset = true
	return OnsetEvent{At: now}, true
}

// SetSensitivity stores k, silently clamped to [0.5, 5.0].
func (d *OnsetDetector) SetSensitivity(k float64) {
	d.sensitivity.Set(k)
}

// Sensitivity returns the multiplier currently in effect.
func (d *OnsetDetector) Sensitivity() float64 {
	return d.sensitivity.Load()
}

// Threshold returns the threshold computed by the most recent Evaluate.
func (d *OnsetDetector) Threshold() float64 {
	return d.lastThreshold
}

// LastOnset returns the time of the most recent onset, if any.
func (d *OnsetDetector) LastOnset() (time.Duration, bool) {
	return d.lastOnset, d.hasOnset
}

// Window exposes the rolling window for diagnostics.
func (d *OnsetDetector) Window() *RollingWindow {
	return d.window
}
