// SPDX-License-Identifier: MIT
package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tapbeat/internal/analysis"
)

// read is one scripted ReadFrame result.
type read struct {
	samples []int16
	err     error
}

// fakeSource replays scripted reads and returns (0, nil) when the script is
// drained, the way a real backend does on a read timeout.
type fakeSource struct {
	reads chan read

	released  atomic.Int32
	closed    chan struct{}
	closeOnce sync.Once

	readers    atomic.Int32
	maxReaders atomic.Int32
}

func newFakeSource(script ...read) *fakeSource {
	f := &fakeSource{
		reads:  make(chan read, len(script)+64),
		closed: make(chan struct{}),
	}
	for _, r := range script {
		f.reads <- r
	}
	return f
}

func (f *fakeSource) push(script ...read) {
	for _, r := range script {
		f.reads <- r
	}
}

func (f *fakeSource) ReadFrame(buf []int16) (int, error) {
	n := f.readers.Add(1)
	defer f.readers.Add(-1)
	for {
		m := f.maxReaders.Load()
		if n <= m || f.maxReaders.CompareAndSwap(m, n) {
			break
		}
	}

	select {
	case <-f.closed:
		return 0, ErrSourceClosed
	default:
	}

	select {
	case <-f.closed:
		return 0, ErrSourceClosed
	case r := <-f.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(buf, r.samples), nil
	case <-time.After(2 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakeSource) Release() error {
	f.released.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// hungSource ignores Release and blocks every read until unblock is closed.
type hungSource struct {
	entered  chan struct{}
	unblock  chan struct{}
	exited   chan struct{}
	released atomic.Int32
	once     sync.Once
}

func newHungSource() *hungSource {
	return &hungSource{
		entered: make(chan struct{}),
		unblock: make(chan struct{}),
		exited:  make(chan struct{}),
	}
}

func (h *hungSource) ReadFrame(buf []int16) (int, error) {
	h.once.Do(func() { close(h.entered) })
	<-h.unblock
	defer close(h.exited)
	return 0, ErrSourceClosed
}

func (h *hungSource) Release() error {
	h.released.Add(1)
	return nil
}

// stepClock advances by step on every call, starting at step.
type stepClock struct {
	step  time.Duration
	calls atomic.Int64
}

func (c *stepClock) Now() time.Duration {
	return time.Duration(c.calls.Add(1)) * c.step
}

// recorder is an EventSink that keeps everything it receives.
type recorder struct {
	mu        sync.Mutex
	statuses  []Status
	onsets    []float64
	runIDs    []string
	ended     []string
	endOnsets []uint64

	statusCh chan Status
	onsetCh  chan float64
}

func newRecorder() *recorder {
	return &recorder{
		statusCh: make(chan Status, 64),
		onsetCh:  make(chan float64, 256),
	}
}

func (r *recorder) OnSessionStatus(status Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
	r.statusCh <- status
}

func (r *recorder) OnOnset(ts float64) {
	r.mu.Lock()
	r.onsets = append(r.onsets, ts)
	r.mu.Unlock()
	r.onsetCh <- ts
}

func (r *recorder) OnRunStart(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runIDs = append(r.runIDs, id)
}

func (r *recorder) OnRunEnd(id string, onsets uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, id)
	r.endOnsets = append(r.endOnsets, onsets)
}

func (r *recorder) Ended() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ended...)
}

func (r *recorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *recorder) Onsets() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.onsets...)
}

func (r *recorder) waitStatus(t *testing.T) Status {
	t.Helper()
	select {
	case s := <-r.statusCh:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session status")
		return 0
	}
}

func (r *recorder) waitOnset(t *testing.T) float64 {
	t.Helper()
	select {
	case ts := <-r.onsetCh:
		return ts
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an onset")
		return 0
	}
}

// acquireFrom returns an Acquirer that hands out sources in order and counts
// calls.
func acquireFrom(calls *atomic.Int32, sources ...Source) Acquirer {
	return func(ctx context.Context, cfg Config) (Source, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(sources) {
			return nil, ErrInitFailed
		}
		return sources[i], nil
	}
}

func failingAcquirer(calls *atomic.Int32, err error) Acquirer {
	return func(ctx context.Context, cfg Config) (Source, error) {
		calls.Add(1)
		return nil, err
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FrameSize = 64
	cfg.StopTimeout = 500 * time.Millisecond
	return cfg
}

// frameAt returns a constant frame whose RMS energy is approximately energy.
func frameAt(energy float64, size int) read {
	v := int16(energy * analysis.Int16Divisor)
	samples := make([]int16, size)
	for i := range samples {
		samples[i] = v
	}
	return read{samples: samples}
}

func silentFrames(n, size int) []read {
	out := make([]read, n)
	for i := range out {
		out[i] = read{samples: make([]int16, size)}
	}
	return out
}
