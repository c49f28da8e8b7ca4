// SPDX-License-Identifier: MIT

/*
Package capture runs the onset detection producer loop.

A Session owns one audio Source at a time. Start acquires it and launches a
single producer goroutine that reads fixed-size frames, converts each to RMS
energy and feeds the onset detector; detected onsets go to the EventSink.

Thread Safety:
  - Start and Stop are serialized by a mutex
  - the producer polls an atomic stop flag between reads
  - sensitivity is an atomic value shared with the detector
  - the rolling window and detector state belong to the producer
*/
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tapbeat/internal/analysis"
	"tapbeat/internal/log"
	"tapbeat/internal/metrics"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Idle State = iota
	Capturing
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Clock yields monotonic timestamps for onset events. The default clock
// counts from session creation and is not reset between runs.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	origin time.Time
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.origin)
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the wall-clock based monotonic clock.
func WithClock(c Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// WithMetrics records loop and lifecycle metrics on m.
func WithMetrics(m *metrics.CaptureMetrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

type run struct {
	id     string
	source Source

	stop  atomic.Bool
	ready chan struct{} // closed once StatusGranted has been delivered
	done  chan struct{} // closed when the producer leaves its loop

	releaseOnce sync.Once
	onsets      atomic.Uint64
}

// Session is a start/stop capture lifecycle around one producer loop.
type Session struct {
	cfg         Config
	acquire     Acquirer
	sink        EventSink
	clock       Clock
	metrics     *metrics.CaptureMetrics
	sensitivity *analysis.Sensitivity

	mu    sync.Mutex
	run   *run
	state atomic.Int32
}

// NewSession validates cfg and returns an idle session. A nil sink discards
// every notification.
func NewSession(cfg Config, acquire Acquirer, sink EventSink, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}
	if acquire == nil {
		return nil, errors.New("capture session needs an acquirer")
	}
	if sink == nil {
		sink = SinkFuncs{}
	}

	s := &Session{
		cfg:         cfg,
		acquire:     acquire,
		sink:        sink,
		clock:       monotonicClock{origin: time.Now()},
		sensitivity: analysis.NewSensitivity(cfg.Sensitivity),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics.SetSensitivity(s.sensitivity.Load())
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Start acquires a source and launches the producer loop. It does nothing if
// the session is already capturing. Failures are reported through the sink,
// never returned.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.run != nil {
		s.mu.Unlock()
		log.Debugf("Capture: Start called but session %s already running", s.run.id)
		return
	}

	source, err := s.acquire(ctx, s.cfg)
	if err == nil && source == nil {
		err = fmt.Errorf("acquirer returned no source: %w", ErrInitFailed)
	}
	if err != nil {
		s.mu.Unlock()
		status := StatusForError(err)
		log.Errorf("Capture: failed to acquire audio source (%s): %v", status, err)
		s.notifyStatus(status)
		return
	}

	r := &run{
		id:     uuid.NewString(),
		source: source,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.run = r
	s.state.Store(int32(Capturing))
	s.metrics.SetRunning(true)

	go s.produce(r)
	s.mu.Unlock()

	log.Infof("Capture: session %s started (frame %d samples, k=%.2f, warm-up %s)",
		r.id, s.cfg.FrameSize, s.sensitivity.Load(), s.cfg.Warmup)

	if o, ok := s.sink.(RunObserver); ok {
		s.guardSink("run start", func() { o.OnRunStart(r.id) })
	}
	s.notifyStatus(StatusGranted)
	close(r.ready)
}

// Stop signals the producer, waits up to StopTimeout for it to exit, then
// releases the source. It does nothing if the session is idle. A Stop racing
// Start first waits for Start to finish notifying the sink, so the run's
// OnRunEnd always follows its StatusGranted. Sinks must therefore not call
// Stop from inside OnRunStart or a StatusGranted notification.
func (s *Session) Stop() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return
	}
	<-r.ready

	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}

	s.state.Store(int32(Stopping))
	r.stop.Store(true)

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
	case <-timer.C:
		log.Warnf("Capture: producer for session %s did not exit within %s, releasing source anyway",
			r.id, s.cfg.StopTimeout)
		s.metrics.RecordStopTimeout()
	}

	s.release(r)
	s.run = nil
	s.state.Store(int32(Idle))
	s.metrics.SetRunning(false)
	s.mu.Unlock()

	log.Infof("Capture: session %s stopped after %d onsets", r.id, r.onsets.Load())
	s.notifyRunEnd(r)
}

// IsRunning reports whether a producer loop is active.
func (s *Session) IsRunning() bool {
	return s.State() == Capturing
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RunID returns the ID of the active run, or "" when idle.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.id
}

// SetSensitivity sets the threshold multiplier, clamped to [0.5, 5.0]. It
// takes effect from the next frame and persists across runs.
func (s *Session) SetSensitivity(k float64) {
	s.sensitivity.Set(k)
	stored := s.sensitivity.Load()
	s.metrics.SetSensitivity(stored)
	log.Debugf("Capture: sensitivity set to %.2f (requested %.2f)", stored, k)
}

// Sensitivity returns the current threshold multiplier.
func (s *Session) Sensitivity() float64 {
	return s.sensitivity.Load()
}

func (s *Session) produce(r *run) {
	err := s.loop(r)
	close(r.done)
	if err != nil {
		s.fault(r, err)
	}
}

// loop returns nil when asked to stop and the read error otherwise.
func (s *Session) loop(r *run) error {
	<-r.ready

	buf := make([]int16, s.cfg.FrameSize)
	detector := analysis.NewOnsetDetector(s.sensitivity, s.cfg.Warmup)

	for !r.stop.Load() {
		n, err := r.source.ReadFrame(buf)
		if err != nil {
			if r.stop.Load() {
				return nil
			}
			if errors.Is(err, ErrTransientRead) {
				log.Debugf("Capture: skipping frame: %v", err)
				s.metrics.RecordReadError("transient")
				continue
			}
			s.metrics.RecordReadError("fatal")
			return err
		}
		if n <= 0 {
			s.metrics.RecordSkipped()
			continue
		}

		s.processFrame(r, detector, buf[:min(n, len(buf))])
	}
	return nil
}

// processFrame runs one frame through the detector. A panic abandons the
// frame only.
func (s *Session) processFrame(r *run, detector *analysis.OnsetDetector, frame []int16) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Capture: frame dropped after panic: %v", p)
			s.metrics.RecordPanic()
		}
	}()

	started := time.Now()
	energy := analysis.RMS(frame, s.cfg.Divisor)
	event, ok := detector.Evaluate(energy, s.clock.Now())
	s.metrics.RecordFrame(energy, detector.Threshold(), time.Since(started))

	if !ok {
		return
	}
	r.onsets.Add(1)
	s.metrics.RecordOnset()
	s.sink.OnOnset(event.Seconds())
}

// fault tears r down after a fatal read error unless Stop got there first.
func (s *Session) fault(r *run, cause error) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.release(r)
	s.run = nil
	s.state.Store(int32(Idle))
	s.metrics.SetRunning(false)
	s.mu.Unlock()

	log.Errorf("Capture: session %s ended by source failure: %v", r.id, cause)
	s.notifyStatus(StatusError)
	s.notifyRunEnd(r)
}

func (s *Session) release(r *run) {
	r.releaseOnce.Do(func() {
		if err := r.source.Release(); err != nil {
			log.Warnf("Capture: error releasing source for session %s: %v", r.id, err)
		}
	})
}

func (s *Session) notifyStatus(status Status) {
	s.metrics.RecordStatus(status.String())
	s.guardSink("status "+status.String(), func() { s.sink.OnSessionStatus(status) })
}

func (s *Session) notifyRunEnd(r *run) {
	if o, ok := s.sink.(RunObserver); ok {
		s.guardSink("run end", func() { o.OnRunEnd(r.id, r.onsets.Load()) })
	}
}

// guardSink keeps a panicking sink from taking down the caller.
func (s *Session) guardSink(what string, call func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Errorf("Capture: event sink panicked on %s: %v", what, p)
		}
	}()
	call()
}
