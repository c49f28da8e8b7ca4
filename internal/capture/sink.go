// SPDX-License-Identifier: MIT
package capture

// Status is the outcome of a Start attempt, or StatusError after a source
// failure tore a running session down.
type Status int

const (
	StatusGranted Status = iota
	StatusDenied
	StatusError
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "granted"
	case StatusDenied:
		return "denied"
	case StatusError:
		return "error"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// EventSink receives session notifications. Calls come from the goroutine
// that called Start for Start outcomes and from the producer goroutine
// otherwise; onsets arrive in frame order.
type EventSink interface {
	OnSessionStatus(status Status)
	OnOnset(timestampSeconds float64)
}

// RunObserver is implemented by sinks that track runs. OnRunStart comes
// before the run's StatusGranted notification; OnRunEnd comes after the run
// is torn down, following its StatusError if it failed.
type RunObserver interface {
	OnRunStart(runID string)
	OnRunEnd(runID string, onsets uint64)
}

// SinkFuncs adapts plain functions to EventSink. Nil fields are ignored.
type SinkFuncs struct {
	Status func(Status)
	Onset  func(float64)
}

func (f SinkFuncs) OnSessionStatus(status Status) {
	if f.Status != nil {
		f.Status(status)
	}
}

func (f SinkFuncs) OnOnset(timestampSeconds float64) {
	if f.Onset != nil {
		f.Onset(timestampSeconds)
	}
}

// MultiSink fans every notification out to each sink in order.
type MultiSink []EventSink

func (m MultiSink) OnSessionStatus(status Status) {
	for _, s := range m {
		s.OnSessionStatus(status)
	}
}

func (m MultiSink) OnOnset(timestampSeconds float64) {
	for _, s := range m {
		s.OnOnset(timestampSeconds)
	}
}

func (m MultiSink) OnRunStart(runID string) {
	for _, s := range m {
		if o, ok := s.(RunObserver); ok {
			o.OnRunStart(runID)
		}
	}
}

func (m MultiSink) OnRunEnd(runID string, onsets uint64) {
	for _, s := range m {
		if o, ok := s.(RunObserver); ok {
			o.OnRunEnd(runID, onsets)
		}
	}
}
