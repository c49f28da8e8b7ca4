// SPDX-License-Identifier: MIT

// Package transport publishes capture events to the outside world.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"tapbeat/internal/capture"
	"tapbeat/internal/log"
	"tapbeat/internal/metrics"
)

// Transport defines a generic interface for sending events.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(data any) error
	Close() error
}

// Named is implemented by transports that report a short name for logs and
// metrics labels.
type Named interface {
	Name() string
}

// Message types.
const (
	TypeOnset  = "onset"
	TypeStatus = "status"
)

// OnsetMessage is published once per detected onset.
type OnsetMessage struct {
	Type      string  `json:"type"`
	Session   string  `json:"session"`
	Seq       uint64  `json:"seq"`
	Timestamp float64 `json:"timestamp"` // seconds since the session was created
}

// StatusMessage is published once per session status change.
type StatusMessage struct {
	Type    string `json:"type"`
	Session string `json:"session,omitempty"`
	Status  string `json:"status"`
}

// NewOnsetMessage builds an onset message.
func NewOnsetMessage(session string, seq uint64, timestamp float64) OnsetMessage {
	return OnsetMessage{Type: TypeOnset, Session: session, Seq: seq, Timestamp: timestamp}
}

// NewStatusMessage builds a status message.
func NewStatusMessage(session string, status capture.Status) StatusMessage {
	return StatusMessage{Type: TypeStatus, Session: session, Status: status.String()}
}

// Sink adapts a set of transports to capture.EventSink. Onsets are numbered
// from 1 within each run.
type Sink struct {
	transports []Transport
	metrics    *metrics.CaptureMetrics

	mu      sync.Mutex
	session string
	seq     uint64
}

var (
	_ capture.EventSink   = (*Sink)(nil)
	_ capture.RunObserver = (*Sink)(nil)
)

// NewSink fans events out to transports. m may be nil.
func NewSink(m *metrics.CaptureMetrics, transports ...Transport) *Sink {
	return &Sink{transports: transports, metrics: m}
}

// OnRunStart tags following messages with runID and restarts numbering.
func (s *Sink) OnRunStart(runID string) {
	s.mu.Lock()
	s.session = runID
	s.seq = 0
	s.mu.Unlock()
}

// OnRunEnd detaches following messages from runID.
func (s *Sink) OnRunEnd(runID string, onsets uint64) {
	s.mu.Lock()
	if s.session == runID {
		s.session = ""
	}
	s.mu.Unlock()
	log.Debugf("Transport: run %s ended after %d onsets", runID, onsets)
}

// OnSessionStatus publishes a status message. Acquisition failures happen
// outside any run, so they carry no session.
func (s *Sink) OnSessionStatus(status capture.Status) {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()

	s.send(NewStatusMessage(session, status))
}

// OnOnset publishes an onset message.
func (s *Sink) OnOnset(timestampSeconds float64) {
	s.mu.Lock()
	s.seq++
	msg := NewOnsetMessage(s.session, s.seq, timestampSeconds)
	s.mu.Unlock()

	s.send(msg)
}

func (s *Sink) send(msg any) {
	for _, t := range s.transports {
		if err := t.Send(msg); err != nil {
			name := transportName(t)
			log.Debugf("Transport: %s send failed: %v", name, err)
			s.metrics.RecordTransportError(name)
		}
	}
}

// Close closes every transport.
func (s *Sink) Close() error {
	var errs []error
	for _, t := range s.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", transportName(t), err))
		}
	}
	return errors.Join(errs...)
}

func transportName(t Transport) string {
	if n, ok := t.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", t)
}
