// SPDX-License-Identifier: MIT
package capture

import "errors"

// Acquisition failures. An Acquirer wraps one of these so Start can map it to
// a Status.
var (
	ErrUnsupported      = errors.New("audio capture unsupported")
	ErrPermissionDenied = errors.New("audio capture permission denied")
	ErrInitFailed       = errors.New("audio source initialization failed")
)

// Read failures. A source wraps ErrTransientRead for a single bad frame the
// loop should skip, and ErrSourceClosed when no more frames will arrive.
var (
	ErrTransientRead = errors.New("transient audio read failure")
	ErrSourceClosed  = errors.New("audio source closed")
)

// StatusForError maps an acquisition error to the status reported to the
// event sink.
func StatusForError(err error) Status {
	switch {
	case errors.Is(err, ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, ErrPermissionDenied):
		return StatusDenied
	default:
		return StatusError
	}
}
