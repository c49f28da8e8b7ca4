// SPDX-License-Identifier: MIT

/*
Package audio provides the capture backends behind capture.Source:
  - PortAudio input streams
  - miniaudio capture and loopback devices
  - WAV file replay, plus a WAV recording tee for any source

It also runs the detector offline over WAV files.
*/
package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tapbeat/internal/capture"
	"tapbeat/internal/metrics"

	"github.com/gen2brain/malgo"
)

// Backend names a capture implementation.
type Backend string

const (
	BackendPortAudio Backend = "portaudio"
	BackendMalgo     Backend = "malgo"
	BackendLoopback  Backend = "loopback"
	BackendFile      Backend = "file"
)

// Backends lists every supported backend.
var Backends = []Backend{BackendPortAudio, BackendMalgo, BackendLoopback, BackendFile}

// ParseBackend validates a backend name, ignoring case.
func ParseBackend(name string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown capture backend %q", name)
}

// Options selects and parameterizes the backend an Acquirer opens.
type Options struct {
	Backend    Backend
	DeviceID   int
	LowLatency bool

	InputFile string
	Realtime  bool

	// RecordDir, when set, tees every run into a new WAV file there.
	RecordDir string

	Metrics *metrics.CaptureMetrics
}

// NewAcquirer returns a capture.Acquirer that opens the configured backend.
func NewAcquirer(opts Options) capture.Acquirer {
	return func(ctx context.Context, cfg capture.Config) (capture.Source, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("acquire %s source: %v: %w", opts.Backend, err, capture.ErrInitFailed)
		}

		source, err := openBackend(opts, cfg)
		if err != nil {
			return nil, err
		}

		if opts.RecordDir == "" {
			return source, nil
		}
		recording, err := NewRecordingSource(source, RecordingPath(opts.RecordDir, time.Now()), cfg)
		if err != nil {
			_ = source.Release()
			return nil, fmt.Errorf("%v: %w", err, capture.ErrInitFailed)
		}
		return recording, nil
	}
}

func openBackend(opts Options, cfg capture.Config) (capture.Source, error) {
	switch opts.Backend {
	case BackendPortAudio, "":
		return OpenPortAudio(cfg, opts.DeviceID, opts.LowLatency, opts.Metrics)
	case BackendMalgo:
		return OpenMalgo(cfg, malgo.Capture, opts.DeviceID, opts.Metrics)
	case BackendLoopback:
		return OpenMalgo(cfg, malgo.Loopback, opts.DeviceID, opts.Metrics)
	case BackendFile:
		if opts.InputFile == "" {
			return nil, fmt.Errorf("file backend needs an input file: %w", capture.ErrInitFailed)
		}
		return OpenFile(opts.InputFile, cfg, opts.Realtime)
	default:
		return nil, fmt.Errorf("capture backend %q: %w", opts.Backend, capture.ErrUnsupported)
	}
}
