// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tapbeat/internal/audio"
	"tapbeat/internal/capture"
	"tapbeat/internal/config"
	"tapbeat/internal/log"
	"tapbeat/internal/metrics"
	"tapbeat/internal/transport"
	"tapbeat/internal/transport/udp"
	"tapbeat/internal/tui"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 2 * time.Second

type runOptions struct {
	tui     bool
	logFile string
}

// runWatcher ends a headless run when capture can no longer produce onsets:
// the source ran dry, acquisition failed or the producer faulted. A finite
// source reports its end as StatusError, which is not a failure once the run
// has started.
type runWatcher struct {
	finite  bool
	started atomic.Bool

	once   sync.Once
	done   chan struct{}
	status capture.Status
	failed bool
}

func newRunWatcher(finite bool) *runWatcher {
	return &runWatcher{finite: finite, done: make(chan struct{})}
}

func (w *runWatcher) OnSessionStatus(status capture.Status) {
	switch {
	case status == capture.StatusGranted:
	case status == capture.StatusError && w.finite && w.started.Load():
		w.finish(status, false)
	default:
		w.finish(status, true)
	}
}

func (w *runWatcher) OnOnset(float64) {}

func (w *runWatcher) OnRunStart(string) { w.started.Store(true) }

func (w *runWatcher) OnRunEnd(string, uint64) {
	w.finish(capture.StatusGranted, false)
}

func (w *runWatcher) finish(status capture.Status, failed bool) {
	w.once.Do(func() {
		w.status = status
		w.failed = failed
		close(w.done)
	})
}

// Done is closed once the run is over.
func (w *runWatcher) Done() <-chan struct{} { return w.done }

// Err returns the failure that ended the run, or nil.
func (w *runWatcher) Err() error {
	select {
	case <-w.done:
	default:
		return nil
	}
	if !w.failed {
		return nil
	}
	return fmt.Errorf("capture ended with status %s", w.status)
}

func runCapture(ctx context.Context, cfg *config.Config, ro runOptions) error {
	restoreLog, err := redirectLogs(ro)
	if err != nil {
		return err
	}
	defer restoreLog()

	backend, err := audio.ParseBackend(cfg.Capture.Backend)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.NewCaptureMetrics(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.Metrics.Enabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		server := metrics.NewServer(cfg.Metrics.ListenAddress, registry)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Warnf("Metrics: shutdown: %v", err)
			}
		}()
	}

	if backend == audio.BackendPortAudio {
		if err := audio.Initialize(); err != nil {
			return err
		}
		defer audio.Terminate()
	}

	var session *capture.Session
	transports, publisher, err := buildTransports(cfg, func() bool { return session.IsRunning() })
	if err != nil {
		return err
	}
	events := transport.NewSink(m, transports...)
	defer func() {
		if err := events.Close(); err != nil {
			log.Warnf("Transport: close: %v", err)
		}
	}()

	watcher := newRunWatcher(backend == audio.BackendFile)
	sinks := capture.MultiSink{events, watcher}
	var monitor *tui.Sink
	if ro.tui {
		monitor = &tui.Sink{}
		sinks = append(sinks, monitor)
	}

	opts := audio.Options{
		Backend:    backend,
		DeviceID:   cfg.Capture.Device,
		LowLatency: cfg.Capture.LowLatency,
		InputFile:  cfg.Capture.InputFile,
		Realtime:   cfg.Capture.Realtime,
		Metrics:    m,
	}
	if cfg.Recording.Enabled {
		if err := os.MkdirAll(cfg.Recording.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create recording directory: %w", err)
		}
		opts.RecordDir = cfg.Recording.OutputDir
	}

	session, err = capture.NewSession(cfg.SessionConfig(), audio.NewAcquirer(opts), sinks, capture.WithMetrics(m))
	if err != nil {
		return err
	}
	if publisher != nil {
		publisher.Start()
	}
	defer session.Stop()

	if ro.tui {
		return tui.RunMonitor(ctx, session, monitor)
	}

	session.Start(ctx)
	select {
	case <-ctx.Done():
		log.Infof("Capture: interrupted, shutting down")
		return nil
	case <-watcher.Done():
		return watcher.Err()
	}
}

// buildTransports opens the enabled transports. The UDP publisher is
// returned separately so its heartbeat can start once the session exists.
func buildTransports(cfg *config.Config, running func() bool) ([]transport.Transport, *udp.Publisher, error) {
	var (
		out       []transport.Transport
		publisher *udp.Publisher
	)
	closeAll := func() {
		for _, t := range out {
			_ = t.Close()
		}
	}

	tc := cfg.Transport
	if tc.Log {
		out = append(out, transport.NewLoggingTransport())
	}
	if tc.WebSocketEnabled {
		ws, err := transport.NewWebSocketTransport(tc.WebSocketAddress)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		log.Infof("Transport: websocket clients connect to ws://%s/ws", ws.Addr())
		out = append(out, ws)
	}
	if tc.UDPEnabled {
		sender, err := udp.NewSender(tc.UDPTargetAddress)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		publisher, err = udp.NewPublisher(sender, tc.UDPHeartbeatInterval, running)
		if err != nil {
			_ = sender.Close()
			closeAll()
			return nil, nil, err
		}
		out = append(out, publisher)
	}
	return out, publisher, nil
}

// redirectLogs points the logger at the log file, or discards it while the
// monitor owns the terminal. The returned func restores stderr.
func redirectLogs(ro runOptions) (func(), error) {
	var w io.Writer
	var closer io.Closer
	switch {
	case ro.logFile != "":
		f, err := os.OpenFile(ro.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	case ro.tui:
		w = io.Discard
	default:
		return func() {}, nil
	}

	log.SetOutput(w)
	return func() {
		log.SetOutput(os.Stderr)
		if closer != nil {
			if err := closer.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
				fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
			}
		}
	}, nil
}
