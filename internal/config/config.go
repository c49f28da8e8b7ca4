// SPDX-License-Identifier: MIT

// Package config loads the tapbeat YAML configuration.
package config

import "time"

// Defaults for every setting the configuration file may omit.
const (
	DefaultLogLevel    = "info"
	DefaultBackend     = "portaudio"
	DefaultDeviceID    = MinDeviceID // System default device
	DefaultFrameSize   = 2205        // 100ms at 22050 Hz
	DefaultSensitivity = 1.8
	DefaultWarmup      = WarmupZero
	DefaultReadTimeout = 50 * time.Millisecond
	DefaultStopTimeout = time.Second

	DefaultRecordingDir = "./recordings"

	DefaultWebSocketAddress     = "127.0.0.1:8080"
	DefaultUDPTargetAddress     = "127.0.0.1:9090"
	DefaultUDPHeartbeatInterval = time.Second

	DefaultMetricsAddress = "127.0.0.1:9100"

	MinDeviceID  = -1    // -1 represents system default device
	MaxFrameSize = 22050 // One second of audio
)

// Warm-up policies.
const (
	WarmupZero  = "zero"  // statistics start from a zero-filled window
	WarmupDefer = "defer" // no onsets until the window has filled
)

// Backends accepted in capture.backend.
var Backends = []string{"portaudio", "malgo", "loopback", "file"}

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string          `yaml:"log_level"` // debug, info, warn, error
	Capture   CaptureConfig   `yaml:"capture"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// CaptureConfig selects the audio source and tunes the detector.
type CaptureConfig struct {
	Backend     string        `yaml:"backend"`      // portaudio, malgo, loopback or file
	Device      int           `yaml:"device"`       // Device index for the backend (-1 for default).
	LowLatency  bool          `yaml:"low_latency"`  // Request low latency settings from PortAudio.
	FrameSize   int           `yaml:"frame_size"`   // Samples per analysis frame.
	Sensitivity float64       `yaml:"sensitivity"`  // Threshold multiplier, clamped to [0.5, 5.0].
	Warmup      string        `yaml:"warmup"`       // zero or defer
	ReadTimeout time.Duration `yaml:"read_timeout"` // Longest a read may block.
	StopTimeout time.Duration `yaml:"stop_timeout"` // Longest Stop waits for the capture loop.
	InputFile   string        `yaml:"input_file"`   // WAV file for the file backend.
	Realtime    bool          `yaml:"realtime"`     // Pace file playback like a live device.
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`    // Tee captured audio into WAV files.
	OutputDir string `yaml:"output_dir"` // Directory to save recorded audio files.
}

// TransportConfig selects where onset and status events are published.
type TransportConfig struct {
	Log bool `yaml:"log"` // Log every event.

	WebSocketEnabled bool   `yaml:"websocket_enabled"`
	WebSocketAddress string `yaml:"websocket_address"` // Listen address for /ws.

	UDPEnabled           bool          `yaml:"udp_enabled"`
	UDPTargetAddress     string        `yaml:"udp_target_address"` // e.g. "127.0.0.1:9090"
	UDPHeartbeatInterval time.Duration `yaml:"udp_heartbeat_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Capture: CaptureConfig{
			Backend:     DefaultBackend,
			Device:      DefaultDeviceID,
			FrameSize:   DefaultFrameSize,
			Sensitivity: DefaultSensitivity,
			Warmup:      DefaultWarmup,
			ReadTimeout: DefaultReadTimeout,
			StopTimeout: DefaultStopTimeout,
			Realtime:    true,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
		},
		Transport: TransportConfig{
			Log:                  true,
			WebSocketAddress:     DefaultWebSocketAddress,
			UDPTargetAddress:     DefaultUDPTargetAddress,
			UDPHeartbeatInterval: DefaultUDPHeartbeatInterval,
		},
		Metrics: MetricsConfig{
			ListenAddress: DefaultMetricsAddress,
		},
	}
}
