// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"tapbeat/internal/analysis"
	"tapbeat/internal/capture"
	"tapbeat/internal/log"

	"gopkg.in/yaml.v3"
)

// SearchPaths are tried in order when LoadConfig is given no path.
var SearchPaths = []string{"tapbeat.yaml", "config.yaml"}

// LoadConfig reads the configuration with ReadConfig and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ReadConfig loads configuration from a YAML file specified by path. If path
// is empty, it searches SearchPaths. If no file is found, it uses built-in
// defaults. Environment variable overrides are applied after the file. The
// result is not validated, so callers layering more settings on top (such as
// command line flags) validate once they are done.
func ReadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range SearchPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		log.Debugf("Config: loaded %s", path)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	cc := c.Capture
	if !slices.Contains(Backends, cc.Backend) {
		errs = append(errs, fmt.Errorf("capture.backend %q is not one of %v", cc.Backend, Backends))
	}
	if cc.Device < MinDeviceID {
		errs = append(errs, fmt.Errorf("capture.device must be >= %d, got %d", MinDeviceID, cc.Device))
	}
	if cc.FrameSize <= 0 || cc.FrameSize > MaxFrameSize {
		errs = append(errs, fmt.Errorf("capture.frame_size must be in [1, %d], got %d", MaxFrameSize, cc.FrameSize))
	}
	if cc.Warmup != WarmupZero && cc.Warmup != WarmupDefer {
		errs = append(errs, fmt.Errorf("capture.warmup must be %q or %q, got %q", WarmupZero, WarmupDefer, cc.Warmup))
	}
	if cc.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.read_timeout must be positive"))
	}
	if cc.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.stop_timeout must be positive"))
	}
	if cc.Backend == "file" && cc.InputFile == "" {
		errs = append(errs, errors.New("capture.input_file must be set for the file backend"))
	}

	if c.Recording.Enabled && c.Recording.OutputDir == "" {
		errs = append(errs, errors.New("recording.output_dir must be set when recording is enabled"))
	}

	t := c.Transport
	if t.WebSocketEnabled {
		if err := checkHostPort(t.WebSocketAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.websocket_address: %w", err))
		}
	}
	if t.UDPEnabled {
		if err := checkHostPort(t.UDPTargetAddress); err != nil {
			errs = append(errs, fmt.Errorf("transport.udp_target_address: %w", err))
		}
		if t.UDPHeartbeatInterval <= 0 {
			errs = append(errs, errors.New("transport.udp_heartbeat_interval must be positive when UDP is enabled"))
		}
	}

	if c.Metrics.Enabled {
		if err := checkHostPort(c.Metrics.ListenAddress); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen_address: %w", err))
		}
	}

	return errors.Join(errs...)
}

func checkHostPort(addr string) error {
	if addr == "" {
		return errors.New("must be set")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%q appears invalid: %w", addr, err)
	}
	return nil
}

// SessionConfig returns the capture session settings. Sample rate and
// normalization are fixed by the stream format.
func (c Config) SessionConfig() capture.Config {
	sc := capture.DefaultConfig()
	sc.FrameSize = c.Capture.FrameSize
	sc.Sensitivity = c.Capture.Sensitivity
	sc.ReadTimeout = c.Capture.ReadTimeout
	sc.StopTimeout = c.Capture.StopTimeout
	if c.Capture.Warmup == WarmupDefer {
		sc.Warmup = analysis.WarmupDeferred
	}
	return sc
}

// envOverride maps one ENV_* variable onto a setting.
type envOverride struct {
	key   string
	apply func(c *Config, val string) error
}

var envOverrides = []envOverride{
	{"ENV_LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},

	// ENV_CAPTURE_{...}
	{"ENV_CAPTURE_BACKEND", func(c *Config, v string) error { c.Capture.Backend = v; return nil }},
	{"ENV_CAPTURE_DEVICE", func(c *Config, v string) error { return setInt(&c.Capture.Device, v) }},
	{"ENV_CAPTURE_FRAME_SIZE", func(c *Config, v string) error { return setInt(&c.Capture.FrameSize, v) }},
	{"ENV_CAPTURE_SENSITIVITY", func(c *Config, v string) error { return setFloat(&c.Capture.Sensitivity, v) }},
	{"ENV_CAPTURE_WARMUP", func(c *Config, v string) error { c.Capture.Warmup = v; return nil }},
	{"ENV_CAPTURE_INPUT_FILE", func(c *Config, v string) error { c.Capture.InputFile = v; return nil }},

	// ENV_RECORDING_{...}
	{"ENV_RECORDING_ENABLED", func(c *Config, v string) error { return setBool(&c.Recording.Enabled, v) }},
	{"ENV_RECORDING_OUTPUT_DIR", func(c *Config, v string) error { c.Recording.OutputDir = v; return nil }},

	// ENV_WEBSOCKET_{...} and ENV_UDP_{...} configure the transports.
	{"ENV_WEBSOCKET_ENABLED", func(c *Config, v string) error { return setBool(&c.Transport.WebSocketEnabled, v) }},
	{"ENV_WEBSOCKET_ADDRESS", func(c *Config, v string) error { c.Transport.WebSocketAddress = v; return nil }},
	{"ENV_UDP_ENABLED", func(c *Config, v string) error { return setBool(&c.Transport.UDPEnabled, v) }},
	{"ENV_UDP_TARGET_ADDRESS", func(c *Config, v string) error { c.Transport.UDPTargetAddress = v; return nil }},
	{"ENV_UDP_HEARTBEAT_INTERVAL", func(c *Config, v string) error {
		return setDuration(&c.Transport.UDPHeartbeatInterval, v)
	}},

	// ENV_METRICS_{...}
	{"ENV_METRICS_ENABLED", func(c *Config, v string) error { return setBool(&c.Metrics.Enabled, v) }},
	{"ENV_METRICS_ADDRESS", func(c *Config, v string) error { c.Metrics.ListenAddress = v; return nil }},
}

// applyEnvOverrides applies every ENV_* variable that is set. A value that
// does not parse is an error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	for _, o := range envOverrides {
		val, ok := os.LookupEnv(o.key)
		if !ok {
			continue
		}
		if err := o.apply(c, val); err != nil {
			return fmt.Errorf("environment override %s=%q: %w", o.key, val, err)
		}
		log.Debugf("Config: overriding from %s", o.key)
	}
	return nil
}

func setInt(dst *int, val string) error {
	v, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setFloat(dst *float64, val string) error {
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setBool(dst *bool, val string) error {
	v, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func setDuration(dst *time.Duration, val string) error {
	v, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
