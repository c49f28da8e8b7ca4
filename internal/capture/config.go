// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"time"

	"tapbeat/internal/analysis"
)

// Fixed stream format.
const (
	SampleRate = 22050
	Channels   = 1
)

// Defaults applied by DefaultConfig.
const (
	DefaultFrameSize   = SampleRate / 10 // 100ms of audio
	DefaultStopTimeout = time.Second
	DefaultReadTimeout = 50 * time.Millisecond
)

// Config is fixed for the lifetime of a session.
type Config struct {
	SampleRate int
	FrameSize  int     // samples per ReadFrame
	Divisor    float64 // maps raw samples into [-1, 1]

	Sensitivity float64 // initial k
	Warmup      analysis.WarmupPolicy

	// StopTimeout bounds how long Stop waits for the producer to exit.
	StopTimeout time.Duration
	// ReadTimeout is the longest a backend may block in ReadFrame before
	// returning no data.
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration for signed 16-bit mono PCM at the
// fixed sample rate.
func DefaultConfig() Config {
	return Config{
		SampleRate:  SampleRate,
		FrameSize:   DefaultFrameSize,
		Divisor:     analysis.Int16Divisor,
		Sensitivity: analysis.DefaultSensitivity,
		Warmup:      analysis.WarmupZeroSeeded,
		StopTimeout: DefaultStopTimeout,
		ReadTimeout: DefaultReadTimeout,
	}
}

// FrameDuration returns the audio time covered by one full frame.
func (c Config) FrameDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate != SampleRate {
		return fmt.Errorf("sample rate must be %d Hz, got %d", SampleRate, c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	if c.Divisor <= 0 {
		return fmt.Errorf("normalization divisor must be positive, got %g", c.Divisor)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout must be positive, got %s", c.StopTimeout)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %s", c.ReadTimeout)
	}
	if c.Warmup != analysis.WarmupZeroSeeded && c.Warmup != analysis.WarmupDeferred {
		return fmt.Errorf("unknown warm-up policy %d", c.Warmup)
	}
	return nil
}
