// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"time"

	"tapbeat/internal/analysis"
	"tapbeat/internal/capture"
)

// Analysis is the result of running the detector over a whole file.
type Analysis struct {
	Path     string          `json:"path"`
	Duration time.Duration   `json:"duration"`
	Frames   int             `json:"frames"`
	Onsets   []time.Duration `json:"onsets"`
}

// OnsetSeconds returns the onset timestamps in seconds.
func (a *Analysis) OnsetSeconds() []float64 {
	out := make([]float64, len(a.Onsets))
	for i, at := range a.Onsets {
		out[i] = at.Seconds()
	}
	return out
}

// AnalyzeFile runs the live detection pipeline over a WAV file as fast as it
// can be decoded. Timestamps are audio time at the end of each frame, so
// they match what a live session fed the same audio would report.
func AnalyzeFile(path string, cfg capture.Config) (*Analysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}

	source, err := OpenFile(path, cfg, false)
	if err != nil {
		return nil, err
	}
	defer source.Release()

	detector := analysis.NewOnsetDetector(analysis.NewSensitivity(cfg.Sensitivity), cfg.Warmup)
	result := &Analysis{Path: path}
	buf := make([]int16, cfg.FrameSize)
	var position int64

	for {
		n, err := source.ReadFrame(buf)
		if errors.Is(err, capture.ErrSourceClosed) {
			break
		}
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			continue
		}

		position += int64(n)
		now := time.Duration(position) * time.Second / time.Duration(cfg.SampleRate)
		result.Frames++

		energy := analysis.RMS(buf[:n], cfg.Divisor)
		if event, ok := detector.Evaluate(energy, now); ok {
			result.Onsets = append(result.Onsets, event.At)
		}
	}

	result.Duration = time.Duration(position) * time.Second / time.Duration(cfg.SampleRate)
	return result, nil
}
