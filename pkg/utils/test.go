// SPDX-License-Identifier: MIT

// Package utils holds signal generators and transport doubles shared by the
// test suites of the capture, analysis and transport packages.
package utils

import (
	"math"
	"sync"
	"time"
)

// MockTransport records every message it is asked to send.
type MockTransport struct {
	mu       sync.Mutex
	messages []any
	closed   bool
}

// Send stores the message for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns a copy of everything sent so far, in order.
func (m *MockTransport) Messages() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.messages))
	copy(out, m.messages)
	return out
}

// Closed reports whether Close has been called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GenerateSineWave returns size samples of a sine at frequency Hz with the
// given peak amplitude in [0, 1].
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int16(math.Sin(2*math.Pi*frequency*t) * amplitude * math.MaxInt16)
	}
	return buffer
}

// GenerateComplexWave returns a 440Hz fundamental plus two harmonics scaled
// to amplitude.
func GenerateComplexWave(size int, sampleRate, amplitude float64) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buffer[i] = int16(signal * amplitude * math.MaxInt16)
	}
	return buffer
}

// GenerateClickTrack returns a mostly silent signal with a short burst of
// white-ish noise every interval, starting at the first interval boundary.
// It models a metronome or kick pattern for onset tests.
func GenerateClickTrack(size int, sampleRate float64, interval, clickLength time.Duration, amplitude float64) []int16 {
	buffer := make([]int16, size)
	every := int(interval.Seconds() * sampleRate)
	length := int(clickLength.Seconds() * sampleRate)
	if every <= 0 || length <= 0 {
		return buffer
	}

	// Deterministic LCG so every run produces the same clicks.
	var state uint32 = 1
	for start := every; start < size; start += every {
		for i := start; i < start+length && i < size; i++ {
			state = state*1664525 + 1013904223
			noise := float64(int32(state)) / math.MaxInt32
			buffer[i] = int16(noise * amplitude * math.MaxInt16)
		}
	}
	return buffer
}

// ClickOnsets returns the times GenerateClickTrack places its clicks at.
func ClickOnsets(size int, sampleRate float64, interval time.Duration) []time.Duration {
	every := int(interval.Seconds() * sampleRate)
	if every <= 0 {
		return nil
	}
	var out []time.Duration
	for start := every; start < size; start += every {
		out = append(out, time.Duration(float64(start)/sampleRate*float64(time.Second)))
	}
	return out
}

// Frames splits signal into consecutive frames of frameSize samples. The last
// partial frame is kept.
func Frames(signal []int16, frameSize int) [][]int16 {
	if frameSize <= 0 {
		return nil
	}
	var frames [][]int16
	for start := 0; start < len(signal); start += frameSize {
		end := min(start+frameSize, len(signal))
		frames = append(frames, signal[start:end])
	}
	return frames
}

// Constant returns size samples all equal to value.
func Constant(size int, value int16) []int16 {
	buffer := make([]int16, size)
	for i := range buffer {
		buffer[i] = value
	}
	return buffer
}
