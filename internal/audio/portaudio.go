// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"sync"

	"tapbeat/internal/capture"
	"tapbeat/internal/log"
	"tapbeat/internal/metrics"

	"github.com/gordonklaus/portaudio"
)

// queueDepth is how many frames a callback backend buffers ahead of the
// producer loop.
const queueDepth = 8

// PortAudioSource captures a mono int16 stream through a PortAudio callback.
type PortAudioSource struct {
	device *portaudio.DeviceInfo
	stream *portaudio.Stream
	queue  *frameQueue

	mu       sync.Mutex
	released bool
}

// OpenPortAudio opens and starts an input stream on deviceID with one
// callback per frame. PortAudio must already be initialized.
func OpenPortAudio(cfg capture.Config, deviceID int, lowLatency bool, m *metrics.CaptureMetrics) (*PortAudioSource, error) {
	device, err := InputDevice(deviceID)
	if err != nil {
		return nil, fmt.Errorf("portaudio input device %d: %v: %w", deviceID, err, capture.ErrInitFailed)
	}
	if device == nil || device.MaxInputChannels < capture.Channels {
		return nil, fmt.Errorf("portaudio device %d has no input channels: %w", deviceID, capture.ErrUnsupported)
	}

	latency := device.DefaultHighInputLatency
	if lowLatency {
		latency = device.DefaultLowInputLatency
	}

	s := &PortAudioSource{
		device: device,
		queue: newFrameQueue(queueDepth, cfg.FrameSize, cfg.ReadTimeout, func() {
			m.RecordDropped("portaudio")
		}),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: capture.Channels,
			Device:   device,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: cfg.FrameSize,
		SampleRate:      float64(cfg.SampleRate),
	}

	stream, err := portaudio.OpenStream(params, s.processInputStream)
	if err != nil {
		return nil, fmt.Errorf("open portaudio stream on %q: %v: %w", device.Name, err, capture.ErrInitFailed)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start portaudio stream on %q: %v: %w", device.Name, err, capture.ErrInitFailed)
	}

	log.Infof("PortAudio: capturing from %q at %d Hz, %d samples per frame, latency %s",
		device.Name, cfg.SampleRate, cfg.FrameSize, latency)
	return s, nil
}

// processInputStream runs on the PortAudio callback thread. It only copies;
// the detector runs on the producer goroutine.
func (s *PortAudioSource) processInputStream(in []int16) {
	s.queue.push(in)
}

// DeviceName returns the name of the capture device.
func (s *PortAudioSource) DeviceName() string {
	return s.device.Name
}

func (s *PortAudioSource) ReadFrame(buf []int16) (int, error) {
	return s.queue.pop(buf)
}

// Release stops and closes the stream. Pending and future reads return
// ErrSourceClosed.
func (s *PortAudioSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	s.queue.close()

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	return errors.Join(errs...)
}
