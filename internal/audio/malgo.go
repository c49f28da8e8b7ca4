// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"runtime"
	"sync"

	"tapbeat/internal/capture"
	"tapbeat/internal/log"
	"tapbeat/internal/metrics"

	"github.com/gen2brain/malgo"
)

// MalgoSource captures through miniaudio, either from an input device or, in
// loopback mode, from whatever the system is currently playing.
type MalgoSource struct {
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	deviceID malgo.DeviceID
	queue    *frameQueue
	asm      *assembler
	backend  string

	mu       sync.Mutex
	released bool
}

// OpenMalgo starts a capture (malgo.Capture) or loopback (malgo.Loopback)
// device. deviceIndex picks from the enumerated devices; DefaultDeviceID uses
// the host default.
func OpenMalgo(cfg capture.Config, kind malgo.DeviceType, deviceIndex int, m *metrics.CaptureMetrics) (*MalgoSource, error) {
	backend := "malgo"
	if kind == malgo.Loopback {
		backend = "loopback"
		// miniaudio implements loopback on WASAPI only.
		if runtime.GOOS != "windows" {
			return nil, fmt.Errorf("loopback capture on %s: %w", runtime.GOOS, capture.ErrUnsupported)
		}
	} else if kind != malgo.Capture {
		return nil, fmt.Errorf("malgo device type %d cannot capture: %w", kind, capture.ErrUnsupported)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debugf("Malgo: %s", message)
	})
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %v: %w", err, capture.ErrInitFailed)
	}

	s := &MalgoSource{
		ctx:     ctx,
		backend: backend,
		queue: newFrameQueue(queueDepth, cfg.FrameSize, cfg.ReadTimeout, func() {
			m.RecordDropped(backend)
		}),
	}
	s.asm = newAssembler(cfg.FrameSize, func(frame []int16) { s.queue.push(frame) })

	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = capture.Channels
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if deviceIndex != DefaultDeviceID {
		// Loopback records a playback device.
		enumerate := malgo.Capture
		if kind == malgo.Loopback {
			enumerate = malgo.Playback
		}
		infos, err := ctx.Devices(enumerate)
		if err != nil {
			s.freeContext()
			return nil, fmt.Errorf("enumerate devices: %v: %w", err, capture.ErrInitFailed)
		}
		if deviceIndex < 0 || deviceIndex >= len(infos) {
			s.freeContext()
			return nil, fmt.Errorf("invalid device ID: %d: %w", deviceIndex, capture.ErrInitFailed)
		}
		s.deviceID = infos[deviceIndex].ID
		deviceConfig.Capture.DeviceID = s.deviceID.Pointer()
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onAudioData,
		Stop: s.onDeviceStop,
	})
	if err != nil {
		s.freeContext()
		return nil, fmt.Errorf("init %s device: %v: %w", backend, err, capture.ErrInitFailed)
	}
	s.device = device

	if device.CaptureFormat() != malgo.FormatS16 || device.SampleRate() != uint32(cfg.SampleRate) {
		device.Uninit()
		s.freeContext()
		return nil, fmt.Errorf("device negotiated format %d at %d Hz: %w",
			device.CaptureFormat(), device.SampleRate(), capture.ErrUnsupported)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		s.freeContext()
		return nil, fmt.Errorf("start %s device: %v: %w", backend, err, capture.ErrInitFailed)
	}

	log.Infof("Malgo: %s capture started at %d Hz, %d samples per frame", backend, cfg.SampleRate, cfg.FrameSize)
	return s, nil
}

// onAudioData is called by miniaudio with interleaved S16LE bytes.
func (s *MalgoSource) onAudioData(_, input []byte, _ uint32) {
	if s.queue.isClosed() {
		return
	}
	s.asm.writeS16LE(input)
}

// onDeviceStop fires when the device stops, including unplugs and our own
// Release. Either way nothing more will be read.
func (s *MalgoSource) onDeviceStop() {
	if !s.queue.isClosed() {
		log.Warnf("Malgo: %s device stopped", s.backend)
	}
	s.queue.close()
}

func (s *MalgoSource) ReadFrame(buf []int16) (int, error) {
	return s.queue.pop(buf)
}

// Release stops the device and frees the miniaudio context.
func (s *MalgoSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	s.queue.close()

	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	return s.freeContext()
}

func (s *MalgoSource) freeContext() error {
	if s.ctx == nil {
		return nil
	}
	err := s.ctx.Uninit()
	s.ctx.Free()
	s.ctx = nil
	if err != nil {
		return fmt.Errorf("uninit miniaudio context: %w", err)
	}
	return nil
}

// MalgoDevices lists the capture devices miniaudio can see, or playback
// devices when kind is malgo.Loopback.
func MalgoDevices(kind malgo.DeviceType) ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init miniaudio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	enumerate := malgo.Capture
	if kind == malgo.Loopback {
		enumerate = malgo.Playback
	}
	infos, err := ctx.Devices(enumerate)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		d := Device{ID: i, Name: info.Name()}
		if enumerate == malgo.Capture {
			d.MaxInputChannels = 1
		} else {
			d.MaxOutputChannels = 1
		}
		devices[i] = d
	}
	return devices, nil
}
