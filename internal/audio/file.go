// SPDX-License-Identifier: MIT
package audio

import (
	"fmt"
	"os"
	"sync"
	"time"

	"tapbeat/internal/capture"
	"tapbeat/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileSource replays a mono 16-bit WAV file at the capture sample rate.
// In realtime mode frames are released at the pace they would arrive from a
// device; otherwise they are returned as fast as they are read.
type FileSource struct {
	path        string
	file        *os.File
	decoder     *wav.Decoder
	buf         *audio.IntBuffer
	realtime    bool
	frameDur    time.Duration
	readTimeout time.Duration
	next        time.Time

	mu        sync.Mutex // serializes decoding against Release closing the file
	released  bool
	done      chan struct{}
	closeOnce sync.Once
}

// OpenFile opens path and positions it at the first sample.
func OpenFile(path string, cfg capture.Config, realtime bool) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, capture.ErrInitFailed)
	}

	decoder, err := newMonoDecoder(f, path, cfg.SampleRate)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &FileSource{
		path:    path,
		file:    f,
		decoder: decoder,
		buf: &audio.IntBuffer{
			Format: &audio.Format{NumChannels: capture.Channels, SampleRate: cfg.SampleRate},
			Data:   make([]int, cfg.FrameSize),
		},
		realtime:    realtime,
		frameDur:    cfg.FrameDuration(),
		readTimeout: cfg.ReadTimeout,
		done:        make(chan struct{}),
	}

	log.Infof("File: replaying %s (realtime=%v)", path, realtime)
	return s, nil
}

// newMonoDecoder validates the WAV header and seeks to the PCM data.
func newMonoDecoder(f *os.File, path string, sampleRate int) (*wav.Decoder, error) {
	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%s is not a readable WAV file: %w", path, capture.ErrInitFailed)
	}
	if decoder.NumChans != capture.Channels || int(decoder.SampleRate) != sampleRate || decoder.BitDepth != 16 {
		return nil, fmt.Errorf("%s is %d channel(s), %d Hz, %d-bit; need mono %d Hz 16-bit: %w",
			path, decoder.NumChans, decoder.SampleRate, decoder.BitDepth, sampleRate, capture.ErrUnsupported)
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%s has no PCM data: %v: %w", path, err, capture.ErrInitFailed)
	}
	return decoder, nil
}

// ReadFrame decodes the next frame. The final frame of a file may be short.
// End of file is reported as ErrSourceClosed.
func (s *FileSource) ReadFrame(buf []int16) (int, error) {
	if s.realtime {
		if ready, err := s.pace(); !ready {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return 0, capture.ErrSourceClosed
	}

	want := min(len(buf), cap(s.buf.Data))
	s.buf.Data = s.buf.Data[:want]
	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %v: %w", s.path, err, capture.ErrSourceClosed)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s: end of file: %w", s.path, capture.ErrSourceClosed)
	}

	for i, v := range s.buf.Data[:n] {
		buf[i] = int16(v)
	}
	return n, nil
}

// pace blocks until the next frame is due, for at most the read timeout.
// It reports false when the frame is not due yet, with ErrSourceClosed if the
// source was released while waiting.
func (s *FileSource) pace() (bool, error) {
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}

	wait := s.next.Sub(now)
	if wait > s.readTimeout {
		wait = s.readTimeout
	}
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-s.done:
			return false, capture.ErrSourceClosed
		case <-timer.C:
		}
		if time.Now().Before(s.next) {
			return false, nil
		}
	}

	s.next = s.next.Add(s.frameDur)
	return true, nil
}

// Release closes the file. It is safe to call concurrently with ReadFrame.
func (s *FileSource) Release() error {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	return s.file.Close()
}
