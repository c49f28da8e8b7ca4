// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tapbeat/internal/capture"
	"tapbeat/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	recordingBitDepth = 16
	wavFormatPCM      = 1
)

// RecordingSource tees every frame read from the wrapped source into a
// 16-bit mono WAV file. The file is finalized on Release.
type RecordingSource struct {
	source capture.Source
	path   string

	mu        sync.Mutex
	file      *os.File
	encoder   *wav.Encoder
	sampleBuf *audio.IntBuffer // Reusable buffer for format conversion
	samples   int64
	closed    bool
	writeErr  error
}

// RecordingPath returns the default file name for a recording started at t.
func RecordingPath(dir string, t time.Time) string {
	return filepath.Join(dir, "recording-"+t.UTC().Format("02-01-2006-150405")+".wav")
}

// NewRecordingSource creates path and starts teeing source into it.
func NewRecordingSource(source capture.Source, path string, cfg capture.Config) (*RecordingSource, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create recording directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	r := &RecordingSource{
		source:  source,
		path:    path,
		file:    file,
		encoder: wav.NewEncoder(file, cfg.SampleRate, recordingBitDepth, capture.Channels, wavFormatPCM),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: capture.Channels,
				SampleRate:  cfg.SampleRate,
			},
			Data:           make([]int, cfg.FrameSize),
			SourceBitDepth: recordingBitDepth,
		},
	}

	log.Infof("Recording: writing input to %s", path)
	return r, nil
}

// Path returns the recording file path.
func (r *RecordingSource) Path() string {
	return r.path
}

// Samples returns how many samples have been written.
func (r *RecordingSource) Samples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// ReadFrame reads from the wrapped source and records what it returned.
// Write failures are logged once and never affect the read.
func (r *RecordingSource) ReadFrame(buf []int16) (int, error) {
	n, err := r.source.ReadFrame(buf)
	if n > 0 {
		r.write(buf[:n])
	}
	return n, err
}

func (r *RecordingSource) write(frame []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.writeErr != nil {
		return
	}

	if cap(r.sampleBuf.Data) < len(frame) {
		r.sampleBuf.Data = make([]int, len(frame))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(frame)]
	for i, sample := range frame {
		r.sampleBuf.Data[i] = int(sample)
	}

	if err := r.encoder.Write(r.sampleBuf); err != nil {
		r.writeErr = err
		log.Errorf("Recording: error writing to %s, recording stopped: %v", r.path, err)
		return
	}
	r.samples += int64(len(frame))
}

// Release releases the wrapped source, then finalizes the WAV header and
// closes the file.
func (r *RecordingSource) Release() error {
	srcErr := r.source.Release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return srcErr
	}
	r.closed = true

	var errs []error
	if srcErr != nil {
		errs = append(errs, srcErr)
	}

	// The encoder only writes a header with the first samples.
	if r.samples == 0 {
		if err := r.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close recording: %w", err))
		}
		if err := os.Remove(r.path); err != nil {
			errs = append(errs, fmt.Errorf("remove empty recording: %w", err))
		}
		log.Infof("Recording: nothing captured, removed %s", r.path)
		return errors.Join(errs...)
	}

	if err := r.encoder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finalize recording: %w", err))
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close recording: %w", err))
	}

	log.Infof("Recording: saved %d samples to %s", r.samples, r.path)
	return errors.Join(errs...)
}
