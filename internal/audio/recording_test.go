// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tapbeat/internal/capture"
	"tapbeat/pkg/utils"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// sliceSource serves a signal in frame-sized chunks, then reports closed.
type sliceSource struct {
	signal   []int16
	pos      int
	released int
}

func (s *sliceSource) ReadFrame(buf []int16) (int, error) {
	if s.released > 0 || s.pos >= len(s.signal) {
		return 0, capture.ErrSourceClosed
	}
	n := copy(buf, s.signal[s.pos:])
	s.pos += n
	return n, nil
}

func (s *sliceSource) Release() error {
	s.released++
	return nil
}

func testConfig() capture.Config {
	return capture.DefaultConfig()
}

// drain reads src until it closes and returns everything it produced.
func drain(t *testing.T, src capture.Source, frameSize int) []int16 {
	t.Helper()
	var out []int16
	buf := make([]int16, frameSize)
	for range 10000 {
		n, err := src.ReadFrame(buf)
		if errors.Is(err, capture.ErrSourceClosed) {
			return out
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		out = append(out, buf[:n]...)
	}
	t.Fatal("source never closed")
	return nil
}

// writeWAV writes samples with an arbitrary format for negative tests.
func writeWAV(t *testing.T, path string, sampleRate, channels int, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

// recordSignal records signal through a RecordingSource and returns the file.
func recordSignal(t *testing.T, signal []int16) string {
	t.Helper()
	cfg := testConfig()
	path := filepath.Join(t.TempDir(), "take.wav")

	src := &sliceSource{signal: signal}
	rec, err := NewRecordingSource(src, path, cfg)
	if err != nil {
		t.Fatalf("NewRecordingSource: %v", err)
	}

	got := drain(t, rec, cfg.FrameSize)
	if len(got) != len(signal) {
		t.Fatalf("tee returned %d samples, want %d", len(got), len(signal))
	}
	if err := rec.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rec.Samples() != int64(len(signal)) {
		t.Errorf("Samples() = %d, want %d", rec.Samples(), len(signal))
	}
	if src.released != 1 {
		t.Errorf("wrapped source released %d times, want 1", src.released)
	}
	return path
}

func TestRecordingRoundTrip(t *testing.T) {
	cfg := testConfig()
	// Deliberately not a whole number of frames.
	signal := utils.GenerateSineWave(3*cfg.FrameSize+17, float64(cfg.SampleRate), 440, 0.5)
	path := recordSignal(t, signal)

	src, err := OpenFile(path, cfg, false)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Release()

	got := drain(t, src, cfg.FrameSize)
	if len(got) != len(signal) {
		t.Fatalf("replayed %d samples, want %d", len(got), len(signal))
	}
	for i := range signal {
		if got[i] != signal[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], signal[i])
		}
	}
}

func TestRecordingReleaseIdempotent(t *testing.T) {
	src := &sliceSource{signal: utils.Constant(100, 1000)}
	rec, err := NewRecordingSource(src, filepath.Join(t.TempDir(), "r.wav"), testConfig())
	if err != nil {
		t.Fatalf("NewRecordingSource: %v", err)
	}
	drain(t, rec, 64)

	if err := rec.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := rec.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestRecordingEmptyRemoved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "empty.wav")
	rec, err := NewRecordingSource(&sliceSource{}, path, testConfig())
	if err != nil {
		t.Fatalf("NewRecordingSource: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("recording file not created: %v", err)
	}

	if err := rec.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("empty recording should be removed, stat err = %v", err)
	}
}

func TestRecordingPath(t *testing.T) {
	at := time.Date(2025, 3, 9, 14, 5, 6, 0, time.UTC)
	got := RecordingPath("takes", at)
	want := filepath.Join("takes", "recording-09-03-2025-140506.wav")
	if got != want {
		t.Errorf("RecordingPath = %q, want %q", got, want)
	}
}

func TestRecordingCreateError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	// A regular file where a directory is expected.
	_, err := NewRecordingSource(&sliceSource{}, filepath.Join(blocker, "x.wav"), testConfig())
	if err == nil {
		t.Fatal("expected an error creating a recording under a file")
	}
}

func TestOpenFileErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()

	notWAV := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(notWAV, []byte(strings.Repeat("not audio ", 10)), 0o644); err != nil {
		t.Fatal(err)
	}
	stereo := filepath.Join(dir, "stereo.wav")
	writeWAV(t, stereo, capture.SampleRate, 2, make([]int, 200))
	fast := filepath.Join(dir, "44k.wav")
	writeWAV(t, fast, 44100, 1, make([]int, 200))

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", filepath.Join(dir, "missing.wav"), capture.ErrInitFailed},
		{"not a WAV file", notWAV, capture.ErrInitFailed},
		{"stereo", stereo, capture.ErrUnsupported},
		{"wrong sample rate", fast, capture.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := OpenFile(tt.path, cfg, false)
			if err == nil {
				src.Release()
				t.Fatal("expected an error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if got := capture.StatusForError(err); tt.want == capture.ErrUnsupported && got != capture.StatusUnsupported {
				t.Errorf("status = %s, want unsupported", got)
			}
		})
	}
}

func TestFileSourceRealtimePacing(t *testing.T) {
	cfg := testConfig()
	path := recordSignal(t, utils.Constant(5*cfg.FrameSize, 500))

	src, err := OpenFile(path, cfg, true)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Release()

	buf := make([]int16, cfg.FrameSize)
	if n, err := src.ReadFrame(buf); n != cfg.FrameSize || err != nil {
		t.Fatalf("first read = (%d, %v), want a full frame", n, err)
	}

	// The next frame is 100ms away; the read gives up after the read timeout.
	start := time.Now()
	n, err := src.ReadFrame(buf)
	if n != 0 || err != nil {
		t.Fatalf("early read = (%d, %v), want (0, nil)", n, err)
	}
	if elapsed := time.Since(start); elapsed >= cfg.FrameDuration() {
		t.Errorf("early read blocked %s, longer than a frame", elapsed)
	}
}

func TestFileSourceReleaseDuringRead(t *testing.T) {
	cfg := testConfig()
	cfg.ReadTimeout = time.Second
	path := recordSignal(t, utils.Constant(5*cfg.FrameSize, 500))

	src, err := OpenFile(path, cfg, true)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	buf := make([]int16, cfg.FrameSize)
	if _, err := src.ReadFrame(buf); err != nil {
		t.Fatalf("first read: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := src.ReadFrame(buf)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := src.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, capture.ErrSourceClosed) {
			t.Errorf("read during release = %v, want ErrSourceClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Release did not wake the paced read")
	}
}

func TestAnalyzeFileClickTrack(t *testing.T) {
	cfg := testConfig()
	rate := float64(cfg.SampleRate)
	size := 5 * cfg.SampleRate
	signal := utils.GenerateClickTrack(size, rate, time.Second, 10*time.Millisecond, 0.8)
	path := recordSignal(t, signal)

	result, err := AnalyzeFile(path, cfg)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}

	if result.Frames != 50 {
		t.Errorf("Frames = %d, want 50", result.Frames)
	}
	if result.Duration != 5*time.Second {
		t.Errorf("Duration = %s, want 5s", result.Duration)
	}

	// Each click starts a frame and is reported at that frame's end.
	clicks := utils.ClickOnsets(size, rate, time.Second)
	if len(result.Onsets) != len(clicks) {
		t.Fatalf("onsets = %v, want one per click at %v", result.Onsets, clicks)
	}
	for i, click := range clicks {
		want := click + cfg.FrameDuration()
		if result.Onsets[i] != want {
			t.Errorf("onset %d at %s, want %s", i, result.Onsets[i], want)
		}
	}

	seconds := result.OnsetSeconds()
	if len(seconds) != len(result.Onsets) || seconds[0] != result.Onsets[0].Seconds() {
		t.Errorf("OnsetSeconds = %v", seconds)
	}
}

func TestAnalyzeFileSilence(t *testing.T) {
	cfg := testConfig()
	path := recordSignal(t, make([]int16, 2*cfg.SampleRate))

	result, err := AnalyzeFile(path, cfg)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	if len(result.Onsets) != 0 {
		t.Errorf("silence produced onsets %v", result.Onsets)
	}
}

func TestAnalyzeFileInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FrameSize = 0
	if _, err := AnalyzeFile("unused.wav", cfg); err == nil {
		t.Error("expected invalid config error")
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"portaudio", BackendPortAudio, false},
		{" Malgo ", BackendMalgo, false},
		{"LOOPBACK", BackendLoopback, false},
		{"file", BackendFile, false},
		{"jack", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackend(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBackend(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAcquirerFileBackend(t *testing.T) {
	cfg := testConfig()
	signal := utils.Constant(2*cfg.FrameSize, 1200)
	input := recordSignal(t, signal)
	recordDir := t.TempDir()

	acquire := NewAcquirer(Options{Backend: BackendFile, InputFile: input, RecordDir: recordDir})
	src, err := acquire(context.Background(), cfg)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, ok := src.(*RecordingSource); !ok {
		t.Fatalf("source is %T, want a recording tee", src)
	}

	if got := drain(t, src, cfg.FrameSize); len(got) != len(signal) {
		t.Errorf("read %d samples, want %d", len(got), len(signal))
	}
	if err := src.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	entries, err := os.ReadDir(recordDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".wav") {
		t.Errorf("record dir holds %v, want one WAV file", entries)
	}
}

func TestAcquirerErrors(t *testing.T) {
	cfg := testConfig()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		opts Options
		want error
	}{
		{"canceled context", canceled, Options{Backend: BackendFile, InputFile: "x.wav"}, capture.ErrInitFailed},
		{"file without input", context.Background(), Options{Backend: BackendFile}, capture.ErrInitFailed},
		{"unknown backend", context.Background(), Options{Backend: "jack"}, capture.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewAcquirer(tt.opts)(tt.ctx, cfg)
			if err == nil {
				src.Release()
				t.Fatal("expected an error")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func BenchmarkRecordingTee(b *testing.B) {
	cfg := testConfig()
	frame := utils.GenerateSineWave(cfg.FrameSize, float64(cfg.SampleRate), 440, 0.5)
	rec, err := NewRecordingSource(&loopSource{frame: frame}, filepath.Join(b.TempDir(), "bench.wav"), cfg)
	if err != nil {
		b.Fatal(err)
	}
	defer rec.Release()
	buf := make([]int16, cfg.FrameSize)

	b.ReportAllocs()
	for b.Loop() {
		_, _ = rec.ReadFrame(buf)
	}
}

// loopSource returns the same frame forever.
type loopSource struct{ frame []int16 }

func (s *loopSource) ReadFrame(buf []int16) (int, error) { return copy(buf, s.frame), nil }
func (s *loopSource) Release() error                     { return nil }
