// SPDX-License-Identifier: MIT
package audio

import (
	"sync"
	"time"

	"tapbeat/internal/capture"
)

// frameQueue hands frames from a driver callback to the producer loop. The
// callback side never blocks: when the reader falls behind the frame is
// dropped. Frame buffers are recycled through free so steady-state capture
// does not allocate.
type frameQueue struct {
	frames  chan []int16
	free    chan []int16
	size    int
	timeout time.Duration
	onDrop  func()

	closed    chan struct{}
	closeOnce sync.Once
}

func newFrameQueue(depth, frameSize int, timeout time.Duration, onDrop func()) *frameQueue {
	if depth < 1 {
		depth = 1
	}
	q := &frameQueue{
		frames:  make(chan []int16, depth),
		free:    make(chan []int16, depth+1),
		size:    frameSize,
		timeout: timeout,
		onDrop:  onDrop,
		closed:  make(chan struct{}),
	}
	for range depth + 1 {
		q.free <- make([]int16, frameSize)
	}
	return q
}

// push copies samples into a recycled buffer and enqueues it. It reports
// false if the frame was dropped or the queue is closed.
func (q *frameQueue) push(samples []int16) bool {
	select {
	case <-q.closed:
		return false
	default:
	}

	var frame []int16
	select {
	case frame = <-q.free:
	default:
		q.drop()
		return false
	}

	n := copy(frame[:cap(frame)], samples)
	frame = frame[:n]

	select {
	case q.frames <- frame:
		return true
	default:
		q.free <- frame[:cap(frame)]
		q.drop()
		return false
	}
}

// pop waits up to the read timeout for a frame. It returns (0, nil) on
// timeout and ErrSourceClosed once the queue is closed.
func (q *frameQueue) pop(buf []int16) (int, error) {
	select {
	case <-q.closed:
		return 0, capture.ErrSourceClosed
	default:
	}

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case <-q.closed:
		return 0, capture.ErrSourceClosed
	case frame := <-q.frames:
		n := copy(buf, frame)
		q.free <- frame[:cap(frame)]
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

// close wakes any reader; later pushes are discarded.
func (q *frameQueue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

func (q *frameQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

func (q *frameQueue) drop() {
	if q.onDrop != nil {
		q.onDrop()
	}
}

// assembler regroups a stream of samples delivered in arbitrary chunk sizes
// into fixed-size frames. It is owned by the driver callback goroutine.
type assembler struct {
	frame []int16
	fill  int
	emit  func([]int16)
}

func newAssembler(frameSize int, emit func([]int16)) *assembler {
	return &assembler{
		frame: make([]int16, frameSize),
		emit:  emit,
	}
}

// writeS16LE appends little-endian signed 16-bit samples. A trailing odd
// byte is ignored.
func (a *assembler) writeS16LE(data []byte) {
	for i := 0; i+1 < len(data); i += 2 {
		a.add(int16(uint16(data[i]) | uint16(data[i+1])<<8))
	}
}

func (a *assembler) write(samples []int16) {
	for _, s := range samples {
		a.add(s)
	}
}

func (a *assembler) add(sample int16) {
	a.frame[a.fill] = sample
	a.fill++
	if a.fill == len(a.frame) {
		a.emit(a.frame)
		a.fill = 0
	}
}
