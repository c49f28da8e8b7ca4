// SPDX-License-Identifier: MIT

// Package udp publishes capture events as compact binary datagrams.
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tapbeat/internal/log"
	"tapbeat/internal/transport"
)

/*
UDP Packet Structure (BigEndian)

+--------------------------------------------------------------------------+
| Field      | Data Type | Size (Bytes) | Description                      |
|------------|-----------|--------------|----------------------------------|
| Magic      | uint32    | 4            | "TAPB"                           |
| Kind       | uint8     | 1            | 1 onset, 2 status, 3 heartbeat   |
| Sequence   | uint32    | 4            | Per-publisher packet counter     |
| Timestamp  | int64     | 8            | Nanoseconds, see below           |
| Payload    | ...       | 1-9          | Depends on Kind                  |
+--------------------------------------------------------------------------+

Payloads:
  onset      uint64 onset number within the run; timestamp is on the
             session clock (since the session was created)
  status     uint8  status code (1 granted, 2 denied, 3 error, 4 unsupported);
             timestamp is Unix time
  heartbeat  uint8  running flag, uint64 onsets published so far; timestamp is
             Unix time
*/

// Magic marks every packet.
const Magic uint32 = 0x54415042

// Packet kinds.
const (
	KindOnset     uint8 = 1
	KindStatus    uint8 = 2
	KindHeartbeat uint8 = 3
)

// HeaderSize is the number of bytes before the payload.
const HeaderSize = 4 + 1 + 4 + 8

// DefaultHeartbeatInterval is used when NewPublisher is given a non-positive
// interval.
const DefaultHeartbeatInterval = time.Second

var statusCodes = map[string]uint8{
	"granted":     1,
	"denied":      2,
	"error":       3,
	"unsupported": 4,
}

// ErrMalformed is returned by DecodePacket for packets it cannot parse.
var ErrMalformed = errors.New("malformed packet")

// Packet is the decoded form of a datagram.
type Packet struct {
	Kind      uint8
	Seq       uint32
	Timestamp int64

	OnsetSeq uint64 // KindOnset
	Status   uint8  // KindStatus
	Running  bool   // KindHeartbeat
	Onsets   uint64 // KindHeartbeat
}

// AppendPacket appends the wire form of p to dst.
func AppendPacket(dst []byte, p Packet) []byte {
	dst = binary.BigEndian.AppendUint32(dst, Magic)
	dst = append(dst, p.Kind)
	dst = binary.BigEndian.AppendUint32(dst, p.Seq)
	dst = binary.BigEndian.AppendUint64(dst, uint64(p.Timestamp))

	switch p.Kind {
	case KindOnset:
		dst = binary.BigEndian.AppendUint64(dst, p.OnsetSeq)
	case KindStatus:
		dst = append(dst, p.Status)
	case KindHeartbeat:
		var running uint8
		if p.Running {
			running = 1
		}
		dst = append(dst, running)
		dst = binary.BigEndian.AppendUint64(dst, p.Onsets)
	}
	return dst
}

// DecodePacket parses a datagram produced by AppendPacket.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	if magic := binary.BigEndian.Uint32(b); magic != Magic {
		return Packet{}, fmt.Errorf("%w: bad magic %#x", ErrMalformed, magic)
	}

	p := Packet{
		Kind:      b[4],
		Seq:       binary.BigEndian.Uint32(b[5:]),
		Timestamp: int64(binary.BigEndian.Uint64(b[9:])),
	}
	payload := b[HeaderSize:]

	switch p.Kind {
	case KindOnset:
		if len(payload) < 8 {
			return Packet{}, fmt.Errorf("%w: short onset payload", ErrMalformed)
		}
		p.OnsetSeq = binary.BigEndian.Uint64(payload)
	case KindStatus:
		if len(payload) < 1 {
			return Packet{}, fmt.Errorf("%w: short status payload", ErrMalformed)
		}
		p.Status = payload[0]
	case KindHeartbeat:
		if len(payload) < 9 {
			return Packet{}, fmt.Errorf("%w: short heartbeat payload", ErrMalformed)
		}
		p.Running = payload[0] == 1
		p.Onsets = binary.BigEndian.Uint64(payload[1:])
	default:
		return Packet{}, fmt.Errorf("%w: unknown kind %d", ErrMalformed, p.Kind)
	}
	return p, nil
}

// Publisher encodes transport messages into packets and sends them through a
// Sender. Between Start and Stop it also emits a heartbeat every interval.
type Publisher struct {
	sender   *Sender
	interval time.Duration
	running  func() bool

	ticker   *time.Ticker   // Non-nil while the heartbeat goroutine runs.
	doneChan chan struct{}  // Signals the heartbeat goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the heartbeat goroutine during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	sendMu sync.Mutex // Serializes packet building and sending.
	seq    uint32
	onsets uint64
	packet []byte // Reused for every packet.
}

// NewPublisher creates a publisher. running reports whether capture is active
// for heartbeats; it may be nil.
func NewPublisher(sender *Sender, interval time.Duration, running func() bool) (*Publisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
		log.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	if running == nil {
		running = func() bool { return false }
	}

	log.Infof("UDPPublisher: Initializing (heartbeat every %s)", interval)
	return &Publisher{
		sender:   sender,
		interval: interval,
		running:  running,
		packet:   make([]byte, 0, HeaderSize+9),
	}, nil
}

func (p *Publisher) Name() string { return "udp" }

// Start launches the heartbeat goroutine. Calling it again while running is
// a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ticker.C:
				p.heartbeat()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop halts heartbeats and waits for the goroutine to exit. It is safe to
// call multiple times.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	log.Debugf("UDPPublisher: Heartbeat stopped.")
	return nil
}

// Send encodes an OnsetMessage or StatusMessage and sends it immediately.
// Other values are ignored.
func (p *Publisher) Send(data any) error {
	var pkt Packet
	switch msg := data.(type) {
	case transport.OnsetMessage:
		pkt = Packet{
			Kind:      KindOnset,
			Timestamp: int64(math.Round(msg.Timestamp * float64(time.Second))),
			OnsetSeq:  msg.Seq,
		}
	case transport.StatusMessage:
		pkt = Packet{
			Kind:      KindStatus,
			Timestamp: time.Now().UnixNano(),
			Status:    statusCodes[msg.Status],
		}
	default:
		return nil
	}
	return p.send(pkt)
}

func (p *Publisher) heartbeat() {
	p.sendMu.Lock()
	onsets := p.onsets
	p.sendMu.Unlock()

	err := p.send(Packet{
		Kind:      KindHeartbeat,
		Timestamp: time.Now().UnixNano(),
		Running:   p.running(),
		Onsets:    onsets,
	})
	if err != nil {
		log.Debugf("UDPPublisher: heartbeat not sent: %v", err)
	}
}

func (p *Publisher) send(pkt Packet) error {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	p.seq++
	pkt.Seq = p.seq
	if pkt.Kind == KindOnset {
		p.onsets++
	}

	p.packet = AppendPacket(p.packet[:0], pkt)
	if err := p.sender.Send(p.packet); err != nil {
		return err
	}
	log.Debugf("UDPPublisher: Sent packet %d (%d bytes)", pkt.Seq, len(p.packet))
	return nil
}

// Close stops heartbeats and closes the sender.
func (p *Publisher) Close() error {
	return errors.Join(p.Stop(), p.sender.Close())
}

var _ transport.Transport = (*Publisher)(nil)
