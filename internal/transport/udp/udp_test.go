// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"net"
	"testing"
	"time"

	"tapbeat/internal/capture"
	"tapbeat/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen returns a UDP socket on loopback and a sender aimed at it.
func listen(t *testing.T) (*net.UDPConn, *Sender) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sender, err := NewSender(conn.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { sender.Close() })
	return conn, sender
}

func receive(t *testing.T, conn *net.UDPConn) Packet {
	t.Helper()
	buf := make([]byte, 64)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	pkt, err := DecodePacket(buf[:n])
	require.NoError(t, err)
	return pkt
}

func TestPacketLayout(t *testing.T) {
	got := AppendPacket(nil, Packet{Kind: KindOnset, Seq: 7, Timestamp: 1_500_000_000, OnsetSeq: 3})
	want := []byte{
		'T', 'A', 'P', 'B', // magic
		KindOnset,
		0, 0, 0, 7, // sequence
		0, 0, 0, 0, 0x59, 0x68, 0x2f, 0x00, // 1.5s in ns
		0, 0, 0, 0, 0, 0, 0, 3, // onset number
	}
	assert.Equal(t, want, got)
}

func TestPacketRoundTrip(t *testing.T) {
	tests := []Packet{
		{Kind: KindOnset, Seq: 1, Timestamp: 250_000_000, OnsetSeq: 1},
		{Kind: KindStatus, Seq: 2, Timestamp: -1, Status: 3},
		{Kind: KindHeartbeat, Seq: 3, Timestamp: 99, Running: true, Onsets: 1 << 40},
		{Kind: KindHeartbeat, Seq: 4},
	}
	for _, want := range tests {
		got, err := DecodePacket(AppendPacket(nil, want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid := AppendPacket(nil, Packet{Kind: KindHeartbeat, Onsets: 5})
	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 'X'
	badKind := append([]byte(nil), valid...)
	badKind[4] = 9

	tests := map[string][]byte{
		"empty":           nil,
		"short header":    valid[:HeaderSize-1],
		"bad magic":       badMagic,
		"unknown kind":    badKind,
		"short heartbeat": valid[:len(valid)-1],
		"short onset":     AppendPacket(nil, Packet{Kind: KindOnset})[:HeaderSize+4],
		"no status byte":  AppendPacket(nil, Packet{Kind: KindStatus})[:HeaderSize],
	}
	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodePacket(b)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestPublisherSendsMessages(t *testing.T) {
	conn, sender := listen(t)
	pub, err := NewPublisher(sender, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, "udp", pub.Name())

	require.NoError(t, pub.Send(transport.NewStatusMessage("run", capture.StatusGranted)))
	require.NoError(t, pub.Send(transport.NewOnsetMessage("run", 1, 1.25)))
	require.NoError(t, pub.Send("ignored"))

	status := receive(t, conn)
	assert.Equal(t, KindStatus, status.Kind)
	assert.Equal(t, uint32(1), status.Seq)
	assert.Equal(t, uint8(1), status.Status)

	onset := receive(t, conn)
	assert.Equal(t, KindOnset, onset.Kind)
	assert.Equal(t, uint32(2), onset.Seq)
	assert.Equal(t, uint64(1), onset.OnsetSeq)
	assert.Equal(t, int64(1_250_000_000), onset.Timestamp)
}

func TestPublisherHeartbeat(t *testing.T) {
	conn, sender := listen(t)
	pub, err := NewPublisher(sender, 10*time.Millisecond, func() bool { return true })
	require.NoError(t, err)

	require.NoError(t, pub.Send(transport.NewOnsetMessage("run", 1, 0.1)))
	assert.Equal(t, KindOnset, receive(t, conn).Kind)

	pub.Start()
	pub.Start()

	beat := receive(t, conn)
	assert.Equal(t, KindHeartbeat, beat.Kind)
	assert.True(t, beat.Running)
	assert.Equal(t, uint64(1), beat.Onsets)
	assert.Greater(t, beat.Timestamp, int64(0))

	require.NoError(t, pub.Stop())
	require.NoError(t, pub.Stop())
}

func TestPublisherDefaults(t *testing.T) {
	_, err := NewPublisher(nil, time.Second, nil)
	assert.Error(t, err)

	_, sender := listen(t)
	pub, err := NewPublisher(sender, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultHeartbeatInterval, pub.interval)
	assert.False(t, pub.running())
}

func TestPublisherClose(t *testing.T) {
	_, sender := listen(t)
	pub, err := NewPublisher(sender, time.Millisecond, nil)
	require.NoError(t, err)
	pub.Start()

	require.NoError(t, pub.Close())
	err = pub.Send(transport.NewOnsetMessage("run", 1, 1))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestSenderErrors(t *testing.T) {
	_, err := NewSender("not-an-address")
	assert.Error(t, err)

	_, sender := listen(t)
	require.NoError(t, sender.Close())
	require.NoError(t, sender.Close())
	assert.ErrorIs(t, sender.Send([]byte{1}), ErrClosed)
}
