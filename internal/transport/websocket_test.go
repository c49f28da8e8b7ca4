// SPDX-License-Identifier: MIT
package transport

import (
	"testing"
	"time"

	"tapbeat/internal/capture"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialClient(t *testing.T, wst *WebSocketTransport) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wst.Addr()+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketBroadcast(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer wst.Close()
	assert.Equal(t, "websocket", wst.Name())

	a := dialClient(t, wst)
	b := dialClient(t, wst)
	require.Eventually(t, func() bool { return wst.ClientCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Send(NewStatusMessage("run-1", capture.StatusGranted)))
	require.NoError(t, wst.Send(NewOnsetMessage("run-1", 1, 0.75)))

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

		var status StatusMessage
		require.NoError(t, conn.ReadJSON(&status))
		assert.Equal(t, NewStatusMessage("run-1", capture.StatusGranted), status)

		var onset OnsetMessage
		require.NoError(t, conn.ReadJSON(&onset))
		assert.Equal(t, NewOnsetMessage("run-1", 1, 0.75), onset)
	}
}

func TestWebSocketClientDisconnect(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer wst.Close()

	conn := dialClient(t, wst)
	require.Eventually(t, func() bool { return wst.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return wst.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Broadcasting with nobody listening is fine.
	assert.NoError(t, wst.Send(NewOnsetMessage("run", 1, 1)))
}

func TestWebSocketClose(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)

	conn := dialClient(t, wst)
	require.Eventually(t, func() bool { return wst.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wst.Close())
	assert.NoError(t, wst.Close(), "second Close is a no-op")
	assert.Equal(t, 0, wst.ClientCount())
	assert.Error(t, wst.Send(NewOnsetMessage("run", 1, 1)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "client should see the connection close")
}

func TestWebSocketListenError(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer wst.Close()

	_, err = NewWebSocketTransport(wst.Addr())
	assert.Error(t, err)
}

func TestWebSocketSendDropsWhenFull(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer wst.Close()

	for i := range broadcastBuffer * 4 {
		require.NoError(t, wst.Send(NewOnsetMessage("run", uint64(i), 0)))
	}
}
