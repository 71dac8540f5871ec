package ipc

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string, chan Frame) {
	t.Helper()
	received := make(chan Frame, 16)
	hub := NewHub(func(dir string, frame Frame) {
		received <- frame
	}, nil)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	addr := strings.TrimPrefix(srv.URL, "http://")
	return hub, addr, received
}

func TestClient_SendsHeartbeatReceivedByHub(t *testing.T) {
	hub, addr, received := startHub(t)

	client, err := Dial(addr, "/docs/a", nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return hub.Connected("/docs/a") }, time.Second, 10*time.Millisecond)

	require.NoError(t, client.SendHeartbeat(HeartbeatPayload{PID: 123, State: "Processing", FilesSeen: 5}))

	select {
	case frame := <-received:
		assert.Equal(t, FrameHeartbeat, frame.Type)
		require.NotNil(t, frame.Heartbeat)
		assert.Equal(t, 123, frame.Heartbeat.PID)
		assert.Equal(t, "/docs/a", frame.Directory)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat frame")
	}
}

func TestClient_SendsProgressAndResult(t *testing.T) {
	_, addr, received := startHub(t)

	client, err := Dial(addr, "/docs/b", nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SendProgress(ProgressPayload{State: "Processing", FilesProcessed: 2, TotalFiles: 10}))
	require.NoError(t, client.SendResult(ResultPayload{State: "Exited", FilesProcessed: 10}))

	var gotProgress, gotResult bool
	for i := 0; i < 2; i++ {
		select {
		case frame := <-received:
			switch frame.Type {
			case FrameProgress:
				gotProgress = true
				assert.Equal(t, int64(2), frame.Progress.FilesProcessed)
			case FrameResult:
				gotResult = true
				assert.Equal(t, int64(10), frame.Result.FilesProcessed)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for frame")
		}
	}
	assert.True(t, gotProgress)
	assert.True(t, gotResult)
}

func TestHub_CancelDeliveredToClient(t *testing.T) {
	hub, addr, _ := startHub(t)

	client, err := Dial(addr, "/docs/c", nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return hub.Connected("/docs/c") }, time.Second, 10*time.Millisecond)

	assert.True(t, hub.Cancel("/docs/c"))

	select {
	case <-client.Cancelled():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancel frame")
	}
}

func TestHub_CancelUnknownDirectoryReturnsFalse(t *testing.T) {
	hub, _, _ := startHub(t)
	assert.False(t, hub.Cancel("/never/connected"))
}

func TestHub_ConnectedFalseAfterClientCloses(t *testing.T) {
	hub, addr, _ := startHub(t)

	client, err := Dial(addr, "/docs/d", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Connected("/docs/d") }, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return !hub.Connected("/docs/d") }, time.Second, 10*time.Millisecond)
}
