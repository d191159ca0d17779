package websocket

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	h := NewHub(cfg, logger.NewNop())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func connect(t *testing.T, h *Hub, actorID, role string) *Client {
	t.Helper()
	c := NewClient(h, nil, actorID, role, logger.NewNop())
	h.Register(c)
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.clients[actorID] == c
	}, time.Second, 5*time.Millisecond)
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHub_SendToOnlineAndOffline(t *testing.T) {
	h := startHub(t, Config{})
	c := connect(t, h, "rider-1", "rider")

	require.NoError(t, h.Send("rider-1", "ride-requested", map[string]string{"ride_id": "r-1"}))
	msg := receive(t, c)
	assert.Equal(t, "ride-requested", msg.Type)
	assert.Equal(t, map[string]interface{}{"ride_id": "r-1"}, msg.Data)

	err := h.Send("rider-2", "ride-requested", nil)
	assert.True(t, errors.Is(err, apperrors.ErrChannelUnavailable))
}

func TestHub_SendPreservesOrder(t *testing.T) {
	h := startHub(t, Config{})
	c := connect(t, h, "driver-1", "driver")

	for _, typ := range []string{"a", "b", "c", "d"} {
		require.NoError(t, h.Send("driver-1", typ, nil))
	}
	for _, want := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, want, receive(t, c).Type)
	}
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := startHub(t, Config{SendBufferSize: 1})
	connect(t, h, "driver-1", "driver")

	require.NoError(t, h.Send("driver-1", "first", nil))
	err := h.Send("driver-1", "second", nil)
	assert.True(t, errors.Is(err, apperrors.ErrChannelUnavailable))
}

func TestHub_NewConnectionSupersedesOld(t *testing.T) {
	h := startHub(t, Config{})
	disconnected := make(chan string, 2)
	h.OnDisconnect(func(actorID, _ string) { disconnected <- actorID })

	old := connect(t, h, "driver-1", "driver")
	fresh := connect(t, h, "driver-1", "driver")

	_, open := <-old.Send
	assert.False(t, open, "the superseded channel is closed")
	assert.Equal(t, 1, h.ActiveConnections())

	h.Unregister(old)
	require.NoError(t, h.Send("driver-1", "still-here", nil))
	assert.Equal(t, "still-here", receive(t, fresh).Type)
	assert.Empty(t, disconnected, "a superseded channel closing is not a disconnect")

	h.Unregister(fresh)
	select {
	case id := <-disconnected:
		assert.Equal(t, "driver-1", id)
	case <-time.After(time.Second):
		t.Fatal("disconnect hook not called")
	}
	assert.False(t, h.IsOnline("driver-1"))
}

func TestHub_OnConnectHook(t *testing.T) {
	h := startHub(t, Config{})
	type conn struct{ actorID, role string }
	connected := make(chan conn, 1)
	h.OnConnect(func(actorID, role string) {
		h.Subscribe(actorID, "ride-9")
		connected <- conn{actorID, role}
	})

	c := connect(t, h, "rider-1", "rider")
	select {
	case got := <-connected:
		assert.Equal(t, conn{"rider-1", "rider"}, got)
	case <-time.After(time.Second):
		t.Fatal("connect hook not called")
	}
	assert.True(t, c.IsSubscribedToRide("ride-9"))
}

func TestHub_Broadcasts(t *testing.T) {
	h := startHub(t, Config{})
	a := connect(t, h, "driver-a", "driver")
	b := connect(t, h, "driver-b", "driver")
	rider := connect(t, h, "rider-1", "rider")

	delivered := h.BroadcastToCandidates("ride-1", []string{"driver-a", "driver-b", "driver-offline"}, "ride-request", nil)
	assert.Equal(t, 2, delivered)
	assert.Equal(t, "ride-request", receive(t, a).Type)
	assert.Equal(t, "ride-request", receive(t, b).Type)

	h.Subscribe("driver-a", "ride-1")
	h.Subscribe("rider-1", "ride-1")
	h.Subscribe("driver-offline", "ride-1")
	assert.Equal(t, 2, h.BroadcastToRide("ride-1", "ride-status-updated", nil))
	assert.Equal(t, "ride-status-updated", receive(t, a).Type)
	assert.Equal(t, "ride-status-updated", receive(t, rider).Type)
	assert.Empty(t, b.Send)

	h.Unsubscribe("rider-1", "ride-1")
	assert.Equal(t, 1, h.BroadcastToRide("ride-1", "ride-status-updated", nil))

	assert.Equal(t, 2, h.CountByRole("driver"))
	assert.Equal(t, 1, h.CountByRole("rider"))
}

func TestClient_HandleMessage(t *testing.T) {
	h := startHub(t, Config{})
	type frame struct {
		actorID, role, msgType string
		data                   string
	}
	frames := make(chan frame, 1)
	h.HandleFrames(func(actorID, role, msgType string, data json.RawMessage) {
		frames <- frame{actorID, role, msgType, string(data)}
	})
	h.GuardSubscriptions(func(actorID, rideID string) bool { return rideID == "mine" })
	c := connect(t, h, "driver-1", "driver")

	c.handleMessage([]byte(`{"type":"ping"}`))
	assert.Equal(t, "pong", receive(t, c).Type)

	c.handleMessage([]byte(`{"type":"subscribe","ride_id":"mine"}`))
	assert.True(t, c.IsSubscribedToRide("mine"))

	c.handleMessage([]byte(`{"type":"subscribe","ride_id":"theirs"}`))
	assert.False(t, c.IsSubscribedToRide("theirs"))
	assert.Equal(t, "error", receive(t, c).Type)

	c.handleMessage([]byte(`{"type":"unsubscribe","ride_id":"mine"}`))
	assert.False(t, c.IsSubscribedToRide("mine"))

	c.handleMessage([]byte(`{"type":"accept-ride","data":{"ride_id":"r-1"}}`))
	got := <-frames
	assert.Equal(t, frame{"driver-1", "driver", "accept-ride", `{"ride_id":"r-1"}`}, got)

	c.handleMessage([]byte(`{"type":`))
	assert.Equal(t, "error", receive(t, c).Type)
}

func TestHub_StopClosesChannels(t *testing.T) {
	h := NewHub(Config{}, logger.NewNop())
	done := make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()
	c := connect(t, h, "rider-1", "rider")

	h.Stop()
	<-done
	_, open := <-c.Send
	assert.False(t, open)
	assert.Equal(t, 0, h.ActiveConnections())
}
