package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuroca/alert-router/pkg/models"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestBroadcastReachesConnectedClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := New(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	hub.BroadcastNotification(&models.Notification{
		Receiver:    "oncall",
		Status:      models.AlertStateFiring,
		GroupKey:    "{}:{alertname=\"X\"}",
		GroupLabels: model.LabelSet{"alertname": "X"},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "notification", msg.Event)
	require.NotNil(t, msg.Data)
	assert.Equal(t, "oncall", msg.Data.Receiver)
}

func TestConcurrentBroadcastsDisconnectSlowClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := New(ctx)

	// Clients whose outgoing buffers are already full, so every broadcast
	// takes the disconnect path.
	for i := 0; i < 500; i++ {
		c := &client{send: make(chan []byte, 1)}
		c.send <- []byte("backlog")
		hub.register(c)
	}

	n := &models.Notification{
		Receiver: "oncall",
		Status:   models.AlertStateFiring,
		GroupKey: "{}:{alertname=\"X\"}",
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.BroadcastNotification(n)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Count(), "every slow client ends up disconnected exactly once")
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := New(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}
