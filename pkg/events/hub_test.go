package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilHubPublishIsSafe(t *testing.T) {
	var h *Hub
	h.Publish(Event{Type: TypeAgentOnline})
	assert.Equal(t, 0, h.SubscriberCount())
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	h.Publish(Event{Type: TypeCommandQueued, AgentID: "a1", CommandID: "c1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, TypeCommandQueued, got.Type)
	assert.Equal(t, "a1", got.AgentID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestHubDropsDisconnectedSubscriber(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
