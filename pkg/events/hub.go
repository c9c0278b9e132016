// Package events broadcasts server-side state changes to websocket
// subscribers, typically dashboards watching agent and command activity.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types published by the server.
const (
	TypeAgentRegistered = "agent_registered"
	TypeAgentApproved   = "agent_approved"
	TypeAgentRejected   = "agent_rejected"
	TypeAgentOnline     = "agent_online"
	TypeAgentOffline    = "agent_offline"
	TypeAgentDeleted    = "agent_deleted"
	TypeAgentSynced     = "agent_synced"
	TypeCommandQueued   = "command_queued"
	TypeCommandDone     = "command_done"
)

// Event is one state change notification.
type Event struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id,omitempty"`
	Hostname  string    `json:"hostname,omitempty"`
	CommandID string    `json:"command_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan Event
}

// Hub fans events out to connected subscribers. A nil Hub is valid and
// drops everything, so publishers never need a nil check.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[*subscriber]struct{})}
}

// Publish delivers the event to every subscriber. Slow subscribers are
// disconnected rather than allowed to block the publisher.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.send <- event:
		default:
			log.Warn().Msg("Dropping slow event subscriber")
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
}

// Serve upgrades the request to a websocket and streams events until the
// client disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sub := &subscriber{conn: conn, send: make(chan Event, sendBufferSize)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(sub)
	h.readLoop(sub)
}

func (h *Hub) writeLoop(sub *subscriber) {
	for event := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteJSON(event); err != nil {
			break
		}
	}
	_ = sub.conn.Close()
}

// readLoop discards inbound frames; it exists to notice disconnects.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	_ = sub.conn.Close()
}

// SubscriberCount reports how many clients are connected.
func (h *Hub) SubscriberCount() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
