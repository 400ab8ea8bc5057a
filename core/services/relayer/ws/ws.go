// Package ws is the subscription endpoint (spec.md §4.4/§6): a gorilla
// websocket hub that lets clients subscribe/unsubscribe to Event Bus
// topics and receive best-effort live transitions, mirroring the
// transport-level heartbeat the rest of the system uses.
package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aionpay/relayer/core/logger"
	"github.com/aionpay/relayer/core/services/relayer/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	subscriberBuf  = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inbound is the shape of client-sent control messages (spec.md §6).
type inbound struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// outbound is the shape of every server-sent message (spec.md §6).
type outbound struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler upgrades incoming HTTP requests to the subscription protocol.
type Handler struct {
	lggr logger.Logger
	bus  *eventbus.Bus
}

// New constructs a websocket Handler bound to bus.
func New(bus *eventbus.Bus, lggr logger.Logger) *Handler {
	return &Handler{lggr: lggr.Named("WS"), bus: bus}
}

// ServeHTTP upgrades the connection and runs its read/write pumps until it
// closes (spec.md §6 "/ws").
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.lggr.Warnw("failed to upgrade websocket connection", "err", err)
		return
	}

	sub := h.bus.NewSubscriber(subscriberBuf)
	clientID := uuid.NewString()

	send := make(chan outbound, subscriberBuf)
	done := make(chan struct{})

	go h.writePump(conn, sub, send, done)
	h.readPump(conn, sub, clientID, send, done)
}

func (h *Handler) readPump(conn *websocket.Conn, sub *eventbus.Subscriber, clientID string, send chan outbound, done chan struct{}) {
	defer func() {
		close(done)
		h.bus.Remove(sub.ID)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		h.bus.Pong(sub.ID)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	send <- outbound{Type: "connected", Data: map[string]string{"clientId": clientID}, Timestamp: time.Now()}

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			h.bus.Subscribe(sub.ID, msg.Topic)
			send <- outbound{Type: "subscribed", Data: map[string]string{"topic": msg.Topic}, Timestamp: time.Now()}
		case "unsubscribe":
			h.bus.Unsubscribe(sub.ID, msg.Topic)
			send <- outbound{Type: "unsubscribed", Data: map[string]string{"topic": msg.Topic}, Timestamp: time.Now()}
		case "ping":
			h.bus.Pong(sub.ID)
			send <- outbound{Type: "pong", Timestamp: time.Now()}
		default:
			send <- outbound{Type: "error", Data: map[string]string{"error": "unknown message type"}, Timestamp: time.Now()}
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *eventbus.Subscriber, send chan outbound, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case event, ok := <-sub.Ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(outbound{Type: event.Type, Data: event.Data, Timestamp: event.Timestamp}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
