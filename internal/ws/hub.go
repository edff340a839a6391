package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"utilitysign/internal/pubsub"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Replayer returns events a client missed while disconnected
type Replayer interface {
	Replay(ctx context.Context, channel, afterID string, limit int64) ([]pubsub.StreamEvent, error)
}

// Hub manages WebSocket connections and channel subscriptions
type Hub struct {
	mu      sync.RWMutex
	conns   map[*Conn]bool
	subs    map[string]map[*Conn]bool // channel -> connections
	refs    map[string]*Bridge        // pending window/confirm ref -> bridge
	publish chan Event
	log     *zap.Logger
	streams Replayer
}

// Conn represents a WebSocket connection
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string
	subs   map[string]bool // subscribed channels
}

// Event represents a message to be published
type Event struct {
	Channel string
	Message map[string]interface{}
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[*Conn]bool),
		subs:    make(map[string]map[*Conn]bool),
		refs:    make(map[string]*Bridge),
		publish: make(chan Event, 256),
		log:     log,
	}
}

// SetReplayer sets the event log used to catch up resubscribing clients
func (h *Hub) SetReplayer(r Replayer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams = r
}

// Run starts the hub's event loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.publish:
			h.mu.RLock()
			conns := make([]*Conn, 0, len(h.subs[event.Channel]))
			for conn := range h.subs[event.Channel] {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()

			msg, err := json.Marshal(event.Message)
			if err != nil {
				h.log.Warn("Failed to encode event", zap.String("channel", event.Channel), zap.Error(err))
				continue
			}
			for _, conn := range conns {
				if !conn.trySend(msg) {
					h.log.Warn("Connection buffer full, dropping connection", zap.String("user_id", conn.userID))
					h.unregister(conn)
				}
			}
		}
	}
}

// Register adds a new connection to the hub
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(conn.send)
		for channel := range conn.subs {
			if subs := h.subs[channel]; subs != nil {
				delete(subs, conn)
				if len(subs) == 0 {
					delete(h.subs, channel)
				}
			}
		}
	}
}

// Subscribe adds a connection to a channel
func (h *Hub) Subscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Conn]bool)
	}
	h.subs[channel][conn] = true
	conn.subs[channel] = true
}

// Unsubscribe removes a connection from a channel
func (h *Hub) Unsubscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.subs[channel]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
	delete(conn.subs, channel)
}

// Subscribers returns the number of connections subscribed to channel
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Publish sends an event to all subscribers of a channel
func (h *Hub) Publish(channel string, message map[string]interface{}) {
	select {
	case h.publish <- Event{Channel: channel, Message: message}:
	default:
		h.log.Warn("Hub publish channel full, dropping event", zap.String("channel", channel))
	}
}

func (h *Hub) addRef(ref string, b *Bridge) {
	h.mu.Lock()
	h.refs[ref] = b
	h.mu.Unlock()
}

func (h *Hub) dropRef(ref string) {
	h.mu.Lock()
	delete(h.refs, ref)
	h.mu.Unlock()
}

func (h *Hub) bridgeFor(ref string) *Bridge {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.refs[ref]
}

// Resume replays the events of channel recorded after afterID
func (h *Hub) Resume(conn *Conn, channel, afterID string) {
	h.mu.RLock()
	streams := h.streams
	h.mu.RUnlock()
	if streams == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := streams.Replay(ctx, channel, afterID, 100)
	if err != nil {
		h.log.Error("Failed to replay events",
			zap.String("channel", channel),
			zap.String("since", afterID),
			zap.Error(err),
		)
		return
	}

	for _, event := range events {
		msgBytes, _ := json.Marshal(event.Event)
		if !conn.trySend(msgBytes) {
			h.log.Warn("Failed to send replayed event, connection buffer full")
			return
		}
	}

	h.log.Debug("Resumed events",
		zap.String("channel", channel),
		zap.String("user_id", conn.userID),
		zap.String("since", afterID),
		zap.Int("count", len(events)),
	)
}

// NewConn creates a new connection
func NewConn(ws *websocket.Conn, hub *Hub, userID string) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan []byte, 256),
		hub:    hub,
		userID: userID,
		subs:   make(map[string]bool),
	}
}

// ReadPump handles reading from the WebSocket connection
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			c.hub.log.Warn("Failed to parse message", zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

// WritePump handles writing to the WebSocket connection
func (c *Conn) WritePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleMessage(msg map[string]interface{}) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "subscribe":
		channel, _ := msg["channel"].(string)
		if channel == "" {
			return
		}
		c.hub.Subscribe(c, channel)
		c.sendAck("subscribed", channel)
		if since, ok := msg["since"].(string); ok {
			c.hub.Resume(c, channel, since)
		}
	case "unsubscribe":
		channel, _ := msg["channel"].(string)
		if channel != "" {
			c.hub.Unsubscribe(c, channel)
			c.sendAck("unsubscribed", channel)
		}
	case "window.opened", "window.blocked", "window.closed", "confirm.result":
		ref, _ := msg["ref"].(string)
		if b := c.hub.bridgeFor(ref); b != nil {
			ok, _ := msg["ok"].(bool)
			b.deliver(ref, msgType, ok)
		} else {
			c.hub.log.Debug("Reply for unknown ref", zap.String("type", msgType), zap.String("ref", ref))
		}
	case "ping":
		c.sendAck("pong", "")
	default:
		c.hub.log.Warn("Unknown message type", zap.String("type", msgType))
	}
}

func (c *Conn) sendAck(msgType, channel string) {
	ack := map[string]interface{}{
		"type": "ack",
		"ack":  msgType,
	}
	if channel != "" {
		ack["channel"] = channel
	}
	msg, _ := json.Marshal(ack)
	c.trySend(msg)
}

// trySend queues msg without blocking. It reports false when the buffer is
// full; a connection that left the hub silently drops msg.
func (c *Conn) trySend(msg []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.conns[c] {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}
