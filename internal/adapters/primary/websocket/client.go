package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Read deadline safety net. Refreshed on every pong and every inbound
	// message; the heartbeat monitor usually evicts long before this fires.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound buffer per connection. A client that falls this far behind
	// is force-disconnected rather than allowed to block delivery.
	sendBufferSize = 256
)

// HealthState is the heartbeat monitor's view of a connection.
type HealthState int32

const (
	StateAlive HealthState = iota
	StateSuspect
	StateEvicted
)

// Client is one accepted websocket connection. It is owned exclusively by
// the process that upgraded it.
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID

	Hub  *Hub
	Conn *websocket.Conn

	// Buffered channel of outbound events. Producers must go through
	// TrySend; only WritePump reads from it.
	Send chan domain.Event

	// subscriptions holds the board IDs this connection watches. The value
	// records whether a relay reference is held for the board, so a
	// subscription made during a bus outage is not over-released later.
	subscriptions map[string]bool
	mu            sync.RWMutex

	// sendMu serializes TrySend against CloseSend. Delivery runs on the bus
	// pump goroutines while unregistration closes the channel, so a send may
	// otherwise race the close and panic.
	sendMu     sync.Mutex
	sendClosed bool

	// Heartbeat bookkeeping, written by the pong handler and the monitor.
	lastPongNano atomic.Int64
	missedPongs  atomic.Int32
	health       atomic.Int32

	logger *slog.Logger
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, logger *slog.Logger) *Client {
	c := &Client{
		ID:            uuid.New(),
		UserID:        userID,
		Hub:           hub,
		Conn:          conn,
		Send:          make(chan domain.Event, sendBufferSize),
		subscriptions: make(map[string]bool),
	}
	c.logger = logger.With("connection_id", c.ID.String(), "user_id", userID.String())
	c.markPong()
	return c
}

// CloseSend closes the Send channel exactly once. Safe to call concurrently
// with TrySend.
func (c *Client) CloseSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.Send)
}

// TrySend queues an event without blocking. It reports false only when the
// connection is live and its outbound buffer is full; sending to an already
// closed connection is a no-op.
func (c *Client) TrySend(event domain.Event) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return true
	}

	select {
	case c.Send <- event:
		return true
	default:
		return false
	}
}

// Subscriptions returns a copy of the boards this connection watches.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	boards := make([]string, 0, len(c.subscriptions))
	for boardID := range c.subscriptions {
		boards = append(boards, boardID)
	}
	return boards
}

// setSubscription records the board subscription. Returns false if the
// connection already watches the board.
func (c *Client) setSubscription(boardID string, relayHeld bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[boardID]; ok {
		return false
	}
	c.subscriptions[boardID] = relayHeld
	return true
}

// clearSubscription removes the board subscription, reporting whether it
// existed and whether a relay reference was held for it.
func (c *Client) clearSubscription(boardID string) (existed, relayHeld bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	relayHeld, existed = c.subscriptions[boardID]
	if existed {
		delete(c.subscriptions, boardID)
	}
	return existed, relayHeld
}

// LastPong reports when the peer last answered a ping.
func (c *Client) LastPong() time.Time {
	return time.Unix(0, c.lastPongNano.Load())
}

// Health returns the monitor's current state for this connection.
func (c *Client) Health() HealthState {
	return HealthState(c.health.Load())
}

func (c *Client) markPong() {
	c.lastPongNano.Store(time.Now().UnixNano())
	c.missedPongs.Store(0)
	c.health.Store(int32(StateAlive))
}

// Ping sends a ping control frame. Safe to call concurrently with WritePump:
// gorilla permits WriteControl alongside other write methods.
func (c *Client) Ping() error {
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ReadPump pumps messages from the websocket connection to the hub.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.Conn.SetPongHandler(func(string) error {
		c.markPong()
		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("failed to set read deadline", "error", err)
			break
		}

		c.handleIncomingMessage(message)
	}
}

// WritePump pumps events from the hub to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	defer func() {
		_ = c.Conn.Close()
	}()

	for event := range c.Send {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			c.logger.Error("failed to set write deadline", "error", err)
			return
		}

		if err := c.writeJSON(event); err != nil {
			c.logger.Error("failed to write message", "error", err)
			return
		}
	}

	// The hub closed the channel. Send close message.
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.Conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		c.logger.Debug("failed to send close message", "error", err)
	}
}

// writeJSON writes a JSON message to the websocket connection.
func (c *Client) writeJSON(event domain.Event) error {
	w, err := c.Conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(event); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}

// --- Incoming Message Handling ---

// ClientMessage is the structure for messages sent from the client.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// BoardPayload is the payload for subscribe/unsubscribe messages.
type BoardPayload struct {
	BoardID string `json:"boardId"`
}

// handleIncomingMessage processes messages received from the client.
func (c *Client) handleIncomingMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Warn("failed to unmarshal client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.handleSubscribe(msg.Payload)

	case "unsubscribe":
		c.handleUnsubscribe(msg.Payload)

	case "ping":
		// Client-side keep-alive, respond with pong
		c.sendPong()

	default:
		c.logger.Debug("received unknown message type", "type", msg.Type)
	}

	c.Hub.touch(c)
}

func (c *Client) handleSubscribe(payload json.RawMessage) {
	var p BoardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("failed to unmarshal subscribe payload", "error", err)
		return
	}

	if p.BoardID == "" {
		c.logger.Warn("subscribe request without board id")
		return
	}

	c.Hub.Subscribe(c, p.BoardID)
}

func (c *Client) handleUnsubscribe(payload json.RawMessage) {
	var p BoardPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("failed to unmarshal unsubscribe payload", "error", err)
		return
	}

	c.Hub.Unsubscribe(c, p.BoardID)
}

func (c *Client) sendPong() {
	// Best effort: a full buffer skips the pong response.
	_ = c.TrySend(domain.Event{Type: "pong", Timestamp: time.Now().UTC()})
}
