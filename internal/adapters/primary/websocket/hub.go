package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// Hub is this process's connection registry. It owns every socket the
// process accepted, routes inbound relay events to subscribed connections,
// and drives presence joins and leaves off local subscription edges.
type Hub struct {
	// clients maps user IDs to their active connections.
	// A single user can have multiple connections (multiple tabs/devices).
	clients map[uuid.UUID]map[*Client]bool

	// boards maps board IDs to subscribed clients.
	boards map[string]map[*Client]bool

	// localCounts tracks, per board, how many local connections each user
	// holds. Presence join/leave edges are published on the 0 -> 1 and
	// 1 -> 0 transitions of this count, never from the shared projection,
	// so every process contributes exactly one edge per local membership.
	localCounts map[string]map[uuid.UUID]int

	// Register requests from clients.
	Register chan *Client

	// Unregister requests from clients.
	Unregister chan *Client

	// mu protects clients, boards and localCounts.
	mu sync.RWMutex

	presence ports.PresenceTracker
	relay    ports.EventRelay
	logger   *slog.Logger
}

// Ensure Hub implements the EventDeliverer interface.
var _ ports.EventDeliverer = (*Hub)(nil)

// NewHub creates a new WebSocket hub.
func NewHub(presence ports.PresenceTracker, relay ports.EventRelay, logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[uuid.UUID]map[*Client]bool),
		boards:      make(map[string]map[*Client]bool),
		localCounts: make(map[string]map[uuid.UUID]int),
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		presence:    presence,
		relay:       relay,
		logger:      logger.With("component", "websocket_hub"),
	}
}

// Run starts the hub's lifecycle loop. This MUST be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			return
		}
	}
}

// registerClient adds a client to the hub.
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[*Client]bool)
	}
	h.clients[client.UserID][client] = true
	total := len(h.clients[client.UserID])
	h.mu.Unlock()

	h.logger.Info("client registered",
		"connection_id", client.ID,
		"user_id", client.UserID,
		"total_connections", total,
	)
}

// unregisterClient removes a client from the hub and all boards. Idempotent:
// the eviction path and the read pump's deferred unregister may both land
// here for the same connection.
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	userClients, ok := h.clients[client.UserID]
	if !ok || !userClients[client] {
		h.mu.Unlock()
		return
	}

	delete(userClients, client)
	if len(userClients) == 0 {
		delete(h.clients, client.UserID)
	}
	h.mu.Unlock()

	for _, boardID := range client.Subscriptions() {
		h.leaveBoard(client, boardID)
	}

	client.CloseSend()

	h.logger.Info("client unregistered",
		"connection_id", client.ID,
		"user_id", client.UserID,
	)
}

// Subscribe adds the client to a board. The first local connection of the
// user on that board records a presence join and publishes the join edge;
// the first local watcher of the board opens the relay subscription. The
// client is seeded with a presence snapshot.
func (h *Hub) Subscribe(client *Client, boardID string) {
	relayHeld := true
	if err := h.relay.Subscribe(boardID); err != nil {
		// Bus down: serve local delivery only, presence still works for
		// this process. The event contract is best effort during outages.
		h.logger.Warn("relay subscription failed, board is local-only",
			"board_id", boardID,
			"error", err,
		)
		relayHeld = false
	}

	if !client.setSubscription(boardID, relayHeld) {
		if relayHeld {
			h.relay.Unsubscribe(boardID)
		}
		return
	}

	h.mu.Lock()
	if h.boards[boardID] == nil {
		h.boards[boardID] = make(map[*Client]bool)
	}
	h.boards[boardID][client] = true

	if h.localCounts[boardID] == nil {
		h.localCounts[boardID] = make(map[uuid.UUID]int)
	}
	h.localCounts[boardID][client.UserID]++
	firstLocal := h.localCounts[boardID][client.UserID] == 1
	h.mu.Unlock()

	h.presence.RecordJoin(client.UserID, boardID)

	if firstLocal {
		h.relay.Publish(context.Background(), domain.NewEvent(
			domain.EventPresenceJoin,
			boardID,
			domain.PresencePayload{UserID: client.UserID.String()},
		))
	}

	h.seedPresence(client, boardID)

	h.logger.Debug("client subscribed to board",
		"connection_id", client.ID,
		"user_id", client.UserID,
		"board_id", boardID,
	)
}

// Unsubscribe removes the client from a board.
func (h *Hub) Unsubscribe(client *Client, boardID string) {
	h.leaveBoard(client, boardID)

	h.logger.Debug("client unsubscribed from board",
		"connection_id", client.ID,
		"user_id", client.UserID,
		"board_id", boardID,
	)
}

// leaveBoard runs the shared removal path for unsubscribes, disconnects and
// evictions.
func (h *Hub) leaveBoard(client *Client, boardID string) {
	existed, relayHeld := client.clearSubscription(boardID)
	if !existed {
		return
	}

	h.mu.Lock()
	if board, ok := h.boards[boardID]; ok {
		delete(board, client)
		if len(board) == 0 {
			delete(h.boards, boardID)
		}
	}

	lastLocal := false
	if counts, ok := h.localCounts[boardID]; ok {
		counts[client.UserID]--
		if counts[client.UserID] <= 0 {
			delete(counts, client.UserID)
			lastLocal = true
		}
		if len(counts) == 0 {
			delete(h.localCounts, boardID)
		}
	}
	h.mu.Unlock()

	h.presence.RecordLeave(client.UserID, boardID)

	if lastLocal {
		h.relay.Publish(context.Background(), domain.NewEvent(
			domain.EventPresenceLeave,
			boardID,
			domain.PresencePayload{UserID: client.UserID.String()},
		))
	}

	if relayHeld {
		h.relay.Unsubscribe(boardID)
	}
}

// Deliver pushes an event to every local connection subscribed to the
// board. Never blocks: a connection whose outbound buffer is full is
// force-closed and delivery continues to the others.
func (h *Hub) Deliver(boardID string, event domain.Event) {
	h.mu.RLock()
	board, ok := h.boards[boardID]
	if !ok {
		h.mu.RUnlock()
		return
	}

	// Copy the client list to avoid holding the lock while sending.
	clients := make([]*Client, 0, len(board))
	for client := range board {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	// Sends go through TrySend so a client being unregistered concurrently
	// cannot panic the fan-out; the event continues to every other
	// connection.
	var slow []*Client
	for _, client := range clients {
		if !client.TrySend(event) {
			slow = append(slow, client)
		}
	}

	for _, client := range slow {
		h.logger.Warn("client send buffer full, disconnecting",
			"connection_id", client.ID,
			"user_id", client.UserID,
			"board_id", boardID,
		)
		h.unregisterClient(client)
		_ = client.Conn.Close()
	}
}

// seedPresence sends the board's current presence snapshot to one client.
func (h *Hub) seedPresence(client *Client, boardID string) {
	snapshot := h.presence.Snapshot(boardID)
	if !client.TrySend(domain.NewEvent(domain.EventPresenceState, boardID, snapshot)) {
		h.logger.Warn("dropping presence snapshot, send buffer full",
			"connection_id", client.ID,
			"board_id", boardID,
		)
	}
}

// touch bumps presence activity for every board the client watches.
func (h *Hub) touch(client *Client) {
	for _, boardID := range client.Subscriptions() {
		h.presence.Touch(client.UserID, boardID)
	}
}

// Clients returns a snapshot of every registered connection.
func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, userClients := range h.clients {
		for client := range userClients {
			clients = append(clients, client)
		}
	}
	return clients
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, userClients := range h.clients {
		count += len(userClients)
	}
	return count
}

// BoardWatcherCount returns the number of clients subscribed to a board.
func (h *Hub) BoardWatcherCount(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.boards[boardID])
}

// IsUserConnected checks if a user has any active connections.
func (h *Hub) IsUserConnected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.clients[userID]
	return ok && len(clients) > 0
}
