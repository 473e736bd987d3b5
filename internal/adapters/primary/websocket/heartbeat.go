package websocket

import (
	"context"
	"log/slog"
	"time"
)

// Monitor probes every local connection on a fixed interval and evicts the
// unresponsive ones. Per connection the state machine is ALIVE -> (missed
// pong) -> SUSPECT -> (second missed pong) -> EVICTED; eviction closes the
// socket, which drives the same unregister path as a client-initiated close.
// This bounds presence staleness to two intervals even when the transport
// never signals the disconnect.
type Monitor struct {
	hub      *Hub
	interval time.Duration
	logger   *slog.Logger
}

// NewMonitor creates a heartbeat monitor for the hub.
func NewMonitor(hub *Hub, interval time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		hub:      hub,
		interval: interval,
		logger:   logger.With("component", "heartbeat_monitor"),
	}
}

// Run probes until the context is cancelled. This MUST be run as a goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// sweep checks pong freshness for every connection, advances the state
// machine, and sends the next round of pings.
func (m *Monitor) sweep() {
	cutoff := time.Now().Add(-m.interval)

	for _, client := range m.hub.Clients() {
		if client.Health() == StateEvicted {
			continue
		}

		if client.LastPong().Before(cutoff) {
			missed := client.missedPongs.Add(1)
			switch {
			case missed >= 2:
				m.evict(client)
				continue
			default:
				client.health.Store(int32(StateSuspect))
				m.logger.Debug("connection suspect, no pong since last ping",
					"connection_id", client.ID,
					"user_id", client.UserID,
				)
			}
		}

		if err := client.Ping(); err != nil {
			m.logger.Debug("ping failed, evicting connection",
				"connection_id", client.ID,
				"user_id", client.UserID,
				"error", err,
			)
			m.evict(client)
		}
	}
}

// evict force-closes the connection. Closing the socket makes ReadPump fail,
// which funnels the client through the normal unregister path, so presence
// leaves and relay teardown happen exactly as for a clean disconnect.
func (m *Monitor) evict(client *Client) {
	client.health.Store(int32(StateEvicted))

	m.logger.Warn("evicting unresponsive connection",
		"connection_id", client.ID,
		"user_id", client.UserID,
		"last_pong", client.LastPong(),
	)

	_ = client.Conn.Close()
}
