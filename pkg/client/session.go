// Package client implements the session manager used by Boardflow clients:
// it owns the websocket connection, re-subscribes boards after reconnects,
// and classifies failures so callers never parse error text.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
)

// State is the session's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Config configures a Session.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host/api/v1/ws.
	URL string

	// Token is appended as the token query parameter.
	Token string

	// BackoffBase is the first reconnect delay. Defaults to 500ms.
	BackoffBase time.Duration

	// BackoffCap bounds the exponential delay. Defaults to 30s.
	BackoffCap time.Duration

	// MaxAttempts bounds automatic reconnects before the session fails.
	// Defaults to 10. A manual Retry resets the counter.
	MaxAttempts int

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// Session manages one client connection through its whole lifecycle:
// CONNECTING -> CONNECTED -> (error) -> RECONNECTING -> CONNECTED | FAILED.
type Session struct {
	cfg Config

	state    atomic.Int32
	attempts atomic.Int32

	mu     sync.Mutex // guards boards, conn and writes to conn
	boards map[string]bool
	conn   *websocket.Conn

	events chan domain.Event
	errs   chan error
	retry  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// New creates a session. Call Connect to start it.
func New(cfg Config) *Session {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		cfg:    cfg,
		boards: make(map[string]bool),
		events: make(chan domain.Event, 64),
		errs:   make(chan error, 16),
		retry:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Connect starts the session loop. It returns immediately; observe Events
// and Errors for progress.
func (s *Session) Connect(ctx context.Context) {
	go s.run(ctx)
}

// Events returns the stream of server-pushed events.
func (s *Session) Events() <-chan domain.Event {
	return s.events
}

// Errors returns the stream of tagged session errors.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Degraded reports whether the client should show stale-data indicators:
// the session is alive but not currently connected.
func (s *Session) Degraded() bool {
	st := s.State()
	return st == StateReconnecting || st == StateFailed
}

// Join subscribes the session to a board. The subscription survives
// reconnects: it is replayed every time the session reaches CONNECTED.
func (s *Session) Join(boardID string) {
	s.mu.Lock()
	s.boards[boardID] = true
	conn := s.conn
	var err error
	if conn != nil {
		err = s.writeMessage(conn, "subscribe", boardID)
	}
	s.mu.Unlock()

	if err != nil {
		s.cfg.Logger.Debug("subscribe send failed, will replay on reconnect",
			"board_id", boardID, "error", err)
	}
}

// Leave unsubscribes the session from a board.
func (s *Session) Leave(boardID string) {
	s.mu.Lock()
	delete(s.boards, boardID)
	conn := s.conn
	if conn != nil {
		_ = s.writeMessage(conn, "unsubscribe", boardID)
	}
	s.mu.Unlock()
}

// Retry resets the attempt counter and wakes a FAILED session. Automatic
// retries never reset the counter; only this does.
func (s *Session) Retry() {
	s.attempts.Store(0)
	select {
	case s.retry <- struct{}{}:
	default:
	}
}

// Close permanently stops the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.events)

	first := true
	for {
		if s.isDone(ctx) {
			s.state.Store(int32(StateDisconnected))
			return
		}

		if first {
			s.state.Store(int32(StateConnecting))
		} else {
			s.state.Store(int32(StateReconnecting))
		}

		conn, err := s.dial(ctx)
		if err != nil {
			cerr := err.(*Error)
			s.emitError(cerr)

			if cerr.Kind != KindNetwork {
				// Auth, conflict and rate-limit failures are not
				// transport problems; retrying the dial cannot fix them.
				if !s.waitForManualRetry(ctx) {
					return
				}
				continue
			}

			attempt := s.attempts.Add(1)
			if int(attempt) >= s.cfg.MaxAttempts {
				s.state.Store(int32(StateFailed))
				s.cfg.Logger.Warn("reconnect attempts exhausted", "attempts", attempt)
				if !s.waitForManualRetry(ctx) {
					return
				}
				continue
			}

			if !s.sleep(ctx, s.backoff(int(attempt))) {
				return
			}
			continue
		}

		first = false
		s.attempts.Store(0)
		s.state.Store(int32(StateConnected))
		s.cfg.Logger.Info("session connected", "url", s.cfg.URL)

		s.resubscribe(conn)
		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL+"?token="+s.cfg.Token, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, classifyDialError(resp, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

// resubscribe replays every joined board, which also makes the server seed
// fresh presence snapshots.
func (s *Session) resubscribe(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for boardID := range s.boards {
		if err := s.writeMessage(conn, "subscribe", boardID); err != nil {
			s.cfg.Logger.Warn("resubscribe failed", "board_id", boardID, "error", err)
			return
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			if !s.isDoneChan() {
				s.emitError(&Error{Kind: KindNetwork, Op: "read", Err: err})
			}
			return
		}

		var event domain.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			s.cfg.Logger.Warn("dropping malformed event", "error", err)
			continue
		}

		if event.Type == "error" {
			s.emitError(s.serverError(event))
			continue
		}

		select {
		case s.events <- event:
		default:
			s.cfg.Logger.Warn("event buffer full, dropping event", "event_type", event.Type)
		}
	}
}

func (s *Session) serverError(event domain.Event) *Error {
	code, message := "", ""
	if data, ok := event.Data.(map[string]interface{}); ok {
		code, _ = data["code"].(string)
		message, _ = data["error"].(string)
	}
	return classifyServerError(code, message)
}

func (s *Session) writeMessage(conn *websocket.Conn, msgType, boardID string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"payload": map[string]string{"boardId": boardID},
	}
	return conn.WriteJSON(msg)
}

// backoff returns the exponential delay for the given attempt with jitter,
// bounded by BackoffCap.
func (s *Session) backoff(attempt int) time.Duration {
	delay := s.cfg.BackoffBase << uint(attempt-1)
	if delay > s.cfg.BackoffCap || delay <= 0 {
		delay = s.cfg.BackoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func (s *Session) waitForManualRetry(ctx context.Context) bool {
	s.state.Store(int32(StateFailed))
	select {
	case <-s.retry:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.retry:
		return true
	case <-ctx.Done():
		return false
	case <-s.closed:
		return false
	}
}

func (s *Session) emitError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Session) isDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Session) isDoneChan() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
