package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
)

// fakeServer is a minimal websocket endpoint: it records inbound client
// messages and hands each accepted connection to the test.
type fakeServer struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	messages chan map[string]interface{}
	reject   atomic.Bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	f := &fakeServer{
		conns:    make(chan *websocket.Conn, 4),
		messages: make(chan map[string]interface{}, 16),
	}

	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.reject.Load() {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn

		for {
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.messages <- msg
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (f *fakeServer) nextMessage(t *testing.T) map[string]interface{} {
	t.Helper()
	select {
	case msg := <-f.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func newTestSession(srv *fakeServer) *Session {
	return New(Config{
		URL:         srv.url(),
		Token:       "test-token",
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		MaxAttempts: 3,
	})
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, 2*time.Second, 5*time.Millisecond, "expected state %v, got %v", want, s.State())
}

func TestSession_ConnectAndReceiveEvents(t *testing.T) {
	srv := newFakeServer(t)
	session := newTestSession(srv)
	defer session.Close()

	session.Connect(context.Background())
	conn := srv.accept(t)
	waitForState(t, session, StateConnected)
	assert.False(t, session.Degraded())

	require.NoError(t, conn.WriteJSON(domain.NewEvent(domain.EventBoardUpdated, "board-1", nil)))

	select {
	case event := <-session.Events():
		assert.Equal(t, domain.EventBoardUpdated, event.Type)
		assert.Equal(t, "board-1", event.BoardID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSession_TokenIsSentOnDial(t *testing.T) {
	var gotToken atomic.Value

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken.Store(r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err == nil {
			_ = conn.Close()
		}
	}))
	t.Cleanup(srv.Close)

	session := New(Config{
		URL:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token: "secret-token",
	})
	defer session.Close()

	session.Connect(context.Background())

	require.Eventually(t, func() bool {
		token, _ := gotToken.Load().(string)
		return token == "secret-token"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_JoinSendsSubscribe(t *testing.T) {
	srv := newFakeServer(t)
	session := newTestSession(srv)
	defer session.Close()

	session.Connect(context.Background())
	srv.accept(t)
	waitForState(t, session, StateConnected)

	session.Join("board-1")

	msg := srv.nextMessage(t)
	assert.Equal(t, "subscribe", msg["type"])
	payload := msg["payload"].(map[string]interface{})
	assert.Equal(t, "board-1", payload["boardId"])

	session.Leave("board-1")

	msg = srv.nextMessage(t)
	assert.Equal(t, "unsubscribe", msg["type"])
}

func TestSession_ResubscribesAfterReconnect(t *testing.T) {
	srv := newFakeServer(t)
	session := newTestSession(srv)
	defer session.Close()

	session.Connect(context.Background())
	first := srv.accept(t)
	waitForState(t, session, StateConnected)

	session.Join("board-1")
	session.Join("board-2")
	srv.nextMessage(t)
	srv.nextMessage(t)

	// Drop the connection; the session must reconnect and replay both
	// subscriptions without being asked.
	_ = first.Close()

	srv.accept(t)
	waitForState(t, session, StateConnected)

	boards := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := srv.nextMessage(t)
		require.Equal(t, "subscribe", msg["type"])
		payload := msg["payload"].(map[string]interface{})
		boards[payload["boardId"].(string)] = true
	}
	assert.True(t, boards["board-1"])
	assert.True(t, boards["board-2"])
}

func TestSession_AuthFailureNeedsManualRetry(t *testing.T) {
	srv := newFakeServer(t)
	srv.reject.Store(true)

	session := newTestSession(srv)
	defer session.Close()

	session.Connect(context.Background())
	waitForState(t, session, StateFailed)

	select {
	case err := <-session.Errors():
		var cerr *Error
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, KindAuth, cerr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced")
	}

	// A rejected token is not retried automatically.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateFailed, session.State())
	assert.True(t, session.Degraded())

	// After the user fixes the token, a manual retry reconnects.
	srv.reject.Store(false)
	session.Retry()
	srv.accept(t)
	waitForState(t, session, StateConnected)
}

func TestSession_NetworkFailureExhaustsAttempts(t *testing.T) {
	// A server that is immediately shut down leaves a refused port.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	session := New(Config{
		URL:         url,
		Token:       "test-token",
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
		MaxAttempts: 2,
	})
	defer session.Close()

	session.Connect(context.Background())
	waitForState(t, session, StateFailed)

	select {
	case err := <-session.Errors():
		var cerr *Error
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, KindNetwork, cerr.Kind)
	default:
		t.Fatal("expected at least one network error")
	}
}

func TestSession_ServerErrorEventsAreClassified(t *testing.T) {
	srv := newFakeServer(t)
	session := newTestSession(srv)
	defer session.Close()

	session.Connect(context.Background())
	conn := srv.accept(t)
	waitForState(t, session, StateConnected)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "error",
		"data": map[string]interface{}{
			"code":  "RATE_LIMITED",
			"error": "Too many requests",
		},
	}))

	select {
	case err := <-session.Errors():
		var cerr *Error
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, KindRateLimit, cerr.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced")
	}

	// Server-side errors do not tear down the connection.
	assert.Equal(t, StateConnected, session.State())
}

func TestSession_CloseStopsTheLoop(t *testing.T) {
	srv := newFakeServer(t)
	session := newTestSession(srv)

	session.Connect(context.Background())
	srv.accept(t)
	waitForState(t, session, StateConnected)

	session.Close()

	// The events channel closes once the run loop exits.
	require.Eventually(t, func() bool {
		select {
		case _, open := <-session.Events():
			return !open
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
}
