package websocket

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
)

func TestClient_SubscriptionBookkeeping(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())

	assert.True(t, client.setSubscription("board-1", true))
	assert.False(t, client.setSubscription("board-1", true))
	assert.True(t, client.setSubscription("board-2", false))

	assert.ElementsMatch(t, []string{"board-1", "board-2"}, client.Subscriptions())

	existed, relayHeld := client.clearSubscription("board-1")
	assert.True(t, existed)
	assert.True(t, relayHeld)

	// board-2 was subscribed during a bus outage; no relay ref to release.
	existed, relayHeld = client.clearSubscription("board-2")
	assert.True(t, existed)
	assert.False(t, relayHeld)

	existed, _ = client.clearSubscription("board-1")
	assert.False(t, existed)
	assert.Empty(t, client.Subscriptions())
}

func TestClient_CloseSendIsIdempotent(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())

	client.CloseSend()
	client.CloseSend() // second close must not panic

	_, open := <-client.Send
	assert.False(t, open)
}

func TestClient_TrySendAfterCloseIsNoop(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())

	client.CloseSend()

	// A closed connection swallows the event instead of panicking, and is
	// not reported as slow.
	assert.True(t, client.TrySend(domain.Event{Type: domain.EventActivityCreated}))
}

func TestClient_TrySendReportsFullBuffer(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())

	event := domain.Event{Type: domain.EventActivityCreated}
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, client.TrySend(event))
	}

	assert.False(t, client.TrySend(event))
}

func TestClient_HandleSubscribeMessage(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())
	f.hub.registerClient(client)

	f.relay.On("Subscribe", "board-1").Return(nil).Once()
	f.relay.On("Publish", mock.Anything, mock.Anything)

	client.handleIncomingMessage([]byte(`{"type":"subscribe","payload":{"boardId":"board-1"}}`))

	assert.Equal(t, 1, f.hub.BoardWatcherCount("board-1"))
	f.relay.AssertExpectations(t)
}

func TestClient_HandleUnsubscribeMessage(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())
	f.hub.registerClient(client)

	f.relay.On("Subscribe", "board-1").Return(nil).Once()
	f.relay.On("Publish", mock.Anything, mock.Anything)
	f.relay.On("Unsubscribe", "board-1").Once()

	client.handleIncomingMessage([]byte(`{"type":"subscribe","payload":{"boardId":"board-1"}}`))
	client.handleIncomingMessage([]byte(`{"type":"unsubscribe","payload":{"boardId":"board-1"}}`))

	assert.Equal(t, 0, f.hub.BoardWatcherCount("board-1"))
	f.relay.AssertExpectations(t)
}

func TestClient_HandlePingMessage(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())
	f.hub.registerClient(client)

	client.handleIncomingMessage([]byte(`{"type":"ping"}`))

	select {
	case event := <-client.Send:
		assert.Equal(t, domain.EventType("pong"), event.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a pong response")
	}
}

func TestClient_MessageTouchesPresence(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())
	f.hub.registerClient(client)

	f.relay.On("Subscribe", "board-1").Return(nil).Once()
	f.relay.On("Publish", mock.Anything, mock.Anything)

	client.handleIncomingMessage([]byte(`{"type":"subscribe","payload":{"boardId":"board-1"}}`))

	before := f.presence.Snapshot("board-1")[0].LastActivityAt
	time.Sleep(2 * time.Millisecond)

	client.handleIncomingMessage([]byte(`{"type":"ping"}`))

	after := f.presence.Snapshot("board-1")[0].LastActivityAt
	assert.True(t, after.After(before))
}

func TestClient_MalformedMessagesAreIgnored(t *testing.T) {
	f := newHubFixture()
	client := NewClient(f.hub, nil, uuid.New(), testLogger())
	f.hub.registerClient(client)

	client.handleIncomingMessage([]byte(`{not json`))
	client.handleIncomingMessage([]byte(`{"type":"subscribe","payload":{not json}}`))
	client.handleIncomingMessage([]byte(`{"type":"subscribe","payload":{"boardId":""}}`))
	client.handleIncomingMessage([]byte(`{"type":"mystery"}`))

	assert.Empty(t, client.Subscriptions())
	require.Equal(t, 0, f.hub.BoardWatcherCount("board-1"))
}
