package domain

import "time"

// EventType defines the type of real-time event pushed to clients.
type EventType string

const (
	EventActivityCreated EventType = "activity:created"
	EventBoardUpdated    EventType = "board:updated"
	EventMemberUpdated   EventType = "member:updated"
	EventMemberRemoved   EventType = "member:removed"
	EventPresenceJoin    EventType = "presence:join"
	EventPresenceLeave   EventType = "presence:leave"
	EventPresenceState   EventType = "presence:state"
)

// Event is the payload sent over WebSocket. BoardID routes the event to the
// board's subscribers and is empty only for global events.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	BoardID   string      `json:"boardId,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, boardID string, data interface{}) Event {
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
		BoardID:   boardID,
	}
}

// PresencePayload is the data carried by presence:join and presence:leave.
type PresencePayload struct {
	UserID string `json:"userId"`
}
