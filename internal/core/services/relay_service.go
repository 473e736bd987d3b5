package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/boardflow/boardflow-backend/internal/core/domain"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// GlobalChannel carries cross-board signals such as cache invalidation.
const GlobalChannel = "boardflow:global"

func boardUpdatesChannel(boardID string) string {
	return fmt.Sprintf("board:%s:updates", boardID)
}

func boardPresenceChannel(boardID string) string {
	return fmt.Sprintf("board:%s:presence", boardID)
}

// envelope wraps an event on the wire with its originating process so each
// subscriber can tell its own publishes apart from remote ones.
type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// RelayService bridges per-process connection registries over the pub/sub
// bus. Bus subscriptions are reference-counted per board: the first local
// watcher opens them, the last closes them. All local delivery is driven by
// inbound bus messages - including events this process published itself -
// which keeps per-origin ordering identical on every process.
type RelayService struct {
	bus       ports.EventBus
	presence  ports.PresenceTracker
	processID string
	logger    *slog.Logger

	mu        sync.Mutex
	deliverer ports.EventDeliverer
	onGlobal  func(domain.Event)
	watched   map[string]*boardWatch
	global    ports.Subscription
}

type boardWatch struct {
	refs     int
	updates  ports.Subscription
	presence ports.Subscription
}

var _ ports.EventRelay = (*RelayService)(nil)

// NewRelayService creates a relay identified by processID on the bus.
func NewRelayService(bus ports.EventBus, presence ports.PresenceTracker, processID string, logger *slog.Logger) *RelayService {
	return &RelayService{
		bus:       bus,
		presence:  presence,
		processID: processID,
		logger:    logger.With("component", "relay", "process_id", processID),
		watched:   make(map[string]*boardWatch),
	}
}

// SetDeliverer wires the local connection registry. Must be called before
// Subscribe; split from the constructor because the registry itself depends
// on the relay.
func (s *RelayService) SetDeliverer(d ports.EventDeliverer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliverer = d
}

// SetGlobalHandler registers a callback for events on the global channel.
func (s *RelayService) SetGlobalHandler(fn func(domain.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGlobal = fn
}

// Start opens the global channel subscription.
func (s *RelayService) Start() error {
	sub, err := s.bus.Subscribe(GlobalChannel, s.handleGlobal)
	if err != nil {
		return fmt.Errorf("subscribe global channel: %w", err)
	}

	s.mu.Lock()
	s.global = sub
	s.mu.Unlock()
	return nil
}

// Close tears down every open bus subscription.
func (s *RelayService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for boardID, watch := range s.watched {
		closeWatch(watch)
		delete(s.watched, boardID)
	}
	if s.global != nil {
		_ = s.global.Close()
		s.global = nil
	}
}

// Publish broadcasts the event to every process watching its board.
// Fire-and-forget: a bus outage downgrades publishes to best effort and is
// logged, never returned to the caller.
func (s *RelayService) Publish(ctx context.Context, event domain.Event) {
	payload, err := json.Marshal(envelope{Origin: s.processID, Event: event})
	if err != nil {
		s.logger.Error("failed to marshal event", "event_type", event.Type, "error", err)
		return
	}

	channel := GlobalChannel
	switch {
	case event.BoardID == "":
	case event.Type == domain.EventPresenceJoin || event.Type == domain.EventPresenceLeave:
		channel = boardPresenceChannel(event.BoardID)
	default:
		channel = boardUpdatesChannel(event.BoardID)
	}

	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.Warn("event bus unavailable, publish dropped",
			"channel", channel,
			"event_type", event.Type,
			"error", err,
		)
	}
}

// Subscribe opens the board's bus subscriptions on the first local watcher
// and bumps the reference count on every subsequent one.
func (s *RelayService) Subscribe(boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if watch, ok := s.watched[boardID]; ok {
		watch.refs++
		return nil
	}

	updates, err := s.bus.Subscribe(boardUpdatesChannel(boardID), s.inbound(boardID))
	if err != nil {
		return fmt.Errorf("subscribe board updates: %w", err)
	}
	presence, err := s.bus.Subscribe(boardPresenceChannel(boardID), s.inbound(boardID))
	if err != nil {
		_ = updates.Close()
		return fmt.Errorf("subscribe board presence: %w", err)
	}

	s.watched[boardID] = &boardWatch{refs: 1, updates: updates, presence: presence}
	s.logger.Debug("opened board subscription", "board_id", boardID)
	return nil
}

// Unsubscribe drops one reference and closes the bus subscriptions when the
// last local watcher of the board is gone.
func (s *RelayService) Unsubscribe(boardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	watch, ok := s.watched[boardID]
	if !ok {
		return
	}
	watch.refs--
	if watch.refs > 0 {
		return
	}

	closeWatch(watch)
	delete(s.watched, boardID)
	s.logger.Debug("closed board subscription", "board_id", boardID)
}

// WatchedBoards returns the number of boards with open bus subscriptions.
func (s *RelayService) WatchedBoards() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watched)
}

func (s *RelayService) inbound(boardID string) func([]byte) {
	return func(payload []byte) {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.logger.Warn("dropping malformed bus message", "board_id", boardID, "error", err)
			return
		}

		// Local presence state was already updated by the registry before
		// this process published, so only remote edges are reconciled.
		if env.Origin != s.processID {
			switch env.Event.Type {
			case domain.EventPresenceJoin, domain.EventPresenceLeave:
				s.presence.Apply(env.Event)
			}
		}

		s.mu.Lock()
		deliverer := s.deliverer
		s.mu.Unlock()
		if deliverer != nil {
			deliverer.Deliver(boardID, env.Event)
		}
	}
}

func (s *RelayService) handleGlobal(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.logger.Warn("dropping malformed global message", "error", err)
		return
	}

	s.mu.Lock()
	onGlobal := s.onGlobal
	s.mu.Unlock()
	if onGlobal != nil {
		onGlobal(env.Event)
	}
}

func closeWatch(watch *boardWatch) {
	_ = watch.updates.Close()
	_ = watch.presence.Close()
}
