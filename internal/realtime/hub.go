// Package realtime implements the Hub described in 4.F: a per-user
// subscription set that fans timer and entry events out over WebSocket
// connections, and a polling-compatible drain for hosts that block
// upgraded transports.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/clockframe/clockframe/internal/metrics"
)

type EventType string

const (
	EventTimerStarted EventType = "timer:started"
	EventTimerStopped EventType = "timer:stopped"
	EventTimerPaused  EventType = "timer:paused"
	EventTimerUpdate  EventType = "timer:update"
	EventTimerState   EventType = "timer:state"
	EventTimerError   EventType = "timer:error"
	EventEntryCreated EventType = "timeEntry:created"
	EventEntryUpdated EventType = "timeEntry:updated"
	EventEntryDeleted EventType = "timeEntry:deleted"
)

// Event is the wire frame: {type, payload} per 4.F, with a server timestamp
// appended so polling clients can order what they receive.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	defaultBufferSize = 256
	slowConsumerGrace = 5 * time.Second
	pollIdleTTL       = 2 * time.Minute
)

// Subscription owns one outbound event queue. A WebSocket connection and a
// polling client are both represented the same way; only Transport differs.
type Subscription struct {
	ID        string
	UserID    uuid.UUID
	SessionID string
	Transport string // "ws" or "poll"
	Send      chan Event

	mu          sync.Mutex
	fullSince   *time.Time
	lastDrained time.Time
	closed      bool
	closeCh     chan struct{}
}

func newSubscription(userID uuid.UUID, sessionID, transport string) *Subscription {
	return &Subscription{
		ID:          xid.New().String(),
		UserID:      userID,
		SessionID:   sessionID,
		Transport:   transport,
		Send:        make(chan Event, defaultBufferSize),
		lastDrained: time.Now(),
		closeCh:     make(chan struct{}),
	}
}

// Closed is signaled once when the Hub tears the subscription down, either
// because the caller unregistered it or the reaper found it slow or idle.
func (s *Subscription) Closed() <-chan struct{} {
	return s.closeCh
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.closeCh)
}

// Hub is the single subscription table guarded by one lock, per §5's
// "shared resources" and §9's redesign of the emitter/callback pattern into
// explicit channels.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[string]*Subscription
	log  zerolog.Logger
	stop chan struct{}
}

func NewHub(log zerolog.Logger) *Hub {
	h := &Hub{
		subs: make(map[uuid.UUID]map[string]*Subscription),
		log:  log,
		stop: make(chan struct{}),
	}
	go h.reapLoop()
	return h
}

// Register creates a new subscription for a user. transport is "ws" for a
// live channel connection or "poll" for a GET /poll-backed client.
func (h *Hub) Register(userID uuid.UUID, sessionID, transport string) *Subscription {
	sub := newSubscription(userID, sessionID, transport)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]*Subscription)
	}
	h.subs[userID][sub.ID] = sub
	h.mu.Unlock()

	metrics.RealtimeSubscriptions.WithLabelValues(transport).Inc()
	return sub
}

// Unregister removes a subscription, e.g. on WebSocket disconnect.
func (h *Hub) Unregister(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.UserID]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(h.subs, sub.UserID)
		}
	}
	h.mu.Unlock()
	sub.close()
	metrics.RealtimeSubscriptions.WithLabelValues(sub.Transport).Dec()
}

// Publish fans an event out to every live subscription for a user.
// Delivery is best-effort and never blocks the caller: a full channel
// starts the slow-consumer grace timer instead of waiting for room.
func (h *Hub) Publish(userID uuid.UUID, eventType EventType, payload any) {
	event := Event{Type: eventType, Payload: payload, Timestamp: time.Now()}

	h.mu.RLock()
	set := h.subs[userID]
	targets := make([]*Subscription, 0, len(set))
	for _, sub := range set {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	metrics.RealtimeEventsPublished.WithLabelValues(string(eventType)).Inc()

	for _, sub := range targets {
		select {
		case sub.Send <- event:
			sub.mu.Lock()
			sub.fullSince = nil
			sub.mu.Unlock()
		default:
			sub.mu.Lock()
			if sub.fullSince == nil {
				now := time.Now()
				sub.fullSince = &now
			}
			sub.mu.Unlock()
		}
	}
}

// Drain returns and clears every event currently buffered for a
// subscription — the server side of GET /poll.
func (h *Hub) Drain(sub *Subscription) []Event {
	events := make([]Event, 0, len(sub.Send))
	for {
		select {
		case e := <-sub.Send:
			events = append(events, e)
		default:
			sub.mu.Lock()
			sub.lastDrained = time.Now()
			sub.fullSince = nil
			sub.mu.Unlock()
			return events
		}
	}
}

// ActiveCount reports live subscriptions for a user, used by metrics.
func (h *Hub) ActiveCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Shutdown stops the reaper goroutine; existing subscriptions are left for
// the caller to unregister explicitly.
func (h *Hub) Shutdown() {
	close(h.stop)
}

// reapLoop closes subscriptions backpressured past slowConsumerGrace, and
// poll subscriptions nobody has drained within pollIdleTTL.
func (h *Hub) reapLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			h.reapOnce(now)
		}
	}
}

func (h *Hub) reapOnce(now time.Time) {
	var toClose []*Subscription

	h.mu.RLock()
	for _, set := range h.subs {
		for _, sub := range set {
			sub.mu.Lock()
			slow := sub.fullSince != nil && now.Sub(*sub.fullSince) > slowConsumerGrace
			idle := sub.Transport == "poll" && now.Sub(sub.lastDrained) > pollIdleTTL
			sub.mu.Unlock()
			if slow || idle {
				toClose = append(toClose, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range toClose {
		sub.mu.Lock()
		reason := "idle_poll"
		if sub.fullSince != nil {
			reason = "slow_consumer"
		}
		sub.mu.Unlock()

		h.log.Info().
			Str("subscriptionId", sub.ID).
			Str("userId", sub.UserID.String()).
			Str("transport", sub.Transport).
			Str("reason", reason).
			Msg("closing subscription")
		metrics.RealtimeSubscriptionsClosed.WithLabelValues(reason).Inc()
		h.Unregister(sub)
	}
}
