package ws

import (
	"log/slog"
	"sync"

	"mutuals/internal/models"
)

// Buffered per-connection outbound queue. A connection that cannot drain this
// many envelopes is considered failed and loses further deliveries.
const subscriptionBuffer = 64

// Subscription is one live connection's registration in the Hub. A user may
// hold any number of concurrent subscriptions (multiple devices or tabs).
type Subscription struct {
	userID string
	ch     chan models.Envelope
}

// Envelopes is the stream of envelopes published to this subscription's user.
// The channel is closed when the subscription leaves the Hub.
func (s *Subscription) Envelopes() <-chan models.Envelope {
	return s.ch
}

func (s *Subscription) UserID() string {
	return s.userID
}

// Hub is the presence registry combined with the relay bus: it maps user IDs
// to their currently open subscriptions and fans published envelopes out to
// all of them. A Hub is an injected dependency, not process-global state, so
// tests can run independent instances.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*Subscription]struct{}
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Subscription]struct{}),
		log:    log,
	}
}

// Join registers a new connection under the user's group and returns its
// subscription.
func (h *Hub) Join(userID string) *Subscription {
	sub := &Subscription{
		userID: userID,
		ch:     make(chan models.Envelope, subscriptionBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[userID]
	if !ok {
		group = make(map[*Subscription]struct{})
		h.groups[userID] = group
	}
	group[sub] = struct{}{}

	return sub
}

// Leave removes the subscription from its user's group and closes its
// envelope channel. It is idempotent and a no-op for a nil or already-removed
// subscription, so it is safe to call on every connection exit path, including
// ones where Join never completed. Sibling subscriptions of the same user are
// unaffected.
func (h *Hub) Leave(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[sub.userID]
	if !ok {
		return
	}
	if _, ok := group[sub]; !ok {
		return
	}
	delete(group, sub)
	close(sub.ch)
	if len(group) == 0 {
		delete(h.groups, sub.userID)
	}
}

// Publish delivers a copy of the envelope to every connection currently
// registered for userID. When nobody is registered it is a silent no-op:
// the live relay is send-if-online, never a durable queue. Publish never
// blocks on a recipient; a full subscription buffer drops that one delivery
// with a log line.
func (h *Hub) Publish(userID string, envelope models.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.groups[userID] {
		select {
		case sub.ch <- envelope:
		default:
			h.log.Warn("dropping envelope for slow connection", "user_id", userID, "type", envelope.Type)
		}
	}
}

// Connected reports how many live connections the user currently has.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[userID])
}
