// Package hub keeps the registry of live overlay connections and fans
// confirmed donation events out to them.
package hub

import (
	"sync"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

const (
	// HeartbeatInterval is how often each connection emits a ping frame so
	// intermediary proxies do not close idle connections.
	HeartbeatInterval = 15 * time.Second

	subscriberBuffer = 32
)

// Subscription is one live overlay connection. Events arrive on C; delivery
// is best-effort and at-most-once, a slow or disconnected consumer loses
// events published meanwhile.
type Subscription struct {
	id uint64
	// StreamerID scopes delivery; empty receives every streamer's events
	// (legacy single-tenant widget).
	StreamerID string
	C          chan *models.DonationEvent
}

// Hub is an injectable connection registry. It is safe for concurrent
// subscribe/unsubscribe/publish.
type Hub struct {
	logger *logger.Logger

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	dropMu     sync.Mutex
	dropCounts map[string]uint64
}

func NewHub(logger *logger.Logger) *Hub {
	return &Hub{
		logger:     logger,
		subs:       make(map[uint64]*Subscription),
		dropCounts: make(map[string]uint64),
	}
}

// Subscribe registers a connection. Pass an empty streamerID for an unscoped
// broadcast-to-all subscription.
func (h *Hub) Subscribe(streamerID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:         h.nextID,
		StreamerID: streamerID,
		C:          make(chan *models.DonationEvent, subscriberBuffer),
	}
	h.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a connection and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.C)
}

// Publish delivers an event to every connection subscribed to the streamer
// and to every unscoped connection. Sends never block; a full subscriber
// buffer drops the event for that connection only.
//
// The read lock is held across the send loop: Unsubscribe closes channels
// under the write lock, so a send can never hit a closed channel. The
// critical section stays bounded because every send is non-blocking.
func (h *Hub) Publish(streamerID string, event *models.DonationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.StreamerID != "" && sub.StreamerID != streamerID {
			continue
		}
		select {
		case sub.C <- event:
		default:
			h.recordDrop(streamerID)
		}
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) recordDrop(streamerID string) {
	h.dropMu.Lock()
	defer h.dropMu.Unlock()
	h.dropCounts[streamerID]++
	if h.dropCounts[streamerID]%100 == 1 {
		h.logger.Warn("Dropping donation events for slow subscriber ", "streamer ", streamerID, " total drops ", h.dropCounts[streamerID])
	}
}
