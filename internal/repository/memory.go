package repository

import (
	"sort"
	"strings"
	"sync"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/identifier"
)

// MemoryDB is an in-memory Repository. It backs the --in-memory development
// mode and the package tests; it honors the same dedup invariant as the
// postgres store.
type MemoryDB struct {
	mu sync.RWMutex

	intents   map[string]*models.DonationIntent // key: identifier|streamerID
	events    []*models.DonationEvent
	streamers map[string]*models.StreamerConfig // key: streamerID
	nextID    int64
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		intents:   make(map[string]*models.DonationIntent),
		streamers: make(map[string]*models.StreamerConfig),
		nextID:    1,
	}
}

func intentKey(id, streamerID string) string {
	return identifier.Normalize(id) + "|" + streamerID
}

func (db *MemoryDB) CreateIntent(intent *models.DonationIntent) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	stored := *intent
	stored.Identifier = identifier.Normalize(stored.Identifier)
	db.intents[intentKey(stored.Identifier, stored.StreamerID)] = &stored
	return nil
}

func (db *MemoryDB) GetIntent(id, streamerID string) (*models.DonationIntent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	intent, ok := db.intents[intentKey(id, streamerID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *intent
	return &copied, nil
}

func (db *MemoryDB) FindIntentByIdentifier(id string) (*models.DonationIntent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var match *models.DonationIntent
	for _, intent := range db.intents {
		if intent.Identifier != identifier.Normalize(id) {
			continue
		}
		if match == nil || intent.CreatedAt < match.CreatedAt {
			match = intent
		}
	}
	if match == nil {
		return nil, models.ErrNotFound
	}
	copied := *match
	return &copied, nil
}

func (db *MemoryDB) CreateEvent(event *models.DonationEvent) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, existing := range db.events {
		if existing.Identifier == event.Identifier && existing.StreamerID == event.StreamerID {
			return models.ErrDuplicateEvent
		}
	}
	stored := *event
	stored.ID = db.nextID
	db.nextID++
	db.events = append(db.events, &stored)
	event.ID = stored.ID
	return nil
}

func (db *MemoryDB) GetEventByID(eventID int64) (*models.DonationEvent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, e := range db.events {
		if e.ID == eventID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (db *MemoryDB) GetLatestEvent(streamerID string) (*models.DonationEvent, error) {
	events, err := db.GetEvents(streamerID)
	if err != nil || len(events) == 0 {
		return nil, models.ErrNotFound
	}
	return events[len(events)-1], nil
}

func (db *MemoryDB) GetEvents(streamerID string) ([]*models.DonationEvent, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*models.DonationEvent
	for _, e := range db.events {
		if e.StreamerID == streamerID {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (db *MemoryDB) UpdateVideoStatus(eventID int64, status models.VideoStatus) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, e := range db.events {
		if e.ID == eventID {
			s := status
			e.VideoStatus = &s
			return nil
		}
	}
	return models.ErrNotFound
}

func (db *MemoryDB) GetQueuedEvents(streamerID string) ([]*models.DonationEvent, error) {
	events, _ := db.GetEvents(streamerID)
	var out []*models.DonationEvent
	for _, e := range events {
		if e.VideoStatus != nil && !e.Cleared {
			out = append(out, e)
		}
	}
	return out, nil
}

func (db *MemoryDB) GetPlayingEvent(streamerID string) (*models.DonationEvent, error) {
	return db.firstWithStatus(streamerID, models.VideoStatusPlaying)
}

func (db *MemoryDB) GetNextPendingEvent(streamerID string) (*models.DonationEvent, error) {
	return db.firstWithStatus(streamerID, models.VideoStatusPending)
}

func (db *MemoryDB) firstWithStatus(streamerID string, status models.VideoStatus) (*models.DonationEvent, error) {
	events, _ := db.GetQueuedEvents(streamerID)
	for _, e := range events {
		if *e.VideoStatus == status {
			return e, nil
		}
	}
	return nil, models.ErrNotFound
}

func (db *MemoryDB) CountByVideoStatus(streamerID string, status models.VideoStatus) (int64, error) {
	events, _ := db.GetQueuedEvents(streamerID)
	var count int64
	for _, e := range events {
		if *e.VideoStatus == status {
			count++
		}
	}
	return count, nil
}

func (db *MemoryDB) ClearFinishedEvents(streamerID string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var cleared int64
	for _, e := range db.events {
		if e.StreamerID == streamerID && !e.Cleared && e.VideoStatus != nil && e.VideoStatus.IsTerminal() {
			e.Cleared = true
			cleared++
		}
	}
	return cleared, nil
}

func (db *MemoryDB) PurgeTestEvents(streamerID string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var kept []*models.DonationEvent
	var purged int64
	for _, e := range db.events {
		if e.StreamerID == streamerID && strings.HasPrefix(e.Identifier, identifier.TestPrefix+"-") {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	db.events = kept
	return purged, nil
}

func (db *MemoryDB) GetStreamerBySlug(slug string) (*models.StreamerConfig, error) {
	return db.findStreamer(func(c *models.StreamerConfig) bool { return c.Slug == slug })
}

func (db *MemoryDB) GetStreamerByID(streamerID string) (*models.StreamerConfig, error) {
	return db.findStreamer(func(c *models.StreamerConfig) bool { return c.StreamerID == streamerID })
}

func (db *MemoryDB) GetStreamerByWebhookID(webhookID string) (*models.StreamerConfig, error) {
	return db.findStreamer(func(c *models.StreamerConfig) bool { return c.WebhookID == webhookID })
}

func (db *MemoryDB) GetStreamerByWidgetToken(token string) (*models.StreamerConfig, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	return db.findStreamer(func(c *models.StreamerConfig) bool { return c.OBSWidgetToken == token })
}

func (db *MemoryDB) findStreamer(match func(*models.StreamerConfig) bool) (*models.StreamerConfig, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, cfg := range db.streamers {
		if match(cfg) {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (db *MemoryDB) SaveStreamer(cfg *models.StreamerConfig) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	copied := *cfg
	db.streamers[cfg.StreamerID] = &copied
	return nil
}
