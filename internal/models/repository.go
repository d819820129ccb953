package models

import "errors"

// ErrDuplicateEvent is returned by CreateEvent when an event for the same
// (streamer, identifier) pair already exists. The reconciler treats it as a
// duplicate webhook delivery, not a failure.
var ErrDuplicateEvent = errors.New("donation event already exists")

// ErrNotFound is returned by lookups that matched nothing.
var ErrNotFound = errors.New("record not found")

type Repository interface {
	// Intents.
	CreateIntent(intent *DonationIntent) error
	GetIntent(identifier, streamerID string) (*DonationIntent, error)
	FindIntentByIdentifier(identifier string) (*DonationIntent, error)

	// Events.
	CreateEvent(event *DonationEvent) error
	GetEventByID(eventID int64) (*DonationEvent, error)
	GetLatestEvent(streamerID string) (*DonationEvent, error)
	GetEvents(streamerID string) ([]*DonationEvent, error)
	UpdateVideoStatus(eventID int64, status VideoStatus) error
	GetQueuedEvents(streamerID string) ([]*DonationEvent, error)
	GetPlayingEvent(streamerID string) (*DonationEvent, error)
	GetNextPendingEvent(streamerID string) (*DonationEvent, error)
	CountByVideoStatus(streamerID string, status VideoStatus) (int64, error)
	ClearFinishedEvents(streamerID string) (int64, error)
	PurgeTestEvents(streamerID string) (int64, error)

	// Streamer configs.
	GetStreamerBySlug(slug string) (*StreamerConfig, error)
	GetStreamerByID(streamerID string) (*StreamerConfig, error)
	GetStreamerByWebhookID(webhookID string) (*StreamerConfig, error)
	GetStreamerByWidgetToken(token string) (*StreamerConfig, error)
	SaveStreamer(cfg *StreamerConfig) error
}
