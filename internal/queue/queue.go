// Package queue derives the YouTube-clip queue view from the event store and
// advances the "next video" pointer. It holds no state of its own.
package queue

import (
	"errors"
	"fmt"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// ErrInvalidTransition rejects a status update that leaves the allowed
// lifecycle path.
var ErrInvalidTransition = errors.New("invalid video status transition")

type Manager struct {
	logger *logger.Logger
	repo   models.Repository
}

func NewManager(repo models.Repository, logger *logger.Logger) *Manager {
	return &Manager{repo: repo, logger: logger}
}

// List returns the non-cleared video queue for a streamer, oldest first.
func (m *Manager) List(streamerID string) ([]*models.DonationEvent, error) {
	return m.repo.GetQueuedEvents(streamerID)
}

// Stats recomputes the aggregate queue view on demand.
func (m *Manager) Stats(streamerID string) (*models.QueueStats, error) {
	stats := &models.QueueStats{}

	var err error
	if stats.Pending, err = m.repo.CountByVideoStatus(streamerID, models.VideoStatusPending); err != nil {
		return nil, err
	}
	if stats.Playing, err = m.repo.CountByVideoStatus(streamerID, models.VideoStatusPlaying); err != nil {
		return nil, err
	}
	if stats.Completed, err = m.repo.CountByVideoStatus(streamerID, models.VideoStatusCompleted); err != nil {
		return nil, err
	}

	current, err := m.repo.GetPlayingEvent(streamerID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	stats.Current = current

	return stats, nil
}

// UpdateStatus moves one event along the lifecycle path. Transitions outside
// waiting_for_tts -> pending -> playing -> {completed, skipped} are rejected.
func (m *Manager) UpdateStatus(eventID int64, to models.VideoStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}

	event, err := m.repo.GetEventByID(eventID)
	if err != nil {
		return err
	}
	if event.VideoStatus == nil {
		return fmt.Errorf("%w: event %d has no video", ErrInvalidTransition, eventID)
	}
	if !models.ValidTransition(*event.VideoStatus, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *event.VideoStatus, to)
	}

	return m.repo.UpdateVideoStatus(eventID, to)
}

// MarkTTSDone promotes a clip from waiting_for_tts to pending once its
// narration has been announced.
func (m *Manager) MarkTTSDone(eventID int64) error {
	return m.UpdateStatus(eventID, models.VideoStatusPending)
}

// Advance completes the currently playing clip, if any, then promotes the
// oldest pending clip to playing and returns it. Returns ErrNotFound when the
// queue is empty.
func (m *Manager) Advance(streamerID string) (*models.DonationEvent, error) {
	current, err := m.repo.GetPlayingEvent(streamerID)
	if err == nil {
		if err := m.repo.UpdateVideoStatus(current.ID, models.VideoStatusCompleted); err != nil {
			return nil, fmt.Errorf("failed to complete playing clip: %s", err)
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	next, err := m.repo.GetNextPendingEvent(streamerID)
	if err != nil {
		return nil, err
	}
	if err := m.repo.UpdateVideoStatus(next.ID, models.VideoStatusPlaying); err != nil {
		return nil, fmt.Errorf("failed to start next clip: %s", err)
	}

	status := models.VideoStatusPlaying
	next.VideoStatus = &status
	m.logger.Debug("Advanced video queue ", "streamer ", streamerID, " event ", next.ID)
	return next, nil
}

// Clear batch-marks completed and skipped clips as cleared, hiding them from
// queue views while preserving the audit trail.
func (m *Manager) Clear(streamerID string) (int64, error) {
	return m.repo.ClearFinishedEvents(streamerID)
}
