package repository

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/secret"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/identifier"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

type PostgresDB struct {
	logger *logger.Logger
	cipher *secret.Cipher

	Conn *gorm.DB
}

func NewPostgresDB(user, password, dbname, host string, port int, cipher *secret.Cipher, logger *logger.Logger) (models.Repository, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Use standard logger
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond, // Log queries slower than this
			LogLevel:                  gormLogger.Warn,        // Only log warnings or errors
			IgnoreRecordNotFoundError: true,                   // Suppress "record not found" errors
			Colorful:                  true,                   // Enable colorful logs
		},
	)
	// TranslateError maps the unique-index violation on donation_events to
	// gorm.ErrDuplicatedKey, which backs the webhook dedup invariant.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %s", err)
	}

	if err := db.AutoMigrate(&models.DonationIntent{}, &models.DonationEvent{}, &models.StreamerConfig{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate models: %s", err)
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return &PostgresDB{Conn: db, cipher: cipher, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %s", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) CreateIntent(intent *models.DonationIntent) error {
	if err := db.Conn.Create(intent).Error; err != nil {
		return fmt.Errorf("failed to create donation intent: %s", err)
	}

	return nil
}

func (db *PostgresDB) GetIntent(id, streamerID string) (*models.DonationIntent, error) {
	var intent models.DonationIntent
	err := db.Conn.Where("identifier = ? AND streamer_id = ?", identifier.Normalize(id), streamerID).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get donation intent: %s", err)
	}

	return &intent, nil
}

// FindIntentByIdentifier looks up an intent without streamer scoping. Only the
// legacy shared-secret webhook uses it; first match wins.
func (db *PostgresDB) FindIntentByIdentifier(id string) (*models.DonationIntent, error) {
	var intent models.DonationIntent
	err := db.Conn.Where("identifier = ?", identifier.Normalize(id)).Order("created_at ASC").First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find donation intent: %s", err)
	}

	return &intent, nil
}

func (db *PostgresDB) CreateEvent(event *models.DonationEvent) error {
	if err := db.Conn.Create(event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to create donation event: %s", err)
	}

	return nil
}

func (db *PostgresDB) GetEventByID(eventID int64) (*models.DonationEvent, error) {
	var event models.DonationEvent
	if err := db.Conn.First(&event, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get donation event: %s", err)
	}

	return &event, nil
}

func (db *PostgresDB) GetLatestEvent(streamerID string) (*models.DonationEvent, error) {
	var event models.DonationEvent
	err := db.Conn.Where("streamer_id = ?", streamerID).Order("created_at DESC").First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest donation event: %s", err)
	}

	return &event, nil
}

func (db *PostgresDB) GetEvents(streamerID string) ([]*models.DonationEvent, error) {
	var events []*models.DonationEvent
	if err := db.Conn.Where("streamer_id = ?", streamerID).Order("created_at ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get donation events: %s", err)
	}

	return events, nil
}

func (db *PostgresDB) UpdateVideoStatus(eventID int64, status models.VideoStatus) error {
	result := db.Conn.Model(&models.DonationEvent{}).Where("id = ?", eventID).Update("video_status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update video status: %s", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrNotFound
	}

	return nil
}

// GetQueuedEvents returns video-bearing, non-cleared events for the queue
// views, oldest first.
func (db *PostgresDB) GetQueuedEvents(streamerID string) ([]*models.DonationEvent, error) {
	var events []*models.DonationEvent
	err := db.Conn.
		Where("streamer_id = ? AND video_status IS NOT NULL AND cleared = ?", streamerID, false).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get queued events: %s", err)
	}

	return events, nil
}

func (db *PostgresDB) GetPlayingEvent(streamerID string) (*models.DonationEvent, error) {
	var event models.DonationEvent
	err := db.Conn.
		Where("streamer_id = ? AND video_status = ? AND cleared = ?", streamerID, models.VideoStatusPlaying, false).
		Order("created_at ASC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get playing event: %s", err)
	}

	return &event, nil
}

func (db *PostgresDB) GetNextPendingEvent(streamerID string) (*models.DonationEvent, error) {
	var event models.DonationEvent
	err := db.Conn.
		Where("streamer_id = ? AND video_status = ? AND cleared = ?", streamerID, models.VideoStatusPending, false).
		Order("created_at ASC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get next pending event: %s", err)
	}

	return &event, nil
}

func (db *PostgresDB) CountByVideoStatus(streamerID string, status models.VideoStatus) (int64, error) {
	var count int64
	err := db.Conn.Model(&models.DonationEvent{}).
		Where("streamer_id = ? AND video_status = ? AND cleared = ?", streamerID, status, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count events by video status: %s", err)
	}

	return count, nil
}

// ClearFinishedEvents marks all completed/skipped, non-cleared events for a
// streamer as cleared. Rows are kept for the audit trail.
func (db *PostgresDB) ClearFinishedEvents(streamerID string) (int64, error) {
	result := db.Conn.Model(&models.DonationEvent{}).
		Where("streamer_id = ? AND video_status IN ? AND cleared = ?",
			streamerID, []models.VideoStatus{models.VideoStatusCompleted, models.VideoStatusSkipped}, false).
		Update("cleared", true)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear finished events: %s", result.Error)
	}

	return result.RowsAffected, nil
}

// PurgeTestEvents deletes synthetic events created through the test trigger.
// This is the only deletion path for donation events.
func (db *PostgresDB) PurgeTestEvents(streamerID string) (int64, error) {
	result := db.Conn.
		Where("streamer_id = ? AND identifier LIKE ?", streamerID, identifier.TestPrefix+"-%").
		Delete(&models.DonationEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge test events: %s", result.Error)
	}

	return result.RowsAffected, nil
}

func (db *PostgresDB) GetStreamerBySlug(slug string) (*models.StreamerConfig, error) {
	return db.getStreamer("slug = ?", slug)
}

func (db *PostgresDB) GetStreamerByID(streamerID string) (*models.StreamerConfig, error) {
	return db.getStreamer("streamer_id = ?", streamerID)
}

func (db *PostgresDB) GetStreamerByWebhookID(webhookID string) (*models.StreamerConfig, error) {
	return db.getStreamer("webhook_id = ?", webhookID)
}

func (db *PostgresDB) GetStreamerByWidgetToken(token string) (*models.StreamerConfig, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	return db.getStreamer("obs_widget_token = ?", token)
}

func (db *PostgresDB) getStreamer(query string, arg interface{}) (*models.StreamerConfig, error) {
	var cfg models.StreamerConfig
	if err := db.Conn.Where(query, arg).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get streamer config: %s", err)
	}

	if cfg.APIToken != "" {
		token, err := db.cipher.Decrypt(cfg.APIToken)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt streamer API token: %s", err)
		}
		cfg.APIToken = token
	}

	return &cfg, nil
}

func (db *PostgresDB) SaveStreamer(cfg *models.StreamerConfig) error {
	stored := *cfg
	if stored.APIToken != "" {
		sealed, err := db.cipher.Encrypt(stored.APIToken)
		if err != nil {
			return fmt.Errorf("failed to encrypt streamer API token: %s", err)
		}
		stored.APIToken = sealed
	}

	if err := db.Conn.Save(&stored).Error; err != nil {
		return fmt.Errorf("failed to save streamer config: %s", err)
	}

	return nil
}
