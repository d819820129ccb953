package models

import "fmt"

// VideoStatus is the lifecycle state of a YouTube clip attached to a donation.
type VideoStatus string

const (
	VideoStatusWaitingForTTS VideoStatus = "waiting_for_tts"
	VideoStatusPending       VideoStatus = "pending"
	VideoStatusPlaying       VideoStatus = "playing"
	VideoStatusCompleted     VideoStatus = "completed"
	VideoStatusSkipped       VideoStatus = "skipped"
)

// videoTransitions is the only allowed path:
// waiting_for_tts -> pending -> playing -> {completed, skipped}
var videoTransitions = map[VideoStatus][]VideoStatus{
	VideoStatusWaitingForTTS: {VideoStatusPending},
	VideoStatusPending:       {VideoStatusPlaying, VideoStatusSkipped},
	VideoStatusPlaying:       {VideoStatusCompleted, VideoStatusSkipped},
}

// ValidTransition reports whether moving from one video status to another is
// allowed.
func ValidTransition(from, to VideoStatus) bool {
	for _, next := range videoTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a video status can be cleared.
func (s VideoStatus) IsTerminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusSkipped
}

// Valid reports whether s is a known video status.
func (s VideoStatus) Valid() bool {
	switch s {
	case VideoStatusWaitingForTTS, VideoStatusPending, VideoStatusPlaying, VideoStatusCompleted, VideoStatusSkipped:
		return true
	}
	return false
}

// DonationIntent is a donor's pre-payment submission, awaiting bank
// confirmation. Created once by the donation-creation endpoint and never
// mutated; it is consumed when a matching webhook statement item arrives.
type DonationIntent struct {
	// Identifier is the short code embedded in the payment comment. Looked
	// up together with StreamerID, never alone.
	Identifier string `json:"identifier" gorm:"column:identifier;primaryKey"`
	// StreamerID scopes the intent to a single streamer.
	StreamerID string `json:"streamer_id" gorm:"column:streamer_id;primaryKey"`
	// Nickname is the donor's display name, at most 30 characters.
	Nickname string `json:"nickname" gorm:"column:nickname;not null"`
	// Message is the sanitized donor message, at most 500 characters.
	Message string `json:"message" gorm:"column:message"`
	// Amount is the declared amount in integer major currency units.
	Amount int `json:"amount" gorm:"column:amount;not null"`
	// YoutubeURL is an optional clip the donor wants played on stream.
	YoutubeURL string `json:"youtube_url" gorm:"column:youtube_url"`
	// CreatedAt is the Unix timestamp of submission.
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;index"`
}

func (DonationIntent) TableName() string {
	return "donation_intents"
}

// DonationEvent is a bank-confirmed donation, matched to its originating
// intent. Append-only except for VideoStatus and Cleared.
type DonationEvent struct {
	ID int64 `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// Identifier + StreamerID form the dedup key: a unique index guarantees
	// that repeated webhook deliveries for the same intent cannot
	// double-credit, even across multiple instances.
	Identifier string `json:"identifier" gorm:"column:identifier;uniqueIndex:idx_events_streamer_identifier"`
	StreamerID string `json:"streamer_id" gorm:"column:streamer_id;uniqueIndex:idx_events_streamer_identifier;index"`
	Nickname   string `json:"nickname" gorm:"column:nickname"`
	Message    string `json:"message" gorm:"column:message"`
	// Amount is the bank-confirmed amount in major currency units.
	Amount float64 `json:"amount" gorm:"column:amount;not null"`
	// MonoComment is the raw bank comment, kept for audit.
	MonoComment string `json:"mono_comment" gorm:"column:mono_comment"`
	// JarTitle is a snapshot of the jar title at confirmation time.
	JarTitle   string `json:"jar_title" gorm:"column:jar_title"`
	YoutubeURL string `json:"youtube_url" gorm:"column:youtube_url"`
	// VideoStatus is set only for video-bearing donations.
	VideoStatus *VideoStatus `json:"video_status" gorm:"column:video_status;index"`
	// Cleared hides a finished clip from queue views without deleting it.
	Cleared   bool  `json:"cleared" gorm:"column:cleared;default:false"`
	CreatedAt int64 `json:"created_at" gorm:"column:created_at;index"`
}

func (DonationEvent) TableName() string {
	return "donation_events"
}

// HasVideo reports whether the donation carries a playable clip.
func (e *DonationEvent) HasVideo() bool {
	return e.YoutubeURL != ""
}

// String renders the TTS narration template for the event.
func (e *DonationEvent) String() string {
	return fmt.Sprintf("%s donated %.0f hryvnias. Message: %s", e.Nickname, e.Amount, e.Message)
}

// QueueStats is the derived view the queue manager recomputes on demand.
type QueueStats struct {
	Pending   int64          `json:"pending"`
	Playing   int64          `json:"playing"`
	Completed int64          `json:"completed"`
	Current   *DonationEvent `json:"current,omitempty"`
}
