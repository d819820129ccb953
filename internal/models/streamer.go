package models

// StreamerConfig holds everything the reconciler and the widget endpoints
// need to route and gate events for one streamer. Created and updated by the
// settings flow, which lives outside this service.
type StreamerConfig struct {
	// StreamerID is the stable internal id of the streamer.
	StreamerID string `json:"streamer_id" gorm:"column:streamer_id;primaryKey"`
	// Slug is the public page path segment used to resolve the recipient of
	// a donation submission.
	Slug string `json:"slug" gorm:"column:slug;uniqueIndex;not null"`
	// JarID is the bank-side collection target that receives payments.
	JarID string `json:"jar_id" gorm:"column:jar_id"`
	// JarTitle is the display title of the jar.
	JarTitle string `json:"jar_title" gorm:"column:jar_title"`
	// JarGoal is the jar goal in major currency units, zero if unset.
	JarGoal int64 `json:"jar_goal" gorm:"column:jar_goal"`
	// APIToken is the provider personal API token, AES-GCM encrypted at rest.
	APIToken string `json:"-" gorm:"column:api_token"`
	// WebhookID is the opaque path segment of the per-streamer webhook
	// endpoint.
	WebhookID string `json:"webhook_id" gorm:"column:webhook_id;uniqueIndex"`
	// WebhookURL is the full URL registered with the provider.
	WebhookURL string `json:"webhook_url" gorm:"column:webhook_url"`
	// WebhookSecret gates the legacy unscoped endpoint.
	WebhookSecret string `json:"-" gorm:"column:webhook_secret"`
	// OBSWidgetToken is the sole access control for unauthenticated widget
	// endpoints. High-entropy capability token, never guessable.
	OBSWidgetToken string `json:"-" gorm:"column:obs_widget_token;uniqueIndex"`
	// DonationsPaused suppresses widget dequeuing without discarding queued
	// events.
	DonationsPaused bool `json:"donations_paused" gorm:"column:donations_paused;default:false"`

	// Widget playback knobs.
	MaxClipMinutes  int  `json:"max_clip_minutes" gorm:"column:max_clip_minutes;default:5"`
	Volume          int  `json:"volume" gorm:"column:volume;default:100"`
	ShowClipTitle   bool `json:"show_clip_title" gorm:"column:show_clip_title;default:true"`
	ShowDonorName   bool `json:"show_donor_name" gorm:"column:show_donor_name;default:true"`
	ShowImmediately bool `json:"show_immediately" gorm:"column:show_immediately;default:false"`

	// Clip qualification thresholds. Stored but not enforced anywhere in the
	// reconciliation or queue-advance path; see DESIGN.md.
	MinLikes    int `json:"min_likes" gorm:"column:min_likes;default:0"`
	MinViews    int `json:"min_views" gorm:"column:min_views;default:0"`
	MinComments int `json:"min_comments" gorm:"column:min_comments;default:0"`

	CreatedAt int64 `json:"created_at" gorm:"column:created_at"`
}

func (StreamerConfig) TableName() string {
	return "streamer_configs"
}

// MaxClipDurationMinutes clamps the configured cap to the accepted [1,30]
// range, defaulting to 5.
func (c *StreamerConfig) MaxClipDurationMinutes() int {
	if c.MaxClipMinutes < 1 || c.MaxClipMinutes > 30 {
		return 5
	}
	return c.MaxClipMinutes
}
