package http_api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/donation"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/hub"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/queue"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/webhook"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/identifier"
)

// maxWebhookBody caps inbound webhook payloads; statement items are tiny.
const maxWebhookBody = 1 << 20

// WidgetStatusResponse is the widget bootstrap payload: the pause flag plus
// the playback knobs the overlay needs before the first event arrives.
type WidgetStatusResponse struct {
	Paused          bool   `json:"paused"`
	JarTitle        string `json:"jar_title"`
	JarGoal         int64  `json:"jar_goal"`
	Volume          int    `json:"volume"`
	ShowClipTitle   bool   `json:"show_clip_title"`
	ShowDonorName   bool   `json:"show_donor_name"`
	ShowImmediately bool   `json:"show_immediately"`
	MaxClipMinutes  int    `json:"max_clip_minutes"`
}

// TestDonationRequest is the JSON body for the synthetic donation trigger.
type TestDonationRequest struct {
	Nickname   string  `json:"nickname" binding:"required"`
	Amount     float64 `json:"amount" binding:"required,gt=0"`
	Message    string  `json:"message" binding:"required"`
	YoutubeURL string  `json:"youtube_url"`
}

// UpdateQueueStatusRequest moves one clip along its lifecycle.
type UpdateQueueStatusRequest struct {
	EventID int64              `json:"event_id" binding:"required"`
	Status  models.VideoStatus `json:"status" binding:"required"`
}

// createDonation is a handler for the /api/donation/create endpoint. The
// donation page calls it with query parameters and redirects the donor to the
// returned payment URL.
func (s *HTTPServer) createDonation(c *gin.Context) {
	req := donation.CreateRequest{
		StreamerSlug: c.Query("streamer"),
		Nickname:     c.Query("nickname"),
		Amount:       c.Query("amount"),
		Message:      c.Query("message"),
		YoutubeURL:   c.Query("youtube"),
	}
	if req.StreamerSlug == "" {
		req.StreamerSlug = slugFromReferer(c.GetHeader("Referer"))
	}

	result, err := s.deps.Donations.CreateIntent(req)
	if err != nil {
		var vErr *donation.ValidationError
		if errors.As(err, &vErr) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": vErr.Reason,
				"code":  vErr.Code,
			})
			return
		}
		s.logger.Error("Failed to create donation intent ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create donation"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// slugFromReferer recovers the streamer slug from the donation page URL when
// the query parameter is absent: the slug is the first path segment.
func slugFromReferer(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// handleWebhook is the per-streamer bank webhook endpoint. Everything after a
// successful parse is acknowledged with 200 so the provider never retries
// business non-events.
func (s *HTTPServer) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	ack, err := s.deps.Reconciler.Handle(
		c.Request.Context(),
		c.Param("webhookId"),
		body,
		c.GetHeader("X-Sign"),
	)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
			return
		}
		s.logger.Error("Webhook processing failed ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, ack)
}

// handleLegacyWebhook serves the unscoped endpoint kept for pre-multi-tenant
// installations. A shared secret header is its only gate.
func (s *HTTPServer) handleLegacyWebhook(c *gin.Context) {
	if s.deps.LegacySecret == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint disabled"})
		return
	}
	secret := c.GetHeader("X-Webhook-Secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.deps.LegacySecret)) != 1 {
		s.logger.Warn("Legacy webhook call with bad secret")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	ack, err := s.deps.Reconciler.HandleLegacy(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
			return
		}
		s.logger.Error("Legacy webhook processing failed ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, ack)
}

// streamEvents is the SSE endpoint the overlay widget connects to. A widget
// token scopes the stream to one streamer; without a token the stream is the
// unscoped single-tenant broadcast.
func (s *HTTPServer) streamEvents(c *gin.Context) {
	streamerID := ""
	if token := c.Query("token"); token != "" {
		streamer, err := s.deps.Repo.GetStreamerByWidgetToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid widget token"})
			return
		}
		streamerID = streamer.StreamerID
	} else if c.Query("streamer") != "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "widget token required"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	sub := s.deps.Hub.Subscribe(streamerID)
	defer s.deps.Hub.Unsubscribe(sub)

	// Flush an immediate ping so the client knows the stream is live.
	c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(hub.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent("donation", event)
			c.Writer.Flush()
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"time": time.Now().Unix()})
			c.Writer.Flush()
		}
	}
}

// widgetToken authenticates a kiosk request by its capability token and
// resolves the owning streamer. There are no sessions on widget endpoints.
func (s *HTTPServer) widgetToken(c *gin.Context) (*models.StreamerConfig, bool) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("X-Widget-Token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "widget token required"})
		return nil, false
	}

	streamer, err := s.deps.Repo.GetStreamerByWidgetToken(token)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("Failed to resolve widget token ", "error ", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid widget token"})
		return nil, false
	}
	return streamer, true
}

// widgetStatus is the widget bootstrap endpoint.
func (s *HTTPServer) widgetStatus(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, WidgetStatusResponse{
		Paused:          streamer.DonationsPaused,
		JarTitle:        streamer.JarTitle,
		JarGoal:         streamer.JarGoal,
		Volume:          streamer.Volume,
		ShowClipTitle:   streamer.ShowClipTitle,
		ShowDonorName:   streamer.ShowDonorName,
		ShowImmediately: streamer.ShowImmediately,
		MaxClipMinutes:  streamer.MaxClipDurationMinutes(),
	})
}

// listQueue returns the streamer's non-cleared clip queue, oldest first.
func (s *HTTPServer) listQueue(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	events, err := s.deps.Queue.List(streamer.StreamerID)
	if err != nil {
		s.logger.Error("Failed to list video queue ", "streamer ", streamer.StreamerID, " error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": events})
}

// queueStats returns the aggregate queue counters and the current clip.
func (s *HTTPServer) queueStats(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	stats, err := s.deps.Queue.Stats(streamer.StreamerID)
	if err != nil {
		s.logger.Error("Failed to compute queue stats ", "streamer ", streamer.StreamerID, " error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// updateQueueStatus moves one clip along the lifecycle path.
func (s *HTTPServer) updateQueueStatus(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	var req UpdateQueueStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	// The token only grants access to the owner's events.
	event, err := s.deps.Repo.GetEventByID(req.EventID)
	if err != nil || event.StreamerID != streamer.StreamerID {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}

	if err := s.deps.Queue.UpdateStatus(req.EventID, req.Status); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Failed to update video status ", "event ", req.EventID, " error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// advanceQueue completes the playing clip and promotes the next pending one.
func (s *HTTPServer) advanceQueue(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	next, err := s.deps.Queue.Advance(streamer.StreamerID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue is empty"})
			return
		}
		s.logger.Error("Failed to advance queue ", "streamer ", streamer.StreamerID, " error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to advance queue"})
		return
	}

	c.JSON(http.StatusOK, next)
}

// clearQueue hides finished clips from queue views, keeping the audit trail.
func (s *HTTPServer) clearQueue(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	cleared, err := s.deps.Queue.Clear(streamer.StreamerID)
	if err != nil {
		s.logger.Error("Failed to clear queue ", "streamer ", streamer.StreamerID, " error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// createTestDonation fabricates a donation event so the streamer can check
// widget placement without paying. Synthetic identifiers carry the TST prefix
// so they can be purged in one call.
func (s *HTTPServer) createTestDonation(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	var req TestDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	id := identifier.TestPrefix + "-" + strings.ToUpper(uuid.NewString()[:6])
	event := &models.DonationEvent{
		Identifier: id,
		StreamerID: streamer.StreamerID,
		Nickname:   req.Nickname,
		Message:    donation.SanitizeMessage(req.Message),
		Amount:     req.Amount,
		JarTitle:   streamer.JarTitle,
		CreatedAt:  time.Now().Unix(),
	}
	if videoID, ok := donation.ExtractVideoID(req.YoutubeURL); ok {
		event.YoutubeURL = "https://www.youtube.com/watch?v=" + videoID
		status := models.VideoStatusWaitingForTTS
		event.VideoStatus = &status
	}

	if err := s.deps.Repo.CreateEvent(event); err != nil {
		s.logger.Error("Failed to persist test donation ", "error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create test donation"})
		return
	}

	s.deps.Hub.Publish(event.StreamerID, event)
	c.JSON(http.StatusCreated, event)
}

// purgeTestDonations deletes every synthetic event for the streamer.
func (s *HTTPServer) purgeTestDonations(c *gin.Context) {
	streamer, ok := s.widgetToken(c)
	if !ok {
		return
	}

	purged, err := s.deps.Repo.PurgeTestEvents(streamer.StreamerID)
	if err != nil {
		s.logger.Error("Failed to purge test donations ", "streamer ", streamer.StreamerID, " error ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to purge test donations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"purged": purged})
}
