package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

const apiRequestTimeout = 10 * time.Second

// WidgetStatus is the server's widget bootstrap payload, the subset the
// runtime acts on.
type WidgetStatus struct {
	Paused          bool `json:"paused"`
	Volume          int  `json:"volume"`
	ShowImmediately bool `json:"show_immediately"`
	MaxClipMinutes  int  `json:"max_clip_minutes"`
}

// APIClient drives the server's widget endpoints with a capability token. It
// satisfies QueueController; the streamer argument is implied by the token
// and ignored.
type APIClient struct {
	logger *logger.Logger

	baseURL string
	token   string
	client  *http.Client
}

func NewAPIClient(baseURL, token string, logger *logger.Logger) *APIClient {
	return &APIClient{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: apiRequestTimeout},
	}
}

// StreamURL returns the token-scoped donation stream endpoint.
func (c *APIClient) StreamURL() string {
	return fmt.Sprintf("%s/api/stream?token=%s", c.baseURL, url.QueryEscape(c.token))
}

// Status fetches the widget bootstrap payload.
func (c *APIClient) Status(ctx context.Context) (*WidgetStatus, error) {
	var status WidgetStatus
	if err := c.do(ctx, http.MethodGet, "/api/widget/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Paused reads the server-side pause flag.
func (c *APIClient) Paused(ctx context.Context) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Paused, nil
}

func (c *APIClient) MarkTTSDone(eventID int64) error {
	return c.UpdateStatus(eventID, models.VideoStatusPending)
}

func (c *APIClient) UpdateStatus(eventID int64, to models.VideoStatus) error {
	body := map[string]interface{}{"event_id": eventID, "status": to}
	ctx, cancel := context.WithTimeout(context.Background(), apiRequestTimeout)
	defer cancel()
	return c.do(ctx, http.MethodPost, "/api/queue/status", body, nil)
}

func (c *APIClient) Advance(string) (*models.DonationEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), apiRequestTimeout)
	defer cancel()

	var next models.DonationEvent
	if err := c.do(ctx, http.MethodPatch, "/api/queue/next", nil, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	target := c.baseURL + path + "?token=" + url.QueryEscape(c.token)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %s", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %s", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %s", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, payload)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %s", path, err)
		}
	}
	return nil
}
