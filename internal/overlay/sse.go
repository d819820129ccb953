package overlay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// ReconnectDelay is the fixed backoff between stream reconnection attempts.
// Retries are unbounded; an overlay left open overnight must come back on
// its own.
const ReconnectDelay = 3 * time.Second

// StreamClient consumes the server's donation event stream and forwards
// decoded events to Events. Heartbeat frames are consumed and dropped.
type StreamClient struct {
	logger *logger.Logger

	streamURL string
	client    *http.Client

	Events chan *models.DonationEvent
}

func NewStreamClient(streamURL string, logger *logger.Logger) *StreamClient {
	return &StreamClient{
		logger:    logger,
		streamURL: streamURL,
		// No overall timeout: the stream connection is long-lived.
		client: &http.Client{},
		Events: make(chan *models.DonationEvent, 32),
	}
}

// Run connects and keeps reconnecting until the context is cancelled.
func (c *StreamClient) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("Donation stream disconnected ", "error ", err)
		}
		select {
		case <-ctx.Done():
			close(c.Events)
			return
		case <-time.After(ReconnectDelay):
		}
	}
}

func (c *StreamClient) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected stream status code %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			c.dispatch(eventName, data)
		case line == "":
			eventName = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read error: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}

func (c *StreamClient) dispatch(eventName, data string) {
	if eventName != "donation" {
		return
	}
	var event models.DonationEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		c.logger.Error("Failed to decode donation event ", "error ", err)
		return
	}
	select {
	case c.Events <- &event:
	default:
		c.logger.Warn("Dropping donation event, local queue is full ", "identifier ", event.Identifier)
	}
}
