package models

import "context"

// Broadcaster delivers confirmed donation events to live overlay connections.
// Delivery is best-effort and at-most-once per connection; a disconnected
// client reconstructs its state via the polling status endpoint, not via
// replay.
type Broadcaster interface {
	Publish(streamerID string, event *DonationEvent)
}

// Synthesizer turns narration text into an audio byte-stream. The synthesis
// engine itself is an external collaborator.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// APIServer is the HTTP front of the service.
type APIServer interface {
	Start()
	Shutdown() error
}
