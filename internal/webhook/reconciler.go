// Package webhook reconciles inbound bank statement events with donation
// intents and promotes matches to confirmed donation events.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/identifier"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// ErrMalformedPayload is the one reconciliation failure that maps to a
// non-200 response, so the provider retries only deliveries we never parsed.
var ErrMalformedPayload = errors.New("malformed webhook payload")

const statementItemType = "StatementItem"

// Envelope is the provider-defined webhook body.
type Envelope struct {
	Type string `json:"type"`
	Data struct {
		Account       string        `json:"account"`
		StatementItem StatementItem `json:"statementItem"`
	} `json:"data"`
}

// StatementItem is one bank statement entry. Amount is in minor currency
// units.
type StatementItem struct {
	ID          string `json:"id"`
	Time        int64  `json:"time"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
	Comment     string `json:"comment"`
}

// Ack is the body returned to the provider. Business non-events are
// acknowledged as ignored with a reason; only processed deliveries created an
// event.
type Ack struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func processed() Ack           { return Ack{Status: "processed"} }
func ignored(reason string) Ack { return Ack{Status: "ignored", Reason: reason} }

// Verifier checks webhook authenticity. Verification is advisory: a failed
// or unavailable check is logged but never blocks processing.
type Verifier interface {
	Verify(ctx context.Context, body []byte, signature, apiToken string) (bool, error)
}

// Reconciler drives each inbound delivery through
// received -> parsed -> (ignored | verified-and-processed | rejected).
type Reconciler struct {
	logger   *logger.Logger
	repo     models.Repository
	hub      models.Broadcaster
	verifier Verifier
}

func NewReconciler(repo models.Repository, hub models.Broadcaster, verifier Verifier, logger *logger.Logger) *Reconciler {
	return &Reconciler{
		repo:     repo,
		hub:      hub,
		verifier: verifier,
		logger:   logger,
	}
}

// Handle processes a per-streamer webhook delivery. The returned error is
// non-nil only for a malformed body; every other outcome is a success ack so
// the provider's retry policy stays quiet.
func (r *Reconciler) Handle(ctx context.Context, webhookID string, body []byte, signature string) (Ack, error) {
	streamer, err := r.repo.GetStreamerByWebhookID(webhookID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Never an error: the provider must not retry a well-formed
			// call to a webhook id we no longer know.
			return ignored("Unknown webhook id"), nil
		}
		r.logger.Error("Failed to resolve webhook id ", "webhook_id ", webhookID, " error ", err)
		return ignored("Unknown webhook id"), nil
	}

	r.verifySignature(ctx, body, signature, streamer)

	return r.reconcile(ctx, body, streamer, false)
}

// HandleLegacy processes the unscoped legacy endpoint. The shared-secret
// gate happens in the HTTP layer; matching here is by identifier alone,
// first match wins.
func (r *Reconciler) HandleLegacy(ctx context.Context, body []byte) (Ack, error) {
	return r.reconcile(ctx, body, nil, true)
}

func (r *Reconciler) reconcile(ctx context.Context, body []byte, streamer *models.StreamerConfig, legacy bool) (Ack, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		r.logger.Debug("Malformed webhook body ", "error ", err)
		return Ack{}, ErrMalformedPayload
	}

	if envelope.Type != statementItemType {
		return ignored("Unsupported event type"), nil
	}

	item := envelope.Data.StatementItem
	if item.Amount <= 0 {
		return ignored("Non-positive amount"), nil
	}
	amount := float64(item.Amount) / 100

	comment := item.Comment
	if comment == "" {
		comment = item.Description
	}
	id, ok := identifier.Extract(comment)
	if !ok {
		return ignored("No identifier"), nil
	}

	var intent *models.DonationIntent
	var err error
	if legacy {
		intent, err = r.repo.FindIntentByIdentifier(id)
	} else {
		intent, err = r.repo.GetIntent(id, streamer.StreamerID)
	}
	if err != nil {
		// Unknown identifier, wrong streamer and already-consumed intents
		// are intentionally indistinguishable to the caller.
		if errors.Is(err, models.ErrNotFound) {
			return ignored("No matching intent"), nil
		}
		r.logger.Error("Failed to look up intent ", "identifier ", id, " error ", err)
		return ignored("No matching intent"), nil
	}

	if legacy {
		streamer, err = r.repo.GetStreamerByID(intent.StreamerID)
		if err != nil {
			r.logger.Error("Failed to resolve streamer for legacy delivery ", "streamer ", intent.StreamerID, " error ", err)
			return ignored("No matching intent"), nil
		}
	}

	event := &models.DonationEvent{
		Identifier:  intent.Identifier,
		StreamerID:  intent.StreamerID,
		Nickname:    intent.Nickname,
		Message:     intent.Message,
		Amount:      amount,
		MonoComment: comment,
		JarTitle:    streamer.JarTitle,
		YoutubeURL:  intent.YoutubeURL,
		CreatedAt:   time.Now().Unix(),
	}
	if event.HasVideo() {
		status := models.VideoStatusWaitingForTTS
		event.VideoStatus = &status
	}

	if err := r.repo.CreateEvent(event); err != nil {
		if errors.Is(err, models.ErrDuplicateEvent) {
			return ignored("Duplicate delivery"), nil
		}
		// Acked as success regardless, to avoid provider retry storms. The
		// event is lost; the operational log is the only trace.
		r.logger.Error("Failed to persist donation event ", "identifier ", id, " streamer ", intent.StreamerID, " error ", err)
		return ignored("Persistence failure"), nil
	}

	r.hub.Publish(event.StreamerID, event)
	r.logger.Info("Donation confirmed ", "identifier ", id, " streamer ", event.StreamerID, " amount ", amount)
	return processed(), nil
}

func (r *Reconciler) verifySignature(ctx context.Context, body []byte, signature string, streamer *models.StreamerConfig) {
	if r.verifier == nil || streamer.APIToken == "" {
		return
	}
	ok, err := r.verifier.Verify(ctx, body, signature, streamer.APIToken)
	if err != nil {
		r.logger.Warn("Webhook signature verification unavailable ", "streamer ", streamer.StreamerID, " error ", err)
		return
	}
	if !ok {
		// Advisory only. A stricter deployment would reject here.
		r.logger.Warn("Webhook signature mismatch ", "streamer ", streamer.StreamerID)
	}
}
