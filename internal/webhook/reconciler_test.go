package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/repository"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// mockHub records published events.
type mockHub struct {
	mu     sync.Mutex
	events []*models.DonationEvent
}

func (m *mockHub) Publish(streamerID string, event *models.DonationEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockHub) published() []*models.DonationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.DonationEvent(nil), m.events...)
}

// mockVerifier implements Verifier with a function field.
type mockVerifier struct {
	VerifyFunc func(ctx context.Context, body []byte, signature, apiToken string) (bool, error)
}

func (m *mockVerifier) Verify(ctx context.Context, body []byte, signature, apiToken string) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, body, signature, apiToken)
	}
	return true, nil
}

func statementBody(t *testing.T, amount int64, comment string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"type": "StatementItem",
		"data": map[string]any{
			"account": "acc-1",
			"statementItem": map[string]any{
				"id":      "stmt-1",
				"time":    1700000000,
				"amount":  amount,
				"comment": comment,
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func newTestReconciler(t *testing.T) (*Reconciler, *repository.MemoryDB, *mockHub) {
	t.Helper()
	db := repository.NewMemoryDB()
	if err := db.SaveStreamer(&models.StreamerConfig{
		StreamerID: "str-1",
		Slug:       "ann-streams",
		JarID:      "jar123",
		JarTitle:   "Ann's jar",
		WebhookID:  "wh-1",
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateIntent(&models.DonationIntent{
		Identifier: "ABC-123456",
		StreamerID: "str-1",
		Nickname:   "Ann",
		Message:    "Go team!",
		Amount:     100,
		CreatedAt:  1,
	}); err != nil {
		t.Fatal(err)
	}
	h := &mockHub{}
	return NewReconciler(db, h, &mockVerifier{}, logger.NewNop()), db, h
}

func TestHandleConfirmsDonation(t *testing.T) {
	r, db, h := newTestReconciler(t)

	ack, err := r.Handle(context.Background(), "wh-1", statementBody(t, 10000, "thanks (ABC-123456)"), "sig")
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if ack.Status != "processed" {
		t.Fatalf("ack = %+v, want processed", ack)
	}

	events, _ := db.GetEvents("str-1")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.Amount != 100.00 {
		t.Fatalf("amount = %v, want 100.00 major units", e.Amount)
	}
	if e.Nickname != "Ann" || e.Message != "Go team!" {
		t.Fatalf("event %+v did not carry over intent fields", e)
	}
	if e.JarTitle != "Ann's jar" {
		t.Fatalf("jar title snapshot missing, got %q", e.JarTitle)
	}
	if e.MonoComment != "thanks (ABC-123456)" {
		t.Fatalf("raw comment not kept: %q", e.MonoComment)
	}

	published := h.published()
	if len(published) != 1 || published[0].Identifier != "ABC-123456" {
		t.Fatalf("hub publish = %+v, want the confirmed event", published)
	}
}

func TestHandleCaseInsensitiveIdentifier(t *testing.T) {
	r, db, _ := newTestReconciler(t)

	ack, err := r.Handle(context.Background(), "wh-1", statementBody(t, 5000, "ok (abc-123456)"), "")
	if err != nil || ack.Status != "processed" {
		t.Fatalf("ack = %+v, err = %v", ack, err)
	}
	events, _ := db.GetEvents("str-1")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestHandleAckIgnoreTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		webhookID  string
		body       func(t *testing.T) []byte
		wantReason string
	}{
		{
			"unknown webhook id",
			"wh-unknown",
			func(t *testing.T) []byte { return statementBody(t, 10000, "thanks (ABC-123456)") },
			"Unknown webhook id",
		},
		{
			"wrong type",
			"wh-1",
			func(t *testing.T) []byte { return []byte(`{"type":"BalanceUpdate","data":{}}`) },
			"Unsupported event type",
		},
		{
			"non-positive amount",
			"wh-1",
			func(t *testing.T) []byte { return statementBody(t, -500, "thanks (ABC-123456)") },
			"Non-positive amount",
		},
		{
			"no identifier",
			"wh-1",
			func(t *testing.T) []byte { return statementBody(t, 10000, "thanks for the stream") },
			"No identifier",
		},
		{
			"unmatched identifier",
			"wh-1",
			func(t *testing.T) []byte { return statementBody(t, 10000, "thanks (ZZZ-999999)") },
			"No matching intent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, db, h := newTestReconciler(t)
			ack, err := r.Handle(context.Background(), tt.webhookID, tt.body(t), "")
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if ack.Status != "ignored" || ack.Reason != tt.wantReason {
				t.Fatalf("ack = %+v, want ignored %q", ack, tt.wantReason)
			}
			if events, _ := db.GetEvents("str-1"); len(events) != 0 {
				t.Fatalf("%d events created for a non-event", len(events))
			}
			if len(h.published()) != 0 {
				t.Fatal("hub invoked for a non-event")
			}
		})
	}
}

func TestHandleMalformedJSON(t *testing.T) {
	r, db, _ := newTestReconciler(t)

	_, err := r.Handle(context.Background(), "wh-1", []byte("{not json"), "")
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
	if events, _ := db.GetEvents("str-1"); len(events) != 0 {
		t.Fatal("event created from malformed body")
	}
}

func TestHandleIdempotent(t *testing.T) {
	r, db, h := newTestReconciler(t)
	body := statementBody(t, 10000, "thanks (ABC-123456)")

	first, err := r.Handle(context.Background(), "wh-1", body, "")
	if err != nil || first.Status != "processed" {
		t.Fatalf("first delivery: %+v, %v", first, err)
	}

	second, err := r.Handle(context.Background(), "wh-1", body, "")
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Status != "ignored" || second.Reason != "Duplicate delivery" {
		t.Fatalf("second delivery ack = %+v, want duplicate rejection", second)
	}

	events, _ := db.GetEvents("str-1")
	if len(events) != 1 {
		t.Fatalf("duplicate delivery produced %d events, want 1", len(events))
	}
	if len(h.published()) != 1 {
		t.Fatal("duplicate delivery reached the hub")
	}
}

func TestHandleVideoDonationStartsWaitingForTTS(t *testing.T) {
	r, db, _ := newTestReconciler(t)
	if err := db.CreateIntent(&models.DonationIntent{
		Identifier: "VID-123456",
		StreamerID: "str-1",
		Nickname:   "Bob",
		Message:    "play this",
		Amount:     50,
		YoutubeURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		CreatedAt:  2,
	}); err != nil {
		t.Fatal(err)
	}

	ack, err := r.Handle(context.Background(), "wh-1", statementBody(t, 5000, "(VID-123456)"), "")
	if err != nil || ack.Status != "processed" {
		t.Fatalf("ack = %+v, err = %v", ack, err)
	}

	events, _ := db.GetEvents("str-1")
	e := events[0]
	if e.VideoStatus == nil || *e.VideoStatus != models.VideoStatusWaitingForTTS {
		t.Fatalf("video status = %v, want waiting_for_tts", e.VideoStatus)
	}
}

func TestHandleSignatureFailureDoesNotBlock(t *testing.T) {
	db := repository.NewMemoryDB()
	if err := db.SaveStreamer(&models.StreamerConfig{
		StreamerID: "str-1", Slug: "s", WebhookID: "wh-1", JarID: "jar", APIToken: "token",
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateIntent(&models.DonationIntent{
		Identifier: "ABC-123456", StreamerID: "str-1", Nickname: "Ann", Amount: 100, Message: "hi",
	}); err != nil {
		t.Fatal(err)
	}

	verifier := &mockVerifier{
		VerifyFunc: func(ctx context.Context, body []byte, signature, apiToken string) (bool, error) {
			return false, fmt.Errorf("provider unreachable")
		},
	}
	r := NewReconciler(db, &mockHub{}, verifier, logger.NewNop())

	ack, err := r.Handle(context.Background(), "wh-1", statementBody(t, 10000, "(ABC-123456)"), "bad-sig")
	if err != nil || ack.Status != "processed" {
		t.Fatalf("verification failure blocked processing: ack = %+v, err = %v", ack, err)
	}
}

func TestHandleLegacyUnscoped(t *testing.T) {
	r, db, h := newTestReconciler(t)

	ack, err := r.HandleLegacy(context.Background(), statementBody(t, 2500, "gg (ABC-123456)"))
	if err != nil || ack.Status != "processed" {
		t.Fatalf("ack = %+v, err = %v", ack, err)
	}

	events, _ := db.GetEvents("str-1")
	if len(events) != 1 || events[0].Amount != 25.00 {
		t.Fatalf("legacy delivery events = %+v", events)
	}
	if len(h.published()) != 1 {
		t.Fatal("legacy delivery did not reach the hub")
	}
}

func TestHandleDescriptionFallback(t *testing.T) {
	r, db, _ := newTestReconciler(t)

	body, _ := json.Marshal(map[string]any{
		"type": "StatementItem",
		"data": map[string]any{
			"statementItem": map[string]any{
				"id":          "stmt-2",
				"amount":      10000,
				"description": "Від: Ann (ABC-123456)",
			},
		},
	})
	ack, err := r.Handle(context.Background(), "wh-1", body, "")
	if err != nil || ack.Status != "processed" {
		t.Fatalf("ack = %+v, err = %v", ack, err)
	}
	if events, _ := db.GetEvents("str-1"); len(events) != 1 {
		t.Fatal("description fallback did not match")
	}
}
