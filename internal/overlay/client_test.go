package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

func TestAPIClientPromotesClip(t *testing.T) {
	var got struct {
		EventID int64              `json:"event_id"`
		Status  models.VideoStatus `json:"status"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/queue/status" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		if r.URL.Query().Get("token") != "tok" {
			t.Errorf("token = %q", r.URL.Query().Get("token"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true}`)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "tok", logger.NewNop())
	if err := client.MarkTTSDone(7); err != nil {
		t.Fatal(err)
	}
	if got.EventID != 7 || got.Status != models.VideoStatusPending {
		t.Fatalf("request body = %+v", got)
	}
}

func TestAPIClientAdvanceEmptyQueue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"queue is empty"}`)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "tok", logger.NewNop())
	if _, err := client.Advance(""); err != models.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAPIClientPaused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"paused":true,"volume":80,"show_immediately":false,"max_clip_minutes":5}`)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, "tok", logger.NewNop())
	paused, err := client.Paused(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !paused {
		t.Fatal("paused = false, want true")
	}
}

func TestStreamClientDecodesDonations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, "event:ping\ndata:{\"time\":1}\n\n")
		flusher.Flush()

		event, _ := json.Marshal(&models.DonationEvent{
			Identifier: "AAA-BBBBBB",
			Nickname:   "Bob",
			Amount:     100,
		})
		fmt.Fprintf(w, "event:donation\ndata:%s\n\n", event)
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewStreamClient(server.URL, logger.NewNop())
	go client.Run(ctx)

	select {
	case event := <-client.Events:
		if event.Identifier != "AAA-BBBBBB" || event.Nickname != "Bob" {
			t.Fatalf("event = %+v", event)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no donation event received")
	}
}
