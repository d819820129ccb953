package donation

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/repository"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/identifier"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *repository.MemoryDB) {
	t.Helper()
	db := repository.NewMemoryDB()
	if err := db.SaveStreamer(&models.StreamerConfig{
		StreamerID: "str-1",
		Slug:       "ann-streams",
		JarID:      "jar123",
		JarTitle:   "Ann's jar",
	}); err != nil {
		t.Fatalf("SaveStreamer: %v", err)
	}
	if err := db.SaveStreamer(&models.StreamerConfig{
		StreamerID: "str-2",
		Slug:       "no-jar",
	}); err != nil {
		t.Fatalf("SaveStreamer: %v", err)
	}
	return NewService(db, "https://send.monobank.ua", logger.NewNop()), db
}

func validationCode(t *testing.T, err error) string {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	return verr.Code
}

func TestCreateIntentSuccess(t *testing.T) {
	svc, db := newTestService(t)

	res, err := svc.CreateIntent(CreateRequest{
		StreamerSlug: "ann-streams",
		Nickname:     "Ann",
		Amount:       "100",
		Message:      "Go team!",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}

	format := regexp.MustCompile(`^[A-Z0-9]{3}-[A-Z0-9]{6}$`)
	if !format.MatchString(res.Identifier) {
		t.Fatalf("identifier %q has wrong format", res.Identifier)
	}
	if !strings.Contains(res.URL, "a=100") {
		t.Fatalf("payment URL %q missing amount parameter", res.URL)
	}
	if !strings.Contains(res.URL, "/jar/jar123") {
		t.Fatalf("payment URL %q missing jar id", res.URL)
	}

	intent, err := db.GetIntent(res.Identifier, "str-1")
	if err != nil {
		t.Fatalf("intent not persisted: %v", err)
	}
	if intent.Nickname != "Ann" || intent.Amount != 100 || intent.Message != "Go team!" {
		t.Fatalf("persisted intent %+v does not match submission", intent)
	}
}

func TestCreateIntentValidation(t *testing.T) {
	svc, _ := newTestService(t)

	base := CreateRequest{
		StreamerSlug: "ann-streams",
		Nickname:     "Ann",
		Amount:       "100",
		Message:      "hi there",
	}

	tests := []struct {
		name     string
		mutate   func(*CreateRequest)
		wantCode string
	}{
		{"missing nickname", func(r *CreateRequest) { r.Nickname = "   " }, "nickname_required"},
		{"long nickname", func(r *CreateRequest) { r.Nickname = strings.Repeat("x", 31) }, "nickname_too_long"},
		{"missing message", func(r *CreateRequest) { r.Message = "\t\n" }, "message_required"},
		{"missing amount", func(r *CreateRequest) { r.Amount = "" }, "amount_required"},
		{"non-numeric amount", func(r *CreateRequest) { r.Amount = "lots" }, "invalid_amount"},
		{"amount below minimum", func(r *CreateRequest) { r.Amount = "5" }, "amount_out_of_range"},
		{"amount above maximum", func(r *CreateRequest) { r.Amount = "30000" }, "amount_out_of_range"},
		{"bad youtube url", func(r *CreateRequest) { r.YoutubeURL = "https://vimeo.com/12345" }, "invalid_youtube_url"},
		{"unknown streamer", func(r *CreateRequest) { r.StreamerSlug = "nobody" }, "recipient_not_found"},
		{"jar not configured", func(r *CreateRequest) { r.StreamerSlug = "no-jar" }, "jar_not_configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := svc.CreateIntent(req)
			if got := validationCode(t, err); got != tt.wantCode {
				t.Fatalf("got code %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestCreateIntentRoundsAmount(t *testing.T) {
	svc, db := newTestService(t)
	res, err := svc.CreateIntent(CreateRequest{
		StreamerSlug: "ann-streams",
		Nickname:     "Ann",
		Amount:       "99.6",
		Message:      "round me",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	intent, _ := db.GetIntent(res.Identifier, "str-1")
	if intent.Amount != 100 {
		t.Fatalf("amount = %d, want 100", intent.Amount)
	}
}

func TestCreateIntentWithYoutube(t *testing.T) {
	svc, db := newTestService(t)
	res, err := svc.CreateIntent(CreateRequest{
		StreamerSlug: "ann-streams",
		Nickname:     "Ann",
		Amount:       "50",
		Message:      "play this",
		YoutubeURL:   "https://youtu.be/dQw4w9WgXcQ",
	})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	intent, _ := db.GetIntent(res.Identifier, "str-1")
	if intent.YoutubeURL != "https://www.youtube.com/watch?v=dQw4w9WgXcQ" {
		t.Fatalf("youtube URL = %q", intent.YoutubeURL)
	}
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"control chars stripped", "he\x00l\x1blo\r\n", "hello"},
		{"trimmed", "  hi  ", "hi"},
		{"truncated", strings.Repeat("a", 600), strings.Repeat("a", 500)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeMessage(tt.in); got != tt.want {
				t.Fatalf("SanitizeMessage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeMessageIdempotent(t *testing.T) {
	inputs := []string{"hello", "  spaced  ", "ctrl\x07chars", strings.Repeat("яб", 400)}
	for _, in := range inputs {
		once := SanitizeMessage(in)
		if twice := SanitizeMessage(once); twice != once {
			t.Fatalf("sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?list=PL1&v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "", false},
		{"https://notyoutube.com/watch?v=dQw4w9WgXcQ", "", false},
		{"https://fakeyoutu.be/dQw4w9WgXcQ", "", false},
		{"https://evil.com/https://youtube.com#/watch?v=dQw4w9WgXcQ", "", false},
		{"not a url", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractVideoID(tt.url)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ExtractVideoID(%q) = %q, %v; want %q, %v", tt.url, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBuildPaymentURLRoundTrip(t *testing.T) {
	id := identifier.Generate()
	u := BuildPaymentURL("https://send.monobank.ua", "jar123", 100, "Go team!", id)

	// The comment embedded in the URL must parse back to the identifier.
	comment := "Go team! (" + id + ")"
	got, ok := identifier.Extract(comment)
	if !ok || got != id {
		t.Fatalf("comment %q did not round-trip: got %q, %v", comment, got, ok)
	}
	if !strings.Contains(u, "a=100") {
		t.Fatalf("URL %q missing amount", u)
	}
}
