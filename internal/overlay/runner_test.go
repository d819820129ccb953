package overlay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/queue"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/repository"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// eventLog records mock activity in call order across goroutines.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *eventLog) waitFor(t *testing.T, entry string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range l.snapshot() {
			if e == entry {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q; log: %v", entry, l.snapshot())
}

type logDisplay struct {
	log *eventLog
}

func (d *logDisplay) Show(event *models.DonationEvent, visible time.Duration) {
	d.log.add("show " + event.Identifier)
}

func (d *logDisplay) Hide() {
	d.log.add("hide")
}

type logVideoPlayer struct {
	log *eventLog
	err error
}

func (p *logVideoPlayer) Play(ctx context.Context, videoURL string) error {
	p.log.add("video " + videoURL)
	return p.err
}

type logAudioPlayer struct {
	log *eventLog
	err error
}

func (p *logAudioPlayer) Play(ctx context.Context, audio []byte) error {
	p.log.add("audio")
	return p.err
}

type funcSynthesizer func(ctx context.Context, text, voice string) ([]byte, error)

func (f funcSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	return f(ctx, text, voice)
}

func fastConfig(log *eventLog) Config {
	return Config{
		StreamerID: "streamer-1",
		Synthesizer: funcSynthesizer(func(ctx context.Context, text, voice string) ([]byte, error) {
			return []byte("fake-audio"), nil
		}),
		Audio:   &logAudioPlayer{log: log},
		Display: &logDisplay{log: log},
		Video:   &logVideoPlayer{log: log},

		SynthesisTimeout:  50 * time.Millisecond,
		DisplayBuffer:     time.Millisecond,
		Cooldown:          time.Millisecond,
		PausePollInterval: 5 * time.Millisecond,
		MaxClipDuration:   time.Second,
		Estimator: func(text string) time.Duration {
			return 5 * time.Millisecond
		},
	}
}

func donationEvent(id, ytURL string) *models.DonationEvent {
	e := &models.DonationEvent{
		Identifier: id,
		StreamerID: "streamer-1",
		Nickname:   "Alice",
		Amount:     100,
		Message:    "hello",
		YoutubeURL: ytURL,
	}
	if ytURL != "" {
		status := models.VideoStatusWaitingForTTS
		e.VideoStatus = &status
	}
	return e
}

func startRunner(t *testing.T, cfg Config) (*Runner, context.CancelFunc) {
	t.Helper()
	r := NewRunner(cfg, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	t.Cleanup(func() {
		cancel()
		r.Wait()
	})
	return r, cancel
}

func TestRunnerAnnouncesDonation(t *testing.T) {
	log := &eventLog{}
	r, _ := startRunner(t, fastConfig(log))

	r.Enqueue(donationEvent("AAA-000001", ""))

	log.waitFor(t, "hide")
	entries := log.snapshot()
	want := []string{"show AAA-000001", "audio", "hide"}
	if strings.Join(entries, ",") != strings.Join(want, ",") {
		t.Fatalf("call order = %v, want %v", entries, want)
	}
}

func TestRunnerShowsNotificationWhenAudioFails(t *testing.T) {
	log := &eventLog{}
	cfg := fastConfig(log)
	cfg.Audio = &logAudioPlayer{log: log, err: errors.New("device busy")}
	r, _ := startRunner(t, cfg)

	r.Enqueue(donationEvent("AAA-000001", ""))

	log.waitFor(t, "hide")
}

func TestRunnerShowsNotificationWhenSynthesisStalls(t *testing.T) {
	log := &eventLog{}
	cfg := fastConfig(log)
	cfg.Synthesizer = funcSynthesizer(func(ctx context.Context, text, voice string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg.SynthesisTimeout = 10 * time.Millisecond
	r, _ := startRunner(t, cfg)

	r.Enqueue(donationEvent("AAA-000001", ""))

	log.waitFor(t, "hide")
	for _, e := range log.snapshot() {
		if e == "audio" {
			t.Fatal("audio must not play when synthesis timed out")
		}
	}
}

func TestRunnerSequencesVideoAfterNotification(t *testing.T) {
	log := &eventLog{}
	db := repository.NewMemoryDB()
	cfg := fastConfig(log)
	cfg.Queue = queue.NewManager(db, logger.NewNop())

	first := donationEvent("AAA-000001", "https://www.youtube.com/watch?v=aaaaaaaaaaa")
	second := donationEvent("AAA-000002", "https://www.youtube.com/watch?v=bbbbbbbbbbb")
	if err := db.CreateEvent(first); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateEvent(second); err != nil {
		t.Fatal(err)
	}

	r, _ := startRunner(t, cfg)
	r.Enqueue(first)
	r.Enqueue(second)

	log.waitFor(t, "video https://www.youtube.com/watch?v=bbbbbbbbbbb")

	entries := log.snapshot()
	index := func(entry string) int {
		for i, e := range entries {
			if e == entry {
				return i
			}
		}
		t.Fatalf("missing %q in log %v", entry, entries)
		return -1
	}

	// Each notification completes before its clip starts, and the second
	// donation does not begin until the first clip's full cycle is done.
	if index("show AAA-000001") > index("video https://www.youtube.com/watch?v=aaaaaaaaaaa") {
		t.Fatalf("first clip played before its notification: %v", entries)
	}
	if index("video https://www.youtube.com/watch?v=aaaaaaaaaaa") > index("show AAA-000002") {
		t.Fatalf("second notification started before first clip: %v", entries)
	}
	if index("show AAA-000002") > index("video https://www.youtube.com/watch?v=bbbbbbbbbbb") {
		t.Fatalf("second clip played before its notification: %v", entries)
	}

	stored, err := db.GetEventByID(first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.VideoStatus == nil || *stored.VideoStatus != models.VideoStatusCompleted {
		t.Fatalf("first clip status = %v, want completed", stored.VideoStatus)
	}
}

func TestRunnerCompletesClipOnPlaybackError(t *testing.T) {
	log := &eventLog{}
	db := repository.NewMemoryDB()
	cfg := fastConfig(log)
	cfg.Queue = queue.NewManager(db, logger.NewNop())
	cfg.Video = &logVideoPlayer{log: log, err: errors.New("embed blocked")}

	event := donationEvent("AAA-000001", "https://www.youtube.com/watch?v=aaaaaaaaaaa")
	if err := db.CreateEvent(event); err != nil {
		t.Fatal(err)
	}

	r, _ := startRunner(t, cfg)
	r.Enqueue(event)

	log.waitFor(t, "video https://www.youtube.com/watch?v=aaaaaaaaaaa")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := db.GetEventByID(event.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.VideoStatus != nil && *stored.VideoStatus == models.VideoStatusCompleted {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("clip never reached completed after playback error")
}

func TestRunnerPauseHoldsQueue(t *testing.T) {
	log := &eventLog{}
	cfg := fastConfig(log)

	var mu sync.Mutex
	paused := true
	cfg.PausedFunc = func(ctx context.Context) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return paused, nil
	}

	r, _ := startRunner(t, cfg)

	// Let the poller observe the paused flag before enqueuing.
	time.Sleep(20 * time.Millisecond)
	r.Enqueue(donationEvent("AAA-000001", ""))

	time.Sleep(30 * time.Millisecond)
	if entries := log.snapshot(); len(entries) != 0 {
		t.Fatalf("paused runner displayed something: %v", entries)
	}
	if r.QueueLen() != 1 {
		t.Fatalf("queue length = %d, want 1 while paused", r.QueueLen())
	}

	mu.Lock()
	paused = false
	mu.Unlock()

	log.waitFor(t, "show AAA-000001")
}

func TestRunnerShowImmediatelyPlaysClipConcurrently(t *testing.T) {
	log := &eventLog{}
	db := repository.NewMemoryDB()
	cfg := fastConfig(log)
	cfg.Queue = queue.NewManager(db, logger.NewNop())
	cfg.ShowImmediately = true

	event := donationEvent("AAA-000001", "https://www.youtube.com/watch?v=aaaaaaaaaaa")
	if err := db.CreateEvent(event); err != nil {
		t.Fatal(err)
	}

	r, _ := startRunner(t, cfg)
	r.Enqueue(event)

	log.waitFor(t, "video https://www.youtube.com/watch?v=aaaaaaaaaaa")
	log.waitFor(t, "hide")
}

func TestRunnerEnqueueAfterShutdownIsNoop(t *testing.T) {
	log := &eventLog{}
	r, cancel := startRunner(t, fastConfig(log))

	cancel()
	r.Wait()

	r.Enqueue(donationEvent("AAA-000001", ""))
	if r.QueueLen() != 0 {
		t.Fatalf("queue accepted event after shutdown, len = %d", r.QueueLen())
	}
}
