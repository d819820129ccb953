// Package overlay implements the widget-side runtime: it consumes the
// donation stream, narrates each donation, drives the on-screen notification
// timing and plays queued YouTube clips.
package overlay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// State of the notification loop. One item is active at a time.
type State string

const (
	StateIdle       State = "idle"
	StateAnnouncing State = "announcing"
	StateCooldown   State = "cooldown"
)

const (
	// DefaultSynthesisTimeout bounds perceived latency: the notification is
	// shown once audio is ready to play or after this timeout, whichever
	// comes first.
	DefaultSynthesisTimeout = 3 * time.Second
	// DefaultDisplayBuffer extends the visible time past the narration.
	DefaultDisplayBuffer = 1 * time.Second
	// DefaultCooldown is the inter-item gap.
	DefaultCooldown = 2 * time.Second
	// DefaultPausePollInterval is how often the server-side pause flag is
	// re-read.
	DefaultPausePollInterval = 3 * time.Second
	// DefaultMaxClipDuration caps clip playback when the streamer config is
	// unavailable.
	DefaultMaxClipDuration = 5 * time.Minute
)

// Display renders the visual notification. Implemented by the widget page.
type Display interface {
	Show(event *models.DonationEvent, visible time.Duration)
	Hide()
}

// VideoPlayer plays one clip and returns when it ends or errors. The runner
// enforces the maximum duration through the context.
type VideoPlayer interface {
	Play(ctx context.Context, videoURL string) error
}

// QueueController is the server-side queue surface the runtime drives.
// Satisfied by the queue manager directly for in-process kiosks.
type QueueController interface {
	MarkTTSDone(eventID int64) error
	Advance(streamerID string) (*models.DonationEvent, error)
	UpdateStatus(eventID int64, to models.VideoStatus) error
}

type Config struct {
	StreamerID  string
	Synthesizer models.Synthesizer
	Voice       string
	Audio       AudioPlayer
	Display     Display
	Video       VideoPlayer
	Queue       QueueController

	// PausedFunc reads the server-side pause flag. Queued donations are
	// kept while paused; display resumes automatically on unpause.
	PausedFunc func(ctx context.Context) (bool, error)

	// ShowImmediately plays the clip concurrently with its notification
	// instead of sequencing notification first, then clip.
	ShowImmediately bool
	MaxClipDuration time.Duration

	// Estimator predicts narration length when no audio is available.
	// Defaults to EstimateSpeechDuration.
	Estimator func(text string) time.Duration

	SynthesisTimeout  time.Duration
	DisplayBuffer     time.Duration
	Cooldown          time.Duration
	PausePollInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if c.DisplayBuffer <= 0 {
		c.DisplayBuffer = DefaultDisplayBuffer
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.PausePollInterval <= 0 {
		c.PausePollInterval = DefaultPausePollInterval
	}
	if c.MaxClipDuration <= 0 {
		c.MaxClipDuration = DefaultMaxClipDuration
	}
	if c.Estimator == nil {
		c.Estimator = EstimateSpeechDuration
	}
}

// Runner is the cooperative scheduler of one widget instance: at most one
// notification and, independently, at most one video active at a time.
type Runner struct {
	cfg    Config
	logger *logger.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*models.DonationEvent
	closed bool
	paused bool
	state  State

	// videoMu serializes clip playback when ShowImmediately lets it run
	// concurrently with the notification loop.
	videoMu sync.Mutex
	wg      sync.WaitGroup
}

func NewRunner(cfg Config, logger *logger.Logger) *Runner {
	cfg.withDefaults()
	r := &Runner{
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start launches the notification loop and the pause poller. It returns
// immediately; Wait blocks until shutdown completes.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pollPause(ctx)
	}()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		r.cond.Broadcast()
	}()
}

// Wait blocks until both loops have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Enqueue adds a donation to the local playback queue.
func (r *Runner) Enqueue(event *models.DonationEvent) {
	if event == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, event)
	r.mu.Unlock()
	r.cond.Signal()
}

// ConsumeStream feeds the runner from a stream client channel until it is
// closed.
func (r *Runner) ConsumeStream(events <-chan *models.DonationEvent) {
	for event := range events {
		r.Enqueue(event)
	}
}

// State returns the current notification-loop state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// QueueLen returns the number of donations waiting locally.
func (r *Runner) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Runner) run(ctx context.Context) {
	for {
		event, ok := r.next()
		if !ok {
			return
		}
		r.announce(ctx, event)
	}
}

// next blocks until a donation can be dequeued. The pause flag suppresses
// dequeuing without discarding the queue.
func (r *Runner) next() (*models.DonationEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.closed {
			return nil, false
		}
		if len(r.queue) > 0 && !r.paused {
			event := r.queue[0]
			r.queue = r.queue[1:]
			r.state = StateAnnouncing
			return event, true
		}
		r.state = StateIdle
		r.cond.Wait()
	}
}

func (r *Runner) announce(ctx context.Context, event *models.DonationEvent) {
	audio := r.synthesize(ctx, event)

	duration := r.cfg.Estimator(event.String())
	if len(audio) > 0 {
		if measured, err := MeasureAudioDuration(audio); err == nil {
			duration = measured
		}
	}
	visible := duration + r.cfg.DisplayBuffer

	r.cfg.Display.Show(event, visible)

	if event.HasVideo() && r.cfg.ShowImmediately {
		r.markClipReady(event)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.playClip(ctx)
		}()
	}

	// The visible window is timer-driven even when audio fails: an audio
	// error shows the notification without sound rather than skipping it.
	timer := time.NewTimer(visible)
	if len(audio) > 0 {
		if err := r.cfg.Audio.Play(ctx, audio); err != nil && ctx.Err() == nil {
			r.logger.Warn("Announcement audio failed ", "identifier ", event.Identifier, " error ", err)
		}
	}
	select {
	case <-timer.C:
	case <-ctx.Done():
		// The timer must be stopped before any successor is armed,
		// otherwise a late fire double-advances the queue.
		timer.Stop()
		r.cfg.Display.Hide()
		return
	}
	r.cfg.Display.Hide()

	if event.HasVideo() && !r.cfg.ShowImmediately {
		r.markClipReady(event)
		r.playClip(ctx)
	}

	r.setState(StateCooldown)
	cooldown := time.NewTimer(r.cfg.Cooldown)
	select {
	case <-cooldown.C:
	case <-ctx.Done():
		cooldown.Stop()
	}
}

// synthesize requests narration audio, giving up after the safety timeout so
// a stalled engine cannot freeze the widget.
func (r *Runner) synthesize(ctx context.Context, event *models.DonationEvent) []byte {
	if r.cfg.Synthesizer == nil {
		return nil
	}

	type result struct {
		audio []byte
		err   error
	}
	done := make(chan result, 1)
	synthCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		audio, err := r.cfg.Synthesizer.Synthesize(synthCtx, event.String(), r.cfg.Voice)
		done <- result{audio: audio, err: err}
	}()

	timeout := time.NewTimer(r.cfg.SynthesisTimeout)
	defer timeout.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			r.logger.Warn("TTS synthesis failed ", "identifier ", event.Identifier, " error ", res.err)
			return nil
		}
		return res.audio
	case <-timeout.C:
		r.logger.Warn("TTS synthesis timed out, showing notification without sound ", "identifier ", event.Identifier)
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (r *Runner) markClipReady(event *models.DonationEvent) {
	if r.cfg.Queue == nil {
		return
	}
	if err := r.cfg.Queue.MarkTTSDone(event.ID); err != nil {
		r.logger.Warn("Failed to mark clip narration done ", "event ", event.ID, " error ", err)
	}
}

// playClip advances the server-side queue and plays the promoted clip,
// capping playback at the configured maximum. End, error and timeout all
// complete the clip; the queue never blocks indefinitely.
func (r *Runner) playClip(ctx context.Context) {
	if r.cfg.Queue == nil || r.cfg.Video == nil {
		return
	}
	r.videoMu.Lock()
	defer r.videoMu.Unlock()

	clip, err := r.cfg.Queue.Advance(r.cfg.StreamerID)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.Error("Failed to advance video queue ", "error ", err)
		}
		return
	}

	playCtx, cancel := context.WithTimeout(ctx, r.cfg.MaxClipDuration)
	if err := r.cfg.Video.Play(playCtx, clip.YoutubeURL); err != nil && ctx.Err() == nil {
		r.logger.Warn("Clip playback ended with error, advancing ", "event ", clip.ID, " error ", err)
	}
	cancel()

	if err := r.cfg.Queue.UpdateStatus(clip.ID, models.VideoStatusCompleted); err != nil {
		r.logger.Error("Failed to complete clip ", "event ", clip.ID, " error ", err)
	}
}

func (r *Runner) pollPause(ctx context.Context) {
	if r.cfg.PausedFunc == nil {
		return
	}
	ticker := time.NewTicker(r.cfg.PausePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			paused, err := r.cfg.PausedFunc(ctx)
			if err != nil {
				r.logger.Debug("Pause poll failed ", "error ", err)
				continue
			}
			r.setPaused(paused)
		}
	}
}

func (r *Runner) setPaused(paused bool) {
	r.mu.Lock()
	changed := r.paused != paused
	r.paused = paused
	r.mu.Unlock()
	if changed {
		r.cond.Broadcast()
		if paused {
			r.logger.Info("Donation display paused")
		} else {
			r.logger.Info("Donation display resumed")
		}
	}
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
