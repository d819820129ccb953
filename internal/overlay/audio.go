package overlay

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"
)

// AudioPlayer plays a synthesized announcement to completion or until the
// context is cancelled.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte) error
}

// OtoPlayer plays mp3 audio on the local sound device. Used by kiosk
// deployments that run the overlay runtime as a native process next to the
// streaming software.
type OtoPlayer struct {
	mu sync.Mutex

	// The device supports one context per process, so it is opened lazily
	// on the first announcement and kept for the player's lifetime.
	newContext func(sampleRate int) (*oto.Context, chan struct{}, error)
	once       sync.Once
	otoCtx     *oto.Context
	rate       int
	initErr    error
}

func NewOtoPlayer() *OtoPlayer {
	return &OtoPlayer{
		newContext: func(sampleRate int) (*oto.Context, chan struct{}, error) {
			return oto.NewContext(sampleRate, 2, 2)
		},
	}
}

func (p *OtoPlayer) context(sampleRate int) (*oto.Context, error) {
	p.once.Do(func() {
		otoCtx, readyChan, err := p.newContext(sampleRate)
		if err != nil {
			p.initErr = fmt.Errorf("failed to open audio device: %w", err)
			return
		}
		<-readyChan
		p.otoCtx = otoCtx
		p.rate = sampleRate
	})
	if p.initErr != nil {
		return nil, p.initErr
	}
	if sampleRate != p.rate {
		return nil, fmt.Errorf("audio device is open at %d Hz, stream is %d Hz", p.rate, sampleRate)
	}
	return p.otoCtx, nil
}

func (p *OtoPlayer) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("empty audio")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	decoder, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}

	otoCtx, err := p.context(decoder.SampleRate())
	if err != nil {
		return err
	}

	player := otoCtx.NewPlayer(decoder)
	player.Play()
	defer player.Close()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return nil
}

// NopAudioPlayer discards audio. Used when the overlay runtime only drives
// the on-screen display and a browser source handles sound.
type NopAudioPlayer struct{}

func (NopAudioPlayer) Play(ctx context.Context, audio []byte) error { return nil }
