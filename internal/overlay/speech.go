package overlay

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"

	mp3 "github.com/hajimehoshi/go-mp3"
)

const (
	// Assumed speaking rate for the duration estimate, words per minute.
	speakingRateWPM = 150

	digitPadding       = 80 * time.Millisecond
	punctuationPadding = 150 * time.Millisecond

	// minSpeechDuration floors the estimate so one-word donations still get
	// a readable notification.
	minSpeechDuration = 2500 * time.Millisecond
)

// EstimateSpeechDuration predicts how long narrating the text will take.
// Used before the audio is loaded, and as the fallback when synthesis fails;
// the measured duration overrides it once available.
func EstimateSpeechDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	estimate := time.Duration(float64(words) / speakingRateWPM * float64(time.Minute))

	for _, r := range text {
		switch {
		case unicode.IsDigit(r):
			estimate += digitPadding
		case unicode.IsPunct(r):
			estimate += punctuationPadding
		}
	}

	if estimate < minSpeechDuration {
		return minSpeechDuration
	}
	return estimate
}

// MeasureAudioDuration decodes the mp3 header and returns the exact playback
// length.
func MeasureAudioDuration(audio []byte) (time.Duration, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return 0, fmt.Errorf("failed to decode audio: %w", err)
	}

	// Length is the PCM byte count: 2 channels x 2 bytes per sample.
	samples := decoder.Length() / 4
	if decoder.SampleRate() <= 0 {
		return 0, fmt.Errorf("audio has no sample rate")
	}
	seconds := float64(samples) / float64(decoder.SampleRate())
	return time.Duration(seconds * float64(time.Second)), nil
}
