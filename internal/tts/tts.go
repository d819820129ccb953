// Package tts fetches narration audio for donation announcements. The
// synthesis engine is an external collaborator; this package only turns text
// into an opaque mp3 byte-stream.
package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hegedustibor/htgo-tts/voices"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

// chunkSize keeps each synthesis request under the engine's text limit.
const chunkSize = 200

// GoogleSynthesizer fetches audio from the Google translate TTS endpoint.
type GoogleSynthesizer struct {
	logger *logger.Logger

	endpoint     string
	defaultVoice string
	httpCli      *http.Client
}

func NewGoogleSynthesizer(defaultVoice string, logger *logger.Logger) *GoogleSynthesizer {
	if defaultVoice == "" {
		defaultVoice = voices.English
	}
	return &GoogleSynthesizer{
		logger:       logger,
		endpoint:     "https://translate.google.com/translate_tts",
		defaultVoice: defaultVoice,
		httpCli: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Synthesize returns mp3 audio for the text, concatenating chunked fetches
// for long messages.
func (s *GoogleSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	voice = strings.TrimSpace(strings.ToLower(voice))
	if voice == "" {
		voice = s.defaultVoice
	}

	runes := []rune(text)
	buf := bytes.NewBuffer(nil)

	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		audio, err := s.fetchChunk(ctx, string(runes[start:end]), voice)
		if err != nil {
			return nil, err
		}
		buf.Write(audio)
	}

	return buf.Bytes(), nil
}

func (s *GoogleSynthesizer) fetchChunk(ctx context.Context, text, voice string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", voice)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", fmt.Sprintf("%d", len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.httpCli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: engine status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
