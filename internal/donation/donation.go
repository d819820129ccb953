// Package donation implements donation-intent creation: validation of the
// donor submission, payment URL construction and intent persistence.
package donation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/internal/models"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/identifier"
	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

const (
	// MinAmount and MaxAmount are the bank jar constraints on a single
	// transfer, in major currency units.
	MinAmount = 10
	MaxAmount = 29999

	MaxNicknameLen = 30
	MaxMessageLen  = 500
)

// ValidationError carries a user-displayable reason for rejecting a donation
// submission. Each failure mode gets a distinct code.
type ValidationError struct {
	Code   string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErr(code, reason string) *ValidationError {
	return &ValidationError{Code: code, Reason: reason}
}

// Anchored at a host boundary so lookalike hosts (notyoutube.com,
// fakeyoutu.be) do not validate.
var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[./])youtube\.com/watch\?(?:.*&)?v=([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:^|[./])youtu\.be/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:^|[./])youtube\.com/embed/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`(?:^|[./])youtube\.com/shorts/([A-Za-z0-9_-]{11})`),
}

// CreateRequest is the donor submission before validation.
type CreateRequest struct {
	StreamerSlug string
	Nickname     string
	Amount       string
	Message      string
	YoutubeURL   string
}

// CreateResult is returned to the donation page on success.
type CreateResult struct {
	URL        string `json:"url"`
	Identifier string `json:"identifier"`
}

// Service prepares donation intents. It performs no payment itself, only the
// redirect target and the reconciliation key.
type Service struct {
	logger *logger.Logger
	repo   models.Repository

	paymentBaseURL string
}

func NewService(repo models.Repository, paymentBaseURL string, logger *logger.Logger) *Service {
	return &Service{
		repo:           repo,
		paymentBaseURL: strings.TrimRight(paymentBaseURL, "/"),
		logger:         logger,
	}
}

// CreateIntent validates a donor submission, persists the intent and returns
// the payment URL with the identifier embedded in the comment.
func (s *Service) CreateIntent(req CreateRequest) (*CreateResult, error) {
	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		return nil, validationErr("nickname_required", "Nickname is required")
	}
	if len([]rune(nickname)) > MaxNicknameLen {
		return nil, validationErr("nickname_too_long", fmt.Sprintf("Nickname must be at most %d characters", MaxNicknameLen))
	}

	message := SanitizeMessage(req.Message)
	if message == "" {
		return nil, validationErr("message_required", "Message is required")
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	videoURL := ""
	if strings.TrimSpace(req.YoutubeURL) != "" {
		videoID, ok := ExtractVideoID(req.YoutubeURL)
		if !ok {
			return nil, validationErr("invalid_youtube_url", "YouTube link is not recognized")
		}
		videoURL = "https://www.youtube.com/watch?v=" + videoID
	}

	streamer, err := s.repo.GetStreamerBySlug(strings.TrimSpace(req.StreamerSlug))
	if err != nil {
		if err == models.ErrNotFound {
			return nil, validationErr("recipient_not_found", "Recipient not found")
		}
		return nil, fmt.Errorf("failed to resolve streamer: %s", err)
	}
	if streamer.JarID == "" {
		return nil, validationErr("jar_not_configured", "Recipient has no payment jar configured")
	}

	id := identifier.Generate()
	intent := &models.DonationIntent{
		Identifier: id,
		StreamerID: streamer.StreamerID,
		Nickname:   nickname,
		Message:    message,
		Amount:     amount,
		YoutubeURL: videoURL,
		CreatedAt:  time.Now().Unix(),
	}
	if err := s.repo.CreateIntent(intent); err != nil {
		return nil, fmt.Errorf("failed to persist donation intent: %s", err)
	}

	s.logger.Info("Donation intent created ", "identifier ", id, " streamer ", streamer.StreamerID, " amount ", amount)
	return &CreateResult{
		URL:        BuildPaymentURL(s.paymentBaseURL, streamer.JarID, amount, message, id),
		Identifier: id,
	}, nil
}

func parseAmount(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, validationErr("amount_required", "Amount is required")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, validationErr("invalid_amount", "Amount is not a number")
	}

	amount := int(math.Round(value))
	if amount < MinAmount || amount > MaxAmount {
		return 0, validationErr("amount_out_of_range",
			fmt.Sprintf("Amount must be between %d and %d", MinAmount, MaxAmount))
	}
	return amount, nil
}

// SanitizeMessage strips control characters, trims surrounding whitespace and
// truncates to MaxMessageLen runes. Idempotent.
func SanitizeMessage(message string) string {
	var b strings.Builder
	b.Grow(len(message))
	for _, r := range message {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}

	cleaned := strings.TrimSpace(b.String())
	runes := []rune(cleaned)
	if len(runes) > MaxMessageLen {
		cleaned = strings.TrimSpace(string(runes[:MaxMessageLen]))
	}
	return cleaned
}

// ExtractVideoID pulls the 11-character video id out of a YouTube
// watch/share/embed/shorts URL.
func ExtractVideoID(rawURL string) (string, bool) {
	rawURL = strings.TrimSpace(rawURL)
	for _, re := range youtubePatterns {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// BuildPaymentURL encodes the jar id, the amount and the reconciliation
// comment "<message> (<identifier>)" into a provider payment link.
func BuildPaymentURL(baseURL, jarID string, amount int, message, id string) string {
	params := url.Values{}
	params.Set("a", strconv.Itoa(amount))
	params.Set("t", fmt.Sprintf("%s (%s)", message, id))
	return fmt.Sprintf("%s/jar/%s?%s", baseURL, jarID, params.Encode())
}
