package webhook

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/somebodyfxq-stack/kitsune-donations-sub000/pkg/logger"
)

const keyCacheTTL = 24 * time.Hour

type cachedKey struct {
	key       *ecdsa.PublicKey
	fetchedAt time.Time
}

// SignatureVerifier validates webhook authenticity against the provider's
// per-token ECDSA public key. Keys are cached with a 24-hour TTL; the clock
// is injectable so expiry is testable without real delays.
type SignatureVerifier struct {
	logger *logger.Logger

	providerAPIURL string
	client         *http.Client
	now            func() time.Time

	mu    sync.Mutex
	cache map[string]cachedKey
}

func NewSignatureVerifier(providerAPIURL string, logger *logger.Logger) *SignatureVerifier {
	return &SignatureVerifier{
		logger:         logger,
		providerAPIURL: strings.TrimRight(providerAPIURL, "/"),
		client:         &http.Client{Timeout: 15 * time.Second},
		now:            time.Now,
		cache:          make(map[string]cachedKey),
	}
}

// Verify checks the base64 signature header against the UTF-8 body bytes.
// A fetch failure degrades to an error, never a crash; the reconciler treats
// both failure modes as advisory.
func (v *SignatureVerifier) Verify(ctx context.Context, body []byte, signature, apiToken string) (bool, error) {
	if signature == "" {
		return false, nil
	}

	key, err := v.publicKey(ctx, apiToken)
	if err != nil {
		return false, err
	}

	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, nil
	}

	digest := sha256.Sum256(body)
	return ecdsa.VerifyASN1(key, digest[:], sig), nil
}

func (v *SignatureVerifier) publicKey(ctx context.Context, apiToken string) (*ecdsa.PublicKey, error) {
	v.mu.Lock()
	if entry, ok := v.cache[apiToken]; ok && v.now().Sub(entry.fetchedAt) < keyCacheTTL {
		v.mu.Unlock()
		return entry.key, nil
	}
	v.mu.Unlock()

	key, err := v.fetchPublicKey(ctx, apiToken)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.cache[apiToken] = cachedKey{key: key, fetchedAt: v.now()}
	v.mu.Unlock()
	return key, nil
}

type pubKeyResponse struct {
	Key string `json:"key"`
}

func (v *SignatureVerifier) fetchPublicKey(ctx context.Context, apiToken string) (*ecdsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.providerAPIURL+"/personal/pubkey", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pubkey request: %w", err)
	}
	req.Header.Set("X-Token", apiToken)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch provider public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected pubkey status code %d", resp.StatusCode)
	}

	var body pubKeyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode pubkey response: %w", err)
	}

	return parsePublicKey(body.Key)
}

func parsePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pubkey base64: %w", err)
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in provider public key")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse provider public key: %w", err)
	}

	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("provider public key is not ECDSA")
	}
	return key, nil
}
