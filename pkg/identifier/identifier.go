// Package identifier generates and extracts the short codes that tie a bank
// payment comment back to a donation intent.
package identifier

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Alphabet excludes 0/O and 1/I so the code survives being typed by hand
// into a bank transfer form.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	prefixLen = 3
	suffixLen = 6
)

// TestPrefix marks synthetic identifiers created by the test trigger endpoint
// so they can be purged in bulk.
const TestPrefix = "TST"

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))

	// Last parenthesized run of 6+ identifier characters wins, so a donor
	// message that itself contains "(something)" ahead of the appended code
	// does not shadow it.
	extractRe = regexp.MustCompile(`\(([0-9A-Za-z][0-9A-Za-z-]{5,})\)`)
)

// Generate produces a code of the form AAA-AAAAAA. Uniqueness is
// probabilistic; collisions are mitigated by streamer-scoped lookup, not
// globally enforced.
func Generate() string {
	rngMu.Lock()
	defer rngMu.Unlock()

	b := make([]byte, prefixLen+1+suffixLen)
	for i := range b {
		if i == prefixLen {
			b[i] = '-'
			continue
		}
		b[i] = Alphabet[rng.Intn(len(Alphabet))]
	}
	return string(b)
}

// Extract finds the identifier embedded in a free-text payment comment. It
// returns the last parenthesized run of six or more alphanumeric/hyphen
// characters, normalized for matching.
func Extract(text string) (string, bool) {
	matches := extractRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	return Normalize(matches[len(matches)-1][1]), true
}

// Normalize upper-cases an identifier so matching is case-insensitive.
func Normalize(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// IsTest reports whether the identifier was produced by the synthetic test
// trigger.
func IsTest(id string) bool {
	return strings.HasPrefix(Normalize(id), TestPrefix+"-")
}
