package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strings"

	"rigflip/models"
)

var (
	tokenReplacements = map[string]string{
		"nvidia":    "",
		"geforce":   "",
		"amd":       "",
		"radeon":    "",
		"intel":     "",
		"core":      "",
		"gaming":    "",
		"pc":        "",
		"computer":  "",
		"desktop":   "",
		"tower":     "",
		"for":       "",
		"sale":      "",
		"gigabyte":  "gb",
		"gigabytes": "gb",
		"terabyte":  "tb",
		"terabytes": "tb",
		"memory":    "ram",
		"graphics":  "gpu",
		"processor": "cpu",
		"w":         "with",
		"and":       "",
		"the":       "",
	}
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^a-z0-9\s]`)
)

// Fingerprint identifies a listing across scans. Reposts of the same build
// by the same seller at the same price collapse to one fingerprint even when
// the marketplace assigns a new URL.
func Fingerprint(listing *models.Listing) string {
	input := fmt.Sprintf("%s|%s|%d|%s",
		strings.ToLower(listing.Site),
		NormalizeTitle(listing.Title),
		int64(math.Round(listing.Price)),
		strings.ToLower(strings.TrimSpace(listing.Seller)),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeTitle lowercases, strips punctuation and filler words, and
// canonicalizes unit names so cosmetic title edits do not change identity.
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	title = nonAlnumRegex.ReplaceAllString(title, " ")
	tokens := strings.Fields(title)
	out := tokens[:0]
	for _, tok := range tokens {
		if repl, ok := tokenReplacements[tok]; ok {
			if repl == "" {
				continue
			}
			tok = repl
		}
		out = append(out, tok)
	}
	return multiSpaceRegex.ReplaceAllString(strings.Join(out, " "), " ")
}
