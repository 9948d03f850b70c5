package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// FingerprintChars bounds how much text feeds the fingerprint.
const FingerprintChars = 1000

// Tier is the class of model a decision selects.
type Tier string

const (
	TierVision Tier = "vision"
	TierLong   Tier = "long"
	TierPro    Tier = "pro"
	TierLocal  Tier = "local"
)

// Analysis records the evidence the heuristic looked at.
type Analysis struct {
	ImageCount       int      `json:"image_count"`
	ReferenceMatches int      `json:"reference_matches"`
	IndicatorMatches int      `json:"indicator_matches"`
	TextLength       int      `json:"text_length"`
	MatchedPatterns  []string `json:"matched_patterns,omitempty"`
}

// Decision is the chosen model plus the rationale that produced it.
type Decision struct {
	Model      string    `json:"model"`
	Tier       Tier      `json:"tier"`
	HasFigures bool      `json:"has_figures"`
	Reason     string    `json:"reason"`
	Confidence float64   `json:"confidence"`
	Analysis   Analysis  `json:"analysis"`
	DecidedAt  time.Time `json:"decided_at"`
	Cached     bool      `json:"cached,omitempty"`
}

// Fingerprint hashes the first FingerprintChars runes of text together with
// the image count. Cost is bounded regardless of document size.
func Fingerprint(text string, imageCount int) string {
	prefix := text
	n := 0
	for i := range text {
		if n == FingerprintChars {
			prefix = text[:i]
			break
		}
		n++
	}
	h := sha256.New()
	h.Write([]byte(prefix))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(imageCount)))
	return hex.EncodeToString(h.Sum(nil))
}
