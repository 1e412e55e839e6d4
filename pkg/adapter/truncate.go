package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// truncationMarker ends a payload that was cut to a target's char limit.
const truncationMarker = "..."

// Truncate NFC-normalizes s and cuts it to exactly limit runes with the
// truncation marker. Normalizing first keeps the rune count stable for
// visually identical inputs, which is what makes truncation deterministic.
// A non-positive limit means unlimited.
func Truncate(s string, limit int) string {
	s = norm.NFC.String(s)
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	marker := []rune(truncationMarker)
	if limit <= len(marker) {
		return string(runes[:limit])
	}
	return string(runes[:limit-len(marker)]) + truncationMarker
}

// ContentHash is a SHA-256 over the JCS-canonicalized dispatch content.
// Both adapter variants hash the post-truncation payload, so a receipt's
// hash is comparable across simulate and live runs.
func ContentHash(target, payload string) string {
	doc, err := json.Marshal(map[string]string{
		"target":  target,
		"payload": payload,
	})
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(doc)
	if err != nil {
		canonical = doc
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
