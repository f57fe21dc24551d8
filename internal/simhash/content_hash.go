package simhash

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespace = regexp.MustCompile(`\s+`)

// ContentHash returns the SHA-256 hex digest of whitespace-normalized
// content. Empty content yields an empty string (stored as NULL).
func ContentHash(content string) string {
	normalized := strings.TrimSpace(whitespace.ReplaceAllString(content, " "))
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
