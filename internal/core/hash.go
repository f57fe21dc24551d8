package core

import (
	"crypto/md5"
	"encoding/hex"
)

// HashURL returns the MD5 hex digest of the exact URL string. It is the
// primary dedup key for articles and pending URLs.
func HashURL(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
