package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the deterministic key used for both deduplication and
// result caching. Inputs are lower-cased and trimmed before hashing so that
// trivially different submissions of the same content collapse to one key.
// The NUL joiner keeps ("ab","c") and ("a","bc") from colliding.
func Fingerprint(cvText, jobText, language string) string {
	h := sha256.New()
	h.Write([]byte(normalize(cvText)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(jobText)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(language)))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
