package book

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// identityHashLen is the number of hex characters kept from the digest.
// Short enough to read in a directory listing, long enough to never collide
// across the handful of works one installation tracks.
const identityHashLen = 12

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// DeriveIdentity computes the stable key for a work. The key is the hex
// digest of the menu address, so the same address always maps to the same
// snapshot across runs. An explicit override always takes precedence; the
// derived value is still stored alongside it for traceability.
func DeriveIdentity(menuURL, override string) (identity, derived string) {
	sum := sha256.Sum256([]byte(menuURL))
	derived = hex.EncodeToString(sum[:])[:identityHashLen]
	if strings.TrimSpace(override) != "" {
		return sanitizeKey(override), derived
	}
	return derived, derived
}

func sanitizeKey(key string) string {
	return unsafeKeyChars.ReplaceAllString(strings.TrimSpace(key), "_")
}
