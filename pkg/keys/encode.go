package keys

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"net/url"
	"strings"
)

// encoder turns the normalized, escaped and joined plaintext into the key suffix.
type encoder func(joined string) string

func plainEncoder(joined string) string { return joined }

func hashEncoder(newHash func() hash.Hash) encoder {
	return func(joined string) string {
		h := newHash()
		h.Write([]byte(joined))
		return hex.EncodeToString(h.Sum(nil))
	}
}

var (
	sha1Encoder   = hashEncoder(sha1.New)
	sha256Encoder = hashEncoder(sha256.New)
)

// Normalize trims surrounding whitespace and upper-cases, so lookups are
// case-insensitive.
func Normalize(plain string) string {
	return strings.ToUpper(strings.TrimSpace(plain))
}

// escape keeps the RFC 3986 unreserved set and percent-encodes everything
// else, including the separator.
func escape(s string) string {
	// QueryEscape emits '+' for space and %2B for '+', so the swap is lossless.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// join normalizes and escapes every part before joining on Separator.
func join(parts ...string) string {
	if len(parts) == 1 {
		return escape(Normalize(parts[0]))
	}
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = escape(Normalize(p))
	}
	return strings.Join(escaped, Separator)
}
