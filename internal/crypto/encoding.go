package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// ToHex encodes bytes as lowercase hex, the wire form for keys and signatures.
func ToHex(data []byte) string {
	return hex.EncodeToString(data)
}

// FromHex decodes a hex string. Surrounding whitespace is ignored.
func FromHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(s))
}

// ToBase64 encodes bytes as standard base64 with padding.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes base64 in any of the common variants: standard or
// URL-safe alphabet, with or without padding.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "-_") {
		s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	}
	s = strings.TrimRight(s, "=")
	return base64.RawStdEncoding.DecodeString(s)
}
