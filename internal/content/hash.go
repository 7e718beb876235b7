package content

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainContent prefixes every content hash. The version suffix leaves room
// for a future algorithm change.
const DomainContent = "capgate/content/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint returns the content hash of v.
func Fingerprint(v any) (string, error) {
	n, err := Normalize(v)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: %w", err)
	}
	canonical, err := MarshalCanonical(n)
	if err != nil {
		return "", fmt.Errorf("Fingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainContent, canonical), nil
}
