package jval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainRecord prefixes record content hashes. The version suffix allows
// future algorithm migration without colliding with old hashes.
const DomainRecord = "undertow/record/v1"

// HashWithDomain computes SHA-256 over domain + 0x00 + canonical bytes.
// The null separator prevents domain/data boundary ambiguity.
func HashWithDomain(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
