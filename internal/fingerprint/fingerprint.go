// Package fingerprint derives stable, content-based identifiers for mail
// messages. The same fingerprint keys inbound deduplication, outbound
// reply identity, and thread correlation, so it must be deterministic
// across process restarts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// bodyPrefixLen bounds how much of the body participates in the hash.
// Long bodies hash the same as their first 256 bytes, which keeps the
// cost fixed while remaining collision-resistant in practice.
const bodyPrefixLen = 256

// Fingerprint is a hex-encoded SHA-256 digest used as an idempotency key.
type Fingerprint string

// New computes the fingerprint of a message from its sender, subject,
// timestamp, and body. Identical inputs always yield the identical
// fingerprint.
func New(sender, subject string, ts time.Time, body string) Fingerprint {
	prefix := body
	if len(prefix) > bodyPrefixLen {
		prefix = prefix[:bodyPrefixLen]
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", sender, subject, ts.UTC().Unix(), prefix)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// String returns the fingerprint as a plain string.
func (f Fingerprint) String() string { return string(f) }
