package audit

import (
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint reduces a correlation token id to a short stable reference
// for audit entries and logs. The raw id is a bearer secret while the
// token is live and must never be written out in full.
func Fingerprint(id string) string {
	if id == "" {
		return "(none)"
	}
	sum := sha256.Sum256([]byte(id))
	return base64.RawURLEncoding.EncodeToString(sum[:12])
}
