package core

import "time"

// Principal represents the authenticated identity of the claiming party.
// It is produced by a SessionVerifier after checking an existing session.
type Principal struct {
	// ID is the unique subject identifier (e.g. the sub claim).
	ID string
	// Verifier is the name of the trusted verifier that produced this principal.
	Verifier string
	// Attributes are the claims extracted from the session token.
	Attributes map[string]any
}

// AuditEntry is one protocol event as recorded by an Auditor.
type AuditEntry struct {
	// ID correlates the entry with the request that produced it.
	ID string `json:"id,omitempty"`

	Time   time.Time `json:"time"`
	Action string    `json:"action"`

	// TokenFingerprint is a hash of the correlation token id. The raw id
	// is a bearer secret while the token is live and must not appear in
	// audit output.
	TokenFingerprint string `json:"token_fingerprint,omitempty"`

	// Principal is set for claim attempts.
	Principal *Principal `json:"principal,omitempty"`

	// ClientIP is the requester address captured at issuance.
	ClientIP string `json:"client_ip,omitempty"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Fingerprinter reduces a secret to a loggable reference.
type Fingerprinter func(token string) string
