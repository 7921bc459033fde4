package core

import (
	"context"
	"time"
)

// SessionVerifier checks the claiming party's existing session and returns
// the principal it belongs to. Implementations: OIDC verifier, static HMAC
// verifier for development and tests.
type SessionVerifier interface {
	// Name returns the identifier of this verifier (as used in config).
	Name() string

	// Verify takes a raw bearer token, validates it, and returns a Principal.
	Verify(ctx context.Context, token string) (*Principal, error)
}

// CredentialMinter mints a one-time sign-in credential for a user id. The
// protocol treats it as a black box returning an unguessable bearer value;
// the credential is never cached or re-derived, so a mint that loses the
// claim race is discarded.
type CredentialMinter interface {
	Mint(ctx context.Context, uid string) (string, error)
}

// CredentialWaiter is the requester's side of the exchange: it blocks until
// the credential for id arrives or the timeout elapses. It returns at most
// once per successful claim and never returns data from a previous token
// with the same id (ids are never reused).
type CredentialWaiter interface {
	AwaitCredential(ctx context.Context, id string, timeout time.Duration) (string, error)
}

// Auditor records protocol events (issue, claim, cancel, sweep).
type Auditor interface {
	Log(entry AuditEntry) error
	Close() error
}
