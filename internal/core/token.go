package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// TokenState describes where a token is in its lifecycle. The only legal
// transitions are Pending -> Claimed and Pending/Claimed -> removed; a
// removed token is simply absent from the store.
type TokenState int

const (
	StatePending TokenState = iota
	StateClaimed
)

func (s TokenState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateClaimed:
		return "claimed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Token is one correlation token record.
type Token struct {
	// ID is the record key: base64url of high-entropy random bytes.
	ID string

	// State is Pending until a claim attaches a credential.
	State TokenState

	// IP is the requester's address, captured at creation.
	// Diagnostics only, never used for authorization.
	IP string

	// CreatedAt is the server-assigned creation time.
	CreatedAt time.Time

	// ExpiresAt is the absolute instant after which the token can no
	// longer be claimed.
	ExpiresAt time.Time

	// Credential is the one-time sign-in credential, set exactly once
	// when the token is claimed.
	Credential string
}

// Expired reports whether the token can no longer be claimed at the given instant.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// tokenRecord is the persisted wire shape. The "used" flag plus optional
// "ct" encode the state; "exp" is stored as an absolute unix-millisecond
// instant. This matches what clients observing the store expect to see.
type tokenRecord struct {
	Exp  int64  `json:"exp"`
	TS   int64  `json:"ts,omitempty"`
	IP   string `json:"ip,omitempty"`
	Used bool   `json:"used,omitempty"`
	CT   string `json:"ct,omitempty"`
}

// MarshalToken encodes a token into its canonical JSON wire form.
func MarshalToken(t Token) ([]byte, error) {
	rec := tokenRecord{
		Exp:  t.ExpiresAt.UnixMilli(),
		TS:   t.CreatedAt.UnixMilli(),
		IP:   t.IP,
		Used: t.State == StateClaimed,
		CT:   t.Credential,
	}
	return json.Marshal(rec)
}

// UnmarshalToken decodes the canonical wire form. A record that cannot be
// decoded, or that is missing its expiry, is reported as corrupt so callers
// can treat the token as invalid instead of acting on garbage.
func UnmarshalToken(id string, data []byte) (Token, error) {
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.Exp <= 0 {
		return Token{}, fmt.Errorf("%w: missing expiry", ErrCorruptRecord)
	}

	state := StatePending
	if rec.Used {
		state = StateClaimed
	}

	return Token{
		ID:         id,
		State:      state,
		IP:         rec.IP,
		CreatedAt:  time.UnixMilli(rec.TS),
		ExpiresAt:  time.UnixMilli(rec.Exp),
		Credential: rec.CT,
	}, nil
}
