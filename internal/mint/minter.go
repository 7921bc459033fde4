package mint

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
)

var _ core.CredentialMinter = (*CustomTokenMinter)(nil)

// CustomTokenMinter mints the one-time sign-in credential: a short-lived
// signed JWT the unauthenticated device exchanges for a full session at the
// identity provider. Every mint carries a fresh jti, so a credential is
// single-purpose by construction; the lifecycle layer makes sure a lost
// claim race discards it instead of reusing it.
type CustomTokenMinter struct {
	signingKey []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

func New(cfg config.CredentialConfig) (*CustomTokenMinter, error) {
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("credential minter requires a signing key")
	}
	return &CustomTokenMinter{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		ttl:        cfg.TTL,
	}, nil
}

func (m *CustomTokenMinter) Mint(_ context.Context, uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("cannot mint credential for empty uid")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": uid,
		"jti": uuid.NewString(),
		"iss": m.issuer,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	if m.audience != "" {
		claims["aud"] = m.audience
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing credential: %w", err)
	}
	return signed, nil
}
