package session

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
)

// StaticVerifier accepts HMAC-signed session tokens with a shared key.
// Meant for development and tests, where a full OIDC provider is overkill.
type StaticVerifier struct {
	name       string
	signingKey []byte
	issuer     string
}

func NewStaticVerifier(cfg config.VerifierConfig) (*StaticVerifier, error) {
	key, ok := cfg.Config["signing_key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("static verifier '%s' missing 'signing_key'", cfg.Name)
	}

	issuer, _ := cfg.Config["issuer_url"].(string)

	return &StaticVerifier{
		name:       cfg.Name,
		signingKey: []byte(key),
		issuer:     issuer,
	}, nil
}

func (s *StaticVerifier) Name() string {
	return s.name
}

func (s *StaticVerifier) Verify(_ context.Context, tokenString string) (*core.Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return s.signingKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid session token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("session token missing subject")
	}

	return &core.Principal{
		ID:         sub,
		Verifier:   s.name,
		Attributes: claims,
	}, nil
}

// IssuerURL returns the configured issuer for auto-discovery matching.
func (s *StaticVerifier) IssuerURL() string {
	return s.issuer
}
