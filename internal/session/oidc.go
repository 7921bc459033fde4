package session

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
)

// OIDCVerifier checks a claimant's session against an OpenID Connect
// provider, e.g. the identity provider that signed the device in.
type OIDCVerifier struct {
	name     string
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(ctx context.Context, cfg config.VerifierConfig) (*OIDCVerifier, error) {
	issuerURL, ok := cfg.Config["issuer_url"].(string)
	if !ok {
		return nil, fmt.Errorf("oidc verifier '%s' missing 'issuer_url'", cfg.Name)
	}
	clientID, ok := cfg.Config["client_id"].(string)
	if !ok {
		return nil, fmt.Errorf("oidc verifier '%s' missing 'client_id'", cfg.Name)
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("creating oidc provider for verifier '%s': %w", cfg.Name, err)
	}

	return &OIDCVerifier{
		name:     cfg.Name,
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (o *OIDCVerifier) Name() string {
	return o.name
}

func (o *OIDCVerifier) Verify(ctx context.Context, token string) (*core.Principal, error) {
	idToken, err := o.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("oidc verification failed: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extracting oidc claims: %w", err)
	}

	id := ""
	if sub, ok := claims["sub"]; ok {
		subStr, ok := sub.(string)
		if !ok {
			return nil, fmt.Errorf("invalid 'sub' claim type")
		}
		id = subStr
	}
	if id == "" {
		return nil, fmt.Errorf("session token missing subject")
	}

	return &core.Principal{
		ID:         id,
		Verifier:   o.name,
		Attributes: claims,
	}, nil
}

// ExtractIssuerURL extracts the 'iss' claim from a JWT token string without
// verifying it. Used for verifier auto-discovery.
func ExtractIssuerURL(tokenString string) (string, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	issRaw, ok := claims["iss"]
	if !ok {
		return "", fmt.Errorf("token missing 'iss' claim")
	}

	iss, ok := issRaw.(string)
	if !ok {
		return "", fmt.Errorf("invalid 'iss' claim type")
	}

	return iss, nil
}
