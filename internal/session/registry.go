package session

import (
	"context"
	"fmt"

	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
)

// Registry holds the configured session verifiers and picks the right one
// for an incoming bearer token.
type Registry struct {
	verifiers map[string]core.SessionVerifier
	order     []string
	byIssuer  map[string]string // issuer URL -> verifier name
}

func BuildRegistry(ctx context.Context, cfgs []config.VerifierConfig) (*Registry, error) {
	r := &Registry{
		verifiers: make(map[string]core.SessionVerifier),
		byIssuer:  make(map[string]string),
	}

	for _, cfg := range cfgs {
		switch cfg.Type {
		case "static":
			v, err := NewStaticVerifier(cfg)
			if err != nil {
				return nil, fmt.Errorf("building static verifier %q: %w", cfg.Name, err)
			}
			r.add(v)
			if v.IssuerURL() != "" {
				r.byIssuer[v.IssuerURL()] = cfg.Name
			}
		case "oidc":
			v, err := NewOIDCVerifier(ctx, cfg)
			if err != nil {
				return nil, fmt.Errorf("building oidc verifier %q: %w", cfg.Name, err)
			}
			r.add(v)
			if issuerURL, ok := cfg.Config["issuer_url"].(string); ok {
				r.byIssuer[issuerURL] = cfg.Name
			}
		default:
			return nil, fmt.Errorf("unknown verifier type %q for verifier %q", cfg.Type, cfg.Name)
		}
	}
	return r, nil
}

func (r *Registry) add(v core.SessionVerifier) {
	r.verifiers[v.Name()] = v
	r.order = append(r.order, v.Name())
}

func (r *Registry) Get(name string) (core.SessionVerifier, bool) {
	v, ok := r.verifiers[name]
	return v, ok
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Verify checks the token against the configured verifiers. If the token
// carries an 'iss' claim matching a known verifier, only that one is
// consulted; otherwise each verifier is tried in configuration order.
func (r *Registry) Verify(ctx context.Context, token string) (*core.Principal, error) {
	if len(r.verifiers) == 0 {
		return nil, fmt.Errorf("no session verifiers configured")
	}

	if iss, err := ExtractIssuerURL(token); err == nil {
		if name, ok := r.byIssuer[iss]; ok {
			return r.verifiers[name].Verify(ctx, token)
		}
	}

	var lastErr error
	for _, name := range r.order {
		principal, err := r.verifiers[name].Verify(ctx, token)
		if err == nil {
			return principal, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no verifier accepted the session token: %w", lastErr)
}
