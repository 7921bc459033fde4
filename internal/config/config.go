package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// MinEntropyBytes is the smallest amount of raw randomness allowed for a
// correlation token. Anything less makes the id guessable within its
// validity window.
const MinEntropyBytes = 90

// MinTokenLength is the minimum accepted length of an encoded token id.
// Shorter input is rejected as malformed before touching the store.
const MinTokenLength = 100

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Token      TokenConfig      `yaml:"token"`
	Store      StoreConfig      `yaml:"store"`
	Session    []VerifierConfig `yaml:"session"`
	Credential CredentialConfig `yaml:"credential"`
	QR         QRConfig         `yaml:"qr"`
	Notify     NotifyConfig     `yaml:"notify"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Audit      AuditConfig      `yaml:"audit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// TokenConfig controls correlation token generation and expiry.
type TokenConfig struct {
	// ValidityWindow is how long a freshly issued token can be claimed.
	ValidityWindow time.Duration `yaml:"validity_window"`

	// EntropyBytes is the amount of raw randomness per token id.
	EntropyBytes int `yaml:"entropy_bytes"`

	// Sliding extends the expiry by another validity window when the
	// token is claimed, giving slow requesters more time to observe the
	// credential.
	Sliding bool `yaml:"sliding"`

	// Prefix is prepended to the id in the QR payload, so scanner apps
	// can recognize the code (e.g. "qrsignin://").
	Prefix string `yaml:"prefix"`
}

// StoreConfig selects and configures the storage backend.
type StoreConfig struct {
	// Flavor is one of: memory, redis, sqlite, postgres.
	Flavor string `yaml:"flavor"`

	// Settings captures the flavor-specific fields.
	Settings map[string]any `yaml:",inline"`
}

// VerifierConfig holds configuration for one claimant session verifier.
type VerifierConfig struct {
	Name   string         `yaml:"name"`
	Type   string         `yaml:"type"`    // e.g. "oidc", "static"
	Config map[string]any `yaml:",inline"` // capture remaining fields
}

// CredentialConfig controls minting of the one-time sign-in credential.
type CredentialConfig struct {
	// SigningKey is the HMAC key for the minted credential.
	SigningKey string `yaml:"signing_key"`

	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

// QRConfig controls image rendering of the QR payload.
type QRConfig struct {
	// ErrorLevel is the correction level: L (7%), M (15%), Q (25%), H (30%).
	ErrorLevel string `yaml:"error_level"`

	// Size is the rendered image edge in pixels.
	Size int `yaml:"size"`
}

type NotifyConfig struct {
	// PollInterval is used by the polling waiter (non-redis flavors).
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxWait caps the timeout a wait request may ask for.
	MaxWait time.Duration `yaml:"max_wait"`
}

type SweepConfig struct {
	// Interval between scheduled sweep runs. Zero disables scheduling,
	// the sweep task can still be triggered manually.
	Interval time.Duration `yaml:"interval"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // e.g. "file", "memory"
	Path    string `yaml:"path"`
}

// Load reads, parses and validates the configuration file at the given
// path, applying defaults for everything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file '%s': %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file '%s': %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file '%s': %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Token.ValidityWindow <= 0 {
		c.Token.ValidityWindow = 10 * time.Second
	}
	if c.Token.EntropyBytes == 0 {
		c.Token.EntropyBytes = 96
	}
	if c.Token.Prefix == "" {
		c.Token.Prefix = "qrsignin://"
	}
	if c.Store.Flavor == "" {
		c.Store.Flavor = "memory"
	}
	if c.Credential.TTL <= 0 {
		c.Credential.TTL = 5 * time.Minute
	}
	if c.Credential.Issuer == "" {
		c.Credential.Issuer = "qr-signin"
	}
	if c.QR.ErrorLevel == "" {
		c.QR.ErrorLevel = "L"
	}
	if c.QR.Size == 0 {
		c.QR.Size = 256
	}
	if c.Notify.PollInterval <= 0 {
		c.Notify.PollInterval = 500 * time.Millisecond
	}
	if c.Notify.MaxWait <= 0 {
		c.Notify.MaxWait = 60 * time.Second
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = time.Minute
	}
}

func (c *Config) Validate() error {
	if c.Token.EntropyBytes < MinEntropyBytes {
		return fmt.Errorf("token.entropy_bytes must be at least %d, got %d", MinEntropyBytes, c.Token.EntropyBytes)
	}

	switch c.Store.Flavor {
	case "memory", "redis", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown store.flavor %q", c.Store.Flavor)
	}

	seen := make(map[string]struct{})
	for i, v := range c.Session {
		if v.Name == "" {
			return fmt.Errorf("session verifier #%d missing name", i)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("session verifier name '%s' is not unique", v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Type == "" {
			return fmt.Errorf("session verifier '%s' missing type", v.Name)
		}
	}

	if c.Credential.SigningKey == "" {
		return fmt.Errorf("credential.signing_key is required")
	}

	switch c.QR.ErrorLevel {
	case "L", "M", "Q", "H":
	default:
		return fmt.Errorf("qr.error_level must be one of L, M, Q, H, got %q", c.QR.ErrorLevel)
	}

	if c.Audit.Enabled && c.Audit.Type == "file" && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required for the file auditor")
	}
	return nil
}
