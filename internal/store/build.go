package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
)

// Build constructs the TokenStore selected by the configuration flavor.
// Flavor settings are decoded from the free-form config map into the
// flavor's own config struct.
func Build(ctx context.Context, cfg config.StoreConfig) (core.TokenStore, error) {
	switch cfg.Flavor {
	case "memory", "":
		return NewMemoryStore(), nil

	case "redis":
		var rc RedisConfig
		if err := decodeSettings(cfg.Settings, &rc); err != nil {
			return nil, fmt.Errorf("decoding redis store settings: %w", err)
		}
		return NewRedisStore(ctx, rc)

	case "sqlite", "postgres":
		var sc SQLConfig
		if err := decodeSettings(cfg.Settings, &sc); err != nil {
			return nil, fmt.Errorf("decoding %s store settings: %w", cfg.Flavor, err)
		}
		return NewSQLStore(cfg.Flavor, sc)

	default:
		return nil, fmt.Errorf("unknown store flavor %q", cfg.Flavor)
	}
}

func decodeSettings(settings map[string]any, dest any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     dest,
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(settings)
}

// fingerprint reduces a token id to a short loggable reference. Raw ids are
// bearer secrets while the token is live and must not end up in logs.
func fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
