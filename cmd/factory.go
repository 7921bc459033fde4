package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/jsayol/qr-signin/internal/audit"
	"github.com/jsayol/qr-signin/internal/cliconfig"
	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/core"
	"github.com/jsayol/qr-signin/internal/mint"
	"github.com/jsayol/qr-signin/internal/notify"
	"github.com/jsayol/qr-signin/internal/service"
	"github.com/jsayol/qr-signin/internal/store"
	"github.com/jsayol/qr-signin/pkg/client"
)

// getClient creates an API client for the configured server, attaching the
// stored session credential when one is available.
func getClient() (*client.Client, error) {
	addr := viper.GetString(ServerAddrKey)
	if addr == "" {
		return nil, errors.New("no server address given, use --server or QRSIGNIN_SERVER")
	}

	var opts []client.Option
	if token := os.Getenv("QRSIGNIN_TOKEN"); token != "" {
		opts = append(opts, client.WithAuthToken(token))
	} else if cfg, err := cliconfig.Load(); err == nil {
		if cred, err := cfg.GetCredential(addr); err == nil {
			opts = append(opts, client.WithAuthToken(cred.Token))
		}
	}

	return client.New(addr, opts...), nil
}

// localServices holds the backing components built from a service config
// file, for commands that operate on the store directly.
type localServices struct {
	Store   core.TokenStore
	Service *service.TokenService
	Auditor core.Auditor
}

func buildLocalServices(ctx context.Context, cfg *config.Config) (*localServices, error) {
	st, err := store.Build(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("building token store: %w", err)
	}

	auditor, err := audit.Build(cfg.Audit)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("building auditor: %w", err)
	}

	minter, err := mint.New(cfg.Credential)
	if err != nil {
		_ = auditor.Close()
		_ = st.Close()
		return nil, fmt.Errorf("building credential minter: %w", err)
	}

	waiter := notify.ForStore(st, cfg.Notify.PollInterval)
	svc := service.NewTokenService(st, minter, waiter, auditor, cfg.Token)

	return &localServices{Store: st, Service: svc, Auditor: auditor}, nil
}

func (l *localServices) Close() {
	_ = l.Auditor.Close()
	_ = l.Store.Close()
}
