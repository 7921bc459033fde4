package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jsayol/qr-signin/internal/api"
	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/logging"
	"github.com/jsayol/qr-signin/internal/service"
	"github.com/jsayol/qr-signin/internal/session"
	"github.com/jsayol/qr-signin/internal/tasks"
)

const SweepTaskName = "qr-tokens-cleanup"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the qr-signin API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		services, err := buildLocalServices(ctx, cfg)
		if err != nil {
			return err
		}
		defer services.Close()

		registry, err := session.BuildRegistry(ctx, cfg.Session)
		if err != nil {
			return fmt.Errorf("building session verifiers: %w", err)
		}
		log.Info().Strs("verifiers", registry.Names()).Msg("session verifiers ready")

		manager := tasks.NewManager()
		defer manager.Stop()
		registerSweepTask(manager, services.Service, cfg.Sweep.Interval)

		server := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.NewServer(services.Service, registry, manager, services.Auditor, cfg).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", cfg.Server.Addr).Msg("starting server")
			errCh <- server.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutting down server: %w", err)
			}
		}
		return nil
	},
}

func registerSweepTask(manager *tasks.Manager, svc *service.TokenService, interval time.Duration) {
	manager.Register(SweepTaskName, interval, func(ctx context.Context, logger logging.InternalLogger) error {
		res, err := svc.Sweep(ctx)
		if err != nil {
			logger.Error("sweep failed: %v", err)
			return err
		}
		logger.Info("sweep done, removed %d pending and %d claimed tokens",
			res.PendingDeleted, res.ClaimedDeleted)
		return nil
	})
}

func init() {
	serveCmd.Flags().String("config", "config.yaml", "Path to the server config file")
	rootCmd.AddCommand(serveCmd)
}
