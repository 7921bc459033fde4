package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jsayol/qr-signin/internal/config"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired and stale tokens from the store once",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		services, err := buildLocalServices(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer services.Close()

		res, err := services.Service.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweeping tokens: %w", err)
		}

		log.Info().
			Int("pending_deleted", res.PendingDeleted).
			Int("claimed_deleted", res.ClaimedDeleted).
			Msg("sweep finished")
		return nil
	},
}

func init() {
	sweepCmd.Flags().String("config", "config.yaml", "Path to the server config file")
	rootCmd.AddCommand(sweepCmd)
}
