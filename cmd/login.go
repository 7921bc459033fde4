package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsayol/qr-signin/internal/cliconfig"
)

var loginCmd = &cobra.Command{
	Use:   "login <session-token>",
	Short: "Save a session token for the configured server",
	Long: `Stores a session token locally so the claim and tasks commands can
authenticate. The token must be accepted by one of the server's session
verifiers.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := viper.GetString(ServerAddrKey)
		if addr == "" {
			return errors.New("no server address given, use --server or QRSIGNIN_SERVER")
		}

		cfg, err := cliconfig.Load()
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				color.Yellow("starting fresh config: %v", err)
			}
			cfg = &cliconfig.CLIConfig{}
		}

		if err := cfg.SetCredential(addr, &cliconfig.Credential{Token: args[0]}); err != nil {
			return fmt.Errorf("storing credential: %w", err)
		}
		if err := cliconfig.Save(cfg); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		color.Green("session token saved for %s", addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
