package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jsayol/qr-signin/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a server config file without starting anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			color.Red("✗ %s: %v", configPath, err)
			return fmt.Errorf("config is invalid")
		}

		color.Green("✓ %s is valid", configPath)
		fmt.Printf("  store flavor:     %s\n", cfg.Store.Flavor)
		fmt.Printf("  validity window:  %s\n", cfg.Token.ValidityWindow)
		fmt.Printf("  entropy bytes:    %d\n", cfg.Token.EntropyBytes)
		fmt.Printf("  session verifiers: %d\n", len(cfg.Session))
		return nil
	},
}

func init() {
	validateCmd.Flags().String("config", "config.yaml", "Path to the server config file")
	rootCmd.AddCommand(validateCmd)
}
