package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsayol/qr-signin/internal/buildinfo"
	"github.com/jsayol/qr-signin/internal/logging"
)

const ServerAddrKey = "server"

var rootCmd = &cobra.Command{
	Use:   "qr-signin",
	Short: fmt.Sprintf("qr-signin (version: %s, commit: %s)", buildinfo.Version, buildinfo.CommitHash),
	Long: `qr-signin lets an already-authenticated device vouch for a second,
unauthenticated device by scanning a short-lived QR code and exchanging it
for a one-time sign-in credential.`,
	Version: buildinfo.Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(nil)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}

func init() {
	// setup pre-flag logger
	logging.InitDefault()

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(logging.LogLevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	_ = viper.BindPFlag(logging.LogFormatKey, rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	_ = viper.BindPFlag(logging.LogNoColorKey, rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.PersistentFlags().String("server", "", "Address of the remote qr-signin server")
	_ = viper.BindPFlag(ServerAddrKey, rootCmd.PersistentFlags().Lookup("server"))

	viper.SetEnvPrefix("QRSIGNIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}
