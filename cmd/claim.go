package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jsayol/qr-signin/pkg/client"
)

var claimCmd = &cobra.Command{
	Use:   "claim <payload>",
	Short: "Claim a scanned sign-in code for the current session",
	Long: `Claims a sign-in code on behalf of the locally stored session. The
argument is the scanned QR payload, or the bare token id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiClient, err := getClient()
		if err != nil {
			return err
		}

		token := args[0]
		// accept the full scanned payload and strip the scheme prefix
		if i := strings.Index(token, "://"); i >= 0 {
			token = token[i+len("://"):]
		}

		if err := apiClient.Claim(cmd.Context(), token); err != nil {
			if errors.Is(err, client.ErrInvalidSession) {
				return fmt.Errorf("no valid session, run 'qr-signin login' first")
			}
			return fmt.Errorf("claiming code: %w", err)
		}

		color.Green("code claimed, the requesting device can now sign in")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(claimCmd)
}
