package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jsayol/qr-signin/internal/config"
	"github.com/jsayol/qr-signin/internal/qr"
	"github.com/jsayol/qr-signin/pkg/client"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a sign-in code and wait for it to be claimed",
	Long: `Asks the server for a fresh sign-in code, renders it in the terminal,
and long-polls until another device claims it. On success the one-time
credential is printed to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiClient, err := getClient()
		if err != nil {
			return err
		}

		wait, _ := cmd.Flags().GetDuration("wait")
		rotate, _ := cmd.Flags().GetBool("rotate")

		encoder := qr.NewEncoder(config.QRConfig{ErrorLevel: "L"})

		prev := ""
		for {
			code, err := apiClient.RequestCode(cmd.Context(), prev)
			if err != nil {
				return fmt.Errorf("requesting code: %w", err)
			}

			rendered, err := encoder.Terminal(code.Payload)
			if err != nil {
				return fmt.Errorf("rendering code: %w", err)
			}
			fmt.Println(rendered)
			color.Cyan("scan the code with a signed-in device, waiting up to %s ...", wait)

			cred, err := apiClient.AwaitCredential(cmd.Context(), code.Token, wait)
			switch {
			case err == nil:
				color.Green("code was claimed, credential follows")
				fmt.Println(cred)
				return nil
			case errors.Is(err, client.ErrWaitTimedOut) && rotate:
				color.Yellow("no claim within %s, rotating code", wait)
				prev = code.Token
				continue
			case errors.Is(err, client.ErrWaitTimedOut):
				_ = apiClient.Cancel(cmd.Context(), code.Token)
				return fmt.Errorf("no device claimed the code within %s", wait)
			default:
				return fmt.Errorf("waiting for claim: %w", err)
			}
		}
	},
}

func init() {
	requestCmd.Flags().Duration("wait", 30*time.Second, "How long to wait for a claim before giving up")
	requestCmd.Flags().Bool("rotate", false, "Keep requesting fresh codes until one is claimed")
	rootCmd.AddCommand(requestCmd)
}
