package cmd

import (
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Administrative audit commands",
	Long:  `View recorded protocol events on the server. Requires an authenticated session (qr-signin login).`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
