package cmd

import (
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Administrative background task commands",
	Long:  `List, trigger and inspect the server's background tasks. Requires an authenticated session (qr-signin login).`,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}
