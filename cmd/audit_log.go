package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var auditLogCmd = &cobra.Command{
	Use:     "log",
	Aliases: []string{"entries"},
	Short:   "List recorded protocol events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, err := getClient()
		if err != nil {
			return err
		}

		log.Debug().Msg("Retrieving audit entries...")
		entries, err := cli.ListAuditEntries(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing audit entries: %w", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Action", "Token", "Principal", "IP", "Result"})

		for _, entry := range entries {
			principal := ""
			if entry.Principal != nil {
				principal = entry.Principal.ID
			}

			result := greenCheck
			if !entry.Success {
				result = redCross + " " + truncate(entry.Error, 40)
			}

			t.AppendRow(table.Row{
				entry.Time.Format(time.TimeOnly),
				color.New(color.Bold).Sprint(entry.Action),
				entry.TokenFingerprint,
				principal,
				entry.ClientIP,
				result,
			})
		}

		applyTableFormat(t)
		t.Render()
		return nil
	},
}

func init() {
	auditCmd.AddCommand(auditLogCmd)
}
