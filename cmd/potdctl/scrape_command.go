package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/core"
)

func newScrapeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Acquire today's picture once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(func(_ *core.ServiceConfig, coreService *core.CoreService) error {
				result, err := coreService.Scrape(cmd.Context())
				if err != nil {
					return fmt.Errorf("scrape failed: %w", err)
				}
				rows := [][]string{
					{"Outcome", string(result.Outcome)},
					{"Date", database.FormatDate(result.Date)},
				}
				if result.Reason != "" {
					rows = append(rows, []string{"Reason", result.Reason})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
				return nil
			})
		},
	}
}
