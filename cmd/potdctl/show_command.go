package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/core"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored picture for a date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCore(func(_ *core.ServiceConfig, coreService *core.CoreService) error {
				picture, err := lookupPicture(cmd, coreService, date)
				if errors.Is(err, core.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "No picture stored")
					return nil
				}
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Date", database.FormatDate(picture.Date)},
					{"Description", picture.Description},
					{"Short description", picture.ShortDescription},
					{"Credit", picture.Credit},
					{"Source", picture.ImageURL},
					{"Original", fmt.Sprintf("%d bytes", len(picture.OriginalImage))},
					{"Dithered", fmt.Sprintf("%d bytes", len(picture.DitheredImage))},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Date in YYYY-MM-DD format (defaults to today, falling back to the latest picture)")
	return cmd
}

func lookupPicture(cmd *cobra.Command, coreService *core.CoreService, date string) (*database.Picture, error) {
	if date == "" {
		return coreService.TodayOrLatest(cmd.Context())
	}
	parsed, err := database.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, use YYYY-MM-DD", date)
	}
	return coreService.PictureByDate(cmd.Context(), parsed)
}
