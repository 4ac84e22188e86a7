package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/potd/internal/backend/database"
	"github.com/jo-hoe/potd/internal/core"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var (
		date    string
		variant string
		width   int
		height  int
		out     string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write an image variant of a stored picture as PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := core.ParseVariant(variant)
			if err != nil {
				return err
			}
			if width < 0 || height < 0 {
				return errors.New("width and height must not be negative")
			}
			return ctx.withCore(func(_ *core.ServiceConfig, coreService *core.CoreService) error {
				picture, err := lookupPicture(cmd, coreService, date)
				if err != nil {
					return err
				}
				data, err := coreService.Render(cmd.Context(), picture.Date, v, optionalDimension(width), optionalDimension(height))
				if err != nil {
					return err
				}
				if out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s image for %s to %s\n", v, database.FormatDate(picture.Date), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Date in YYYY-MM-DD format (defaults to today, falling back to the latest picture)")
	cmd.Flags().StringVar(&variant, "variant", string(core.VariantOriginal), "Image variant: original, dithered or display")
	cmd.Flags().IntVar(&width, "width", 0, "Target width in pixels (0 keeps the aspect ratio)")
	cmd.Flags().IntVar(&height, "height", 0, "Target height in pixels (0 keeps the aspect ratio)")
	cmd.Flags().StringVarP(&out, "out", "o", "potd.png", "Output file, - for stdout")
	return cmd
}

func optionalDimension(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
