package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/amaumene/yggsync/internal/controllers"
	"github.com/spf13/cobra"
)

func newExportCommand() *cobra.Command {
	var (
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a zip export of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := controllers.ParseFormat(format)
			if err != nil {
				return err
			}
			if out == "" {
				out = controllers.FileName(format, time.Now())
			}

			a, cleanup, err := buildApp()
			if err != nil {
				return err
			}
			defer cleanup()
			defer func() { _ = a.Shutdown(context.Background()) }()

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", out, err)
			}
			if err := a.Export.WriteZip(cmd.Context(), f, format); err != nil {
				_ = f.Close()
				_ = os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Export written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", controllers.FormatAll, "json, csv, sql or all")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: ygg_anime_export_<format>_<timestamp>.zip)")
	return cmd
}
