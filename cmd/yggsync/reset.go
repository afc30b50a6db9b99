package main

import (
	"context"
	"fmt"

	"github.com/amaumene/yggsync/internal/models"
	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the checkpoint of a category so the next run backfills it again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := models.ParseCategory(category)
			if err != nil {
				return err
			}

			a, cleanup, err := buildApp()
			if err != nil {
				return err
			}
			defer cleanup()
			defer func() { _ = a.Shutdown(context.Background()) }()

			if err := a.Sync.Reset(cmd.Context(), cat); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sync state reset\n", cat)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "series or films")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}
