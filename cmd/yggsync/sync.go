package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/amaumene/yggsync/internal/models"
	"github.com/spf13/cobra"
)

func newSyncCommand() *cobra.Command {
	var (
		category string
		initial  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one pass per category in the foreground and print the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cats, err := parseCategories(category)
			if err != nil {
				return err
			}

			a, cleanup, err := buildApp()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			kind := models.PassIncremental
			if initial {
				kind = models.PassInitial
			}

			var failed error
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, cat := range cats {
				var result *models.PassResult
				if kind == models.PassInitial {
					result, err = a.Sync.RunInitial(ctx, cat)
				} else {
					result, err = a.Sync.RunIncremental(ctx, cat)
				}
				if result != nil {
					if encErr := enc.Encode(result); encErr != nil {
						return encErr
					}
				}
				if err != nil {
					failed = fmt.Errorf("%s %s pass: %w", cat, kind, err)
					break
				}
			}

			if err := a.Shutdown(context.Background()); err != nil {
				a.Logger.WithError(err).Error("Shutdown failed")
			}
			return failed
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "series or films (default: both)")
	cmd.Flags().BoolVar(&initial, "initial", false, "run the full backfill instead of an incremental pass")
	return cmd
}
