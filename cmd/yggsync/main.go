package main

import (
	"fmt"
	"os"

	"github.com/amaumene/yggsync/internal/app"
	"github.com/amaumene/yggsync/internal/config"
	"github.com/amaumene/yggsync/internal/models"
	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "yggsync",
		Short:   "Mirror the yggapi anime series and film catalogs into a local database",
		Version: config.Version,
		// serve is the default
		RunE:          serveRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newSyncCommand(),
		newResetCommand(),
		newExportCommand(),
	)
	return root
}

// buildApp loads the configuration and wires the application. The returned
// cleanup closes the database.
func buildApp() (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	a, cleanup, err := app.InitializeApp(cfg)
	if err != nil {
		return nil, nil, err
	}
	a.Logger.WithField("config_dir", cfg.ConfigDir).Info("Configuration loaded")
	return a, cleanup, nil
}

// parseCategories reads a --category flag; empty means every category
func parseCategories(raw string) ([]models.Category, error) {
	if raw == "" {
		return models.Categories, nil
	}
	cat, err := models.ParseCategory(raw)
	if err != nil {
		return nil, err
	}
	return []models.Category{cat}, nil
}
