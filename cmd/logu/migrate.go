package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tresgarza/log-u/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}

	// opened without auto-migration so failures surface from the explicit run below
	cfg.Database.Migrate = false
	db, err := database.NewDB(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, logger); err != nil {
		return err
	}
	fmt.Println("Migrations applied")
	return nil
}
