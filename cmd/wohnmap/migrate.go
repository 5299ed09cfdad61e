package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vbonduro/wohnmap/internal/config"
	"github.com/vbonduro/wohnmap/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations to the session database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close() }()

		// Open applies pending migrations.
		version, err := db.SchemaVersion(database)
		if err != nil {
			return err
		}
		printStep("database %s at schema version %s", cfg.DBPath, color.CyanString("%d", version))
		return nil
	},
}
