package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Veraticus/subdupes/internal/cli"
	"github.com/Veraticus/subdupes/internal/config"
	"github.com/Veraticus/subdupes/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

With --backup the database is first copied to the given path. With --status
the schema version and the stored fields are shown and nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.Flags().String("backup", "", "Back up the database to this path before migrating")
	cmd.Flags().Bool("status", false, "Show the current schema version without applying changes")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	backup, _ := cmd.Flags().GetString("backup")
	status, _ := cmd.Flags().GetBool("status")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if status {
		slog.Info("Database migration status",
			"database", cfg.Database.Path,
			"current_version", current,
			"latest_version", storage.ExpectedSchemaVersion)
		if current == 0 {
			return nil
		}
		fields, err := store.ListFields(ctx)
		if err != nil {
			return err
		}
		cli.RenderFields(cmd.OutOrStdout(), fields)
		return nil
	}

	if backup != "" {
		dest, err := filepath.Abs(config.ExpandPath(backup))
		if err != nil {
			return fmt.Errorf("invalid backup path: %w", err)
		}
		if err := store.Backup(ctx, dest); err != nil {
			return err
		}
		slog.Info("Database backed up", "path", dest)
	}

	slog.Info("Running database migrations", "database", cfg.Database.Path, "from_version", current)
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("✅ Database migrations completed successfully!")
	return nil
}
