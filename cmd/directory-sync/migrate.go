package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ogurasousui/directory-sync/internal/platform/config"
)

func (a *app) migrateCommand() *cobra.Command {
	var migrationsDir string

	cmd := &cobra.Command{
		Use:       "migrate [up|down|drop|version]",
		Short:     "Apply database migrations for the postgres target",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "drop", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(cmd); err != nil {
				return err
			}
			if a.cfg.Target.Kind != config.TargetPostgres {
				return fmt.Errorf("migrate requires target.kind %s, got %s", config.TargetPostgres, a.cfg.Target.Kind)
			}

			action := "up"
			if len(args) > 0 {
				action = args[0]
			}
			if err := runMigration(a.logger, action, migrationsDir, a.cfg.Database.DSN()); err != nil {
				return fmt.Errorf("migration %s failed: %w", action, err)
			}
			a.logger.Info().Str("action", action).Msg("migration completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&migrationsDir, "dir", "assets/migrations", "directory containing migration files")
	return cmd
}

func runMigration(logger zerolog.Logger, action, dir, dsn string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve path for %s: %w", dir, err)
	}
	absDir = filepath.ToSlash(absDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", absDir), dsn)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	switch action {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case "drop":
		return m.Drop()
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			if errors.Is(err, migrate.ErrNilVersion) {
				logger.Info().Msg("no migration applied")
				return nil
			}
			return err
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migration version")
		return nil
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
}
