package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ckdtjq0011/saas-survey/internal/api"
	"github.com/ckdtjq0011/saas-survey/internal/config"
	"github.com/ckdtjq0011/saas-survey/internal/db"
)

// NewMigrateCmd applies database migrations and optionally imports a
// memory-store snapshot.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var snapshot string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(cfg.NewLogger(os.Stderr))
			return runMigrations(ctx, cfg, snapshot)
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "import this memory-store snapshot into an empty database")
	return cmd
}

func runMigrations(ctx context.Context, cfg config.Config, snapshotPath string) error {
	path := cfg.Database.SQLitePath
	if path == "" {
		return errors.New("database.sqlite_path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sqlite dir: %w", err)
	}
	sqlDB, err := db.Open(path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			slog.Warn("failed to close sqlite db", "err", cerr)
		}
	}()

	applied, err := db.RunMigrations(ctx, sqlDB, cfg.Database.MigrationsDir)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("migrations applied", "count", len(applied), "names", applied)

	if snapshotPath == "" {
		return nil
	}
	return importSnapshot(ctx, sqlDB, snapshotPath)
}

// importSnapshot copies a memory-store snapshot into a freshly migrated
// database. It refuses to merge into a database that already holds data.
func importSnapshot(ctx context.Context, sqlDB *sql.DB, snapshotPath string) error {
	src, err := api.NewMemoryStoreFromPath(snapshotPath)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	snap := api.MemoryStoreSnapshot(src)

	var existing int
	if err := sqlDB.QueryRowContext(ctx, "SELECT (SELECT COUNT(*) FROM users) + (SELECT COUNT(*) FROM surveys)").Scan(&existing); err != nil {
		return fmt.Errorf("inspect target: %w", err)
	}
	if existing > 0 {
		return errors.New("target database is not empty; refusing to import snapshot")
	}

	dst, err := db.NewStore(sqlDB)
	if err != nil {
		return fmt.Errorf("init sqlite store: %w", err)
	}
	slog.Info("importing snapshot", "path", snapshotPath, "users", len(snap.Users), "surveys", len(snap.Surveys), "responses", len(snap.Responses))
	for _, u := range snap.Users {
		if err := dst.InsertUser(ctx, u); err != nil {
			return fmt.Errorf("copy user %s: %w", u.ID, err)
		}
	}
	for _, sv := range snap.Surveys {
		if err := dst.InsertSurvey(ctx, sv); err != nil {
			return fmt.Errorf("copy survey %s: %w", sv.ID, err)
		}
	}
	for _, r := range snap.Responses {
		if err := dst.InsertResponse(ctx, r, 0); err != nil {
			return fmt.Errorf("copy response %s: %w", r.ID, err)
		}
	}
	slog.Info("snapshot import completed")
	return nil
}
