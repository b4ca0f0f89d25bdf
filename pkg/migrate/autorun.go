package migrate

import (
	"context"
	"fmt"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/db"
	"github.com/tillpoint/terminal-core/pkg/logger"
)

// MaybeRun executes the local-schema migrations automatically when the
// feature flag is enabled. The terminal owns its embedded store, so unlike a
// shared server database this is safe to run on every boot.
func MaybeRun(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.LocalDB.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "db_path", cfg.LocalDB.Path)
	logg.Info(ctx, "running local schema migrations")

	if err := Run(ctx, sqlDB, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "local schema migrations completed")
	return nil
}
