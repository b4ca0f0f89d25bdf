package main

import (
	"context"
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/tillpoint/terminal-core/pkg/config"
	"github.com/tillpoint/terminal-core/pkg/db"
	"github.com/tillpoint/terminal-core/pkg/logger"
	"github.com/tillpoint/terminal-core/pkg/migrate"
)

func main() {
	ctx := context.Background()
	// bootstrap logger early (then re-init after config load)
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx = logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"db":  cfg.LocalDB.Path,
	})

	client, err := db.NewLocal(ctx, cfg.LocalDB, logg)
	requireResource(ctx, logg, "local database", err)
	defer client.Close()

	sqlDB, err := client.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")
	if err := migrate.Run(ctx, sqlDB, *cmd, flag.Args()...); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration complete")
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to initialize "+name, err)
	os.Exit(1)
}
