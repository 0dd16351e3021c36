// Command migrate folds the legacy user_limits collection into users and
// backfills quota defaults. It is safe to run more than once.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tubequota/admin/internal/config"
	"github.com/tubequota/admin/internal/logger"
	"github.com/tubequota/admin/internal/storage"
)

func main() {
	drop := flag.Bool("drop", false, "drop user_limits after a successful backup")
	backupDir := flag.String("backup-dir", "backups", "directory for JSON snapshots of legacy data")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall migration timeout")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadMigrate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	m, err := storage.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoForceTLS)
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connection failed")
	}
	defer m.Close(context.Background())

	backup, err := storage.NewJSONBackup(*backupDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *backupDir).Msg("backup dir")
	}

	report, err := storage.NewMigrator(m.DB(), backup, cfg.DefaultDailyLimit, log).Run(ctx, *drop)
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	if err := storage.EnsureIndexes(ctx, m.DB()); err != nil {
		log.Warn().Err(err).Msg("ensure indexes")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}
