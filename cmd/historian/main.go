// cmd/historian/main.go

// Command historian pops room actions from a Redis queue and persists them
// to PostgreSQL.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/simon/internal/cache"
	"github.com/jason-s-yu/simon/internal/config"
	"github.com/jason-s-yu/simon/internal/database"
	"github.com/jason-s-yu/simon/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	cfg := &config.HistorianConfig{}
	cobra.CheckErr(config.NewHistorianCommand(cfg, releaseVersion, run).Execute())
}

func run(cmd *cobra.Command, cfg *config.HistorianConfig) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	svc := historian.New(rdb, database.NewActionStore(pool), historian.Options{
		QueueName:  cfg.RedisQueue,
		BatchSize:  cfg.BatchSize,
		FlushEvery: cfg.FlushEvery,
		PopTimeout: cfg.PopTimeout,
		Inactivity: cfg.Inactivity,
		Logger:     logger,
	})
	return svc.Run(ctx)
}
