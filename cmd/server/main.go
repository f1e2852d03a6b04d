// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jason-s-yu/simon/internal/cache"
	"github.com/jason-s-yu/simon/internal/config"
	"github.com/jason-s-yu/simon/internal/game"
	"github.com/jason-s-yu/simon/internal/handlers"
	"github.com/jason-s-yu/simon/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	cfg := &config.Config{}
	cobra.CheckErr(config.NewCommand(cfg, releaseVersion, serve).Execute())
}

func serve(cmd *cobra.Command, cfg *config.Config) error {
	logger := logrus.New()
	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := game.RoomOptions{
		Timings: cfg.Timings(),
		Policy:  cfg.EndPolicy(),
		Logger:  logger,
	}

	if cfg.RedisAddr != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		actions := cache.NewActionLog(rdb, cfg.RedisQueue, 0, logger)
		defer actions.Close()
		opts.Actions = actions
		logger.Infof("Publishing room actions to redis list %q", cfg.RedisQueue)
	}

	hub := session.NewHub(logger)
	rooms := game.NewRoomStore(hub, opts)
	defer rooms.CloseAll()
	gw := session.NewGateway(rooms, hub, cfg.QueueSize, logger)

	srv := &http.Server{
		Addr: net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		Handler: handlers.NewRouter(handlers.RouterOptions{
			Prefix:    cfg.Prefix,
			StaticDir: cfg.StaticDir,
			PublicURL: cfg.PublicURL,
			Version:   releaseVersion,
			Logger:    logger,
			Gateway:   gw,
			Rooms:     rooms,
			Hub:       hub,
		}),
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   srv.Addr,
			"policy": cfg.EndPolicy().String(),
		}).Infof("simon v%s listening", releaseVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
