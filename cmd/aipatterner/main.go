// Command aipatterner runs the behavioral pattern learning daemon: it
// ingests home events over MQTT, learns transitions, reminders, and
// routines, and publishes reminder proposals. It never executes an action
// itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Andriy31193/aipatterner/internal/channels"
	"github.com/Andriy31193/aipatterner/internal/config"
	"github.com/Andriy31193/aipatterner/internal/dispatch"
	"github.com/Andriy31193/aipatterner/internal/engine"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/store"
)

var version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "aipatterner.yaml", "path to daemon config")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("aipatterner", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	pol, err := policy.LoadFile(cfg.PolicyPath)
	if err != nil {
		logger.Error("policy load failed", "error", err)
		return 1
	}

	st, err := store.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		logger.Error("store open failed", "error", err)
		return 1
	}
	defer st.Close()

	eng := engine.New(st, pol, logger)
	ch := channels.NewMQTT(cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.Username, cfg.MQTT.Password, cfg.MQTT.TopicPrefix, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ch.Start(gctx)
	})

	var dispatcher *dispatch.Dispatcher
	if cfg.Dispatch.Enabled {
		dispatcher = dispatch.New(st.Reminders(), ch, pol, cfg.Dispatch.Schedule, logger)
		g.Go(func() error {
			return dispatcher.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	logger.Info("aipatterner running", "version", version, "dataDir", cfg.Server.DataDir)
	<-ctx.Done()

	logger.Info("shutting down")
	if dispatcher != nil {
		dispatcher.Stop()
	}
	if err := ch.Stop(); err != nil {
		logger.Warn("channel stop", "error", err)
	}
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
