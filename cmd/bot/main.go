// Package main contains the entrypoint of the chat platform bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/polaris-bridge/internal/bot"
	"github.com/edgard/polaris-bridge/internal/config"
	"github.com/edgard/polaris-bridge/internal/convert"
	"github.com/edgard/polaris-bridge/internal/database"
	"github.com/edgard/polaris-bridge/internal/dispatch"
	"github.com/edgard/polaris-bridge/internal/logger"
	"github.com/edgard/polaris-bridge/internal/metrics"
	"github.com/edgard/polaris-bridge/internal/platform"
	"github.com/edgard/polaris-bridge/internal/telegram"
	"github.com/edgard/polaris-bridge/internal/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires config, logging, history, the platform client and the bridge, and
// returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "", "Path to an optional YAML configuration file")
	envPath := flag.String("env", ".env", "Path to an optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log, logCloser := logger.NewLogger(cfg.LogLevel, cfg.JSONLogs(), cfg.LogFile)
	defer func() { _ = logCloser.Close() }()
	log.Info("Logger initialized", "level", cfg.LogLevel, "format", cfg.LogFormat, "file", cfg.LogFile)
	log.Debug("Bridge configuration", "server", cfg.Server, "config", cfg.BotConfig)

	client, closeClient, err := newClient(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to create platform client", "platform", cfg.Platform, "error", err)
		return 1
	}
	defer closeClient()

	convOpts := []convert.Option{
		convert.WithMaxDepth(cfg.ReplyMaxDepth),
		convert.WithMediaDir(cfg.MediaDir),
	}
	if cfg.HistoryPath != "" {
		db, err := database.Open(cfg.HistoryPath, log)
		if err != nil {
			log.Error("Failed to open history database", "path", cfg.HistoryPath, "error", err)
			return 1
		}
		defer database.Close(db, log)

		history := database.NewHistory(db, log)
		maintenance, err := database.NewMaintenance(history, cfg.HistoryRetention, cfg.HistoryMaintenance, log)
		if err != nil {
			log.Error("Failed to create history maintenance", "error", err)
			return 1
		}
		if err := maintenance.Start(); err != nil {
			log.Error("Failed to start history maintenance", "error", err)
			return 1
		}
		defer func() { _ = maintenance.Stop() }()

		convOpts = append(convOpts, convert.WithHistory(history))
	}

	bridge, err := bot.New(bot.Options{
		Server:            cfg.Server,
		Config:            cfg.RawBotConfig(),
		Prefix:            cfg.Prefix,
		HeartbeatInterval: cfg.HeartbeatInterval,
		RetryInterval:     cfg.DialRetryInterval,
		MetricsAddr:       cfg.MetricsAddr,
	},
		client,
		convert.New(client, log, convOpts...),
		dispatch.New(client, dispatch.NewResolver(nil), log),
		metrics.New(),
		log,
	)
	if err != nil {
		log.Error("Failed to create bridge", "error", err)
		return 1
	}

	log.Info("Starting bridge...", "platform", cfg.Platform)
	runErr := bridge.Run(ctx)
	log.Info("Bridge run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bridge stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bridge stopped gracefully.")
	return 0
}

// newClient creates the platform session selected by PLATFORM and a function
// releasing it.
func newClient(ctx context.Context, cfg *config.Config, log *slog.Logger) (platform.Client, func(), error) {
	switch cfg.Platform {
	case platform.Telegram:
		client, err := telegram.NewClient(cfg.TelegramToken, log,
			tgbot.WithMiddlewares(logger.Middleware(log)),
		)
		return client, func() {}, err
	case platform.WhatsApp:
		client, err := whatsapp.NewClient(ctx, cfg.WhatsAppSession, log)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {
			if err := client.Close(); err != nil {
				log.Error("Error closing WhatsApp session", "error", err)
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}
