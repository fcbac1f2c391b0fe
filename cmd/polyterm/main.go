package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/polyterm/internal/app"
	"github.com/rewired-gh/polyterm/internal/archive"
	"github.com/rewired-gh/polyterm/internal/config"
	"github.com/rewired-gh/polyterm/internal/input"
	"github.com/rewired-gh/polyterm/internal/logger"
	"github.com/rewired-gh/polyterm/internal/notify"
	"github.com/rewired-gh/polyterm/internal/polymarket"
	"github.com/rewired-gh/polyterm/internal/state"
	"github.com/rewired-gh/polyterm/internal/stream"
	"github.com/rewired-gh/polyterm/internal/ui"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Logs go to a file; stderr belongs to the rendered dashboard.
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()
	logger.Info("Configuration loaded from %s", *configPath)

	arch, err := archive.New(cfg.Storage.MaxTradesPerEvent, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize archive: %v", err)
	}
	defer func() {
		if err := arch.Close(); err != nil {
			logger.Error("Failed to close archive: %v", err)
		}
	}()

	client := polymarket.NewClient(
		cfg.API.GammaAPIURL,
		cfg.API.ClobAPIURL,
		cfg.API.DataAPIURL,
		cfg.Account.SessionToken,
		cfg.API.Timeout,
		polymarket.ClientConfig{
			MaxRetries:          cfg.API.MaxRetries,
			RetryDelayBase:      cfg.API.RetryDelayBase,
			MaxIdleConns:        cfg.API.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.API.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.API.IdleConnTimeout,
		},
	)

	var notifier *notify.Notifier
	if cfg.Notifications.Enabled {
		notifier, err = notify.New(
			cfg.Notifications.BotToken,
			cfg.Notifications.ChatID,
			cfg.Notifications.MinTradeValue,
			cfg.Notifications.MaxRetries,
			cfg.Notifications.RetryDelayBase,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram notifier: %v", err)
		}
		logger.Info("Telegram large-trade alerts enabled (threshold $%.0f)", cfg.Notifications.MinTradeValue)
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	term, err := input.Open()
	if err != nil {
		logger.Fatal("Failed to enter raw mode: %v", err)
	}
	defer term.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := state.NewStore(cfg.Account.HasAuth(), cfg.Account.Address)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		store.SetQuit()
		cancel()
	}()

	dashboard := app.New(cfg, store, app.Deps{
		Events:     client,
		MarketData: client,
		Account:    client,
		Streams:    app.NewStreamSource(stream.NewClient(cfg.API.StreamURL)),
		Renderer:   ui.NewRenderer(),
		Input:      term,
		Archive:    arch,
		Notifier:   notifier,
	})

	if err := dashboard.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("Event loop exited with error: %v", err)
	}
	logger.Info("Goodbye")
}
