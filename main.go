package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ict-trading-bot/config"
	"ict-trading-bot/internal/api"
	"ict-trading-bot/internal/archive"
	"ict-trading-bot/internal/bot"
	"ict-trading-bot/internal/exchange"
	"ict-trading-bot/internal/logging"
	"ict-trading-bot/internal/vault"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Credentials may come from Vault instead of the environment.
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("vault client init failed")
	}
	if err := vaultClient.ApplyToConfig(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("loading credentials from vault failed")
	}

	provider := exchange.NewCoinbaseClient(cfg, logger)

	var repo *archive.Repository
	if cfg.ArchiveConfig.Enabled {
		db, err := archive.NewDB(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("archive database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("archive migrations failed")
		}
		repo = archive.NewRepository(db, cfg.ExchangeConfig.Symbol, logger)
		logger.Info().Msg("trade archive enabled")
	}

	tradingBot := bot.New(cfg, provider, repo, logger)
	tradingBot.SetStream(exchange.NewTickerStream(cfg.ExchangeConfig.Symbol, logger))

	if cfg.ServerConfig.Enabled {
		server := api.NewServer(cfg, tradingBot, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("API server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("API server shutdown failed")
			}
		}()
	}

	if err := tradingBot.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal().Err(err).Msg("bot exited with error")
	}
}
