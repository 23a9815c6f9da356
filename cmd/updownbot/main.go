// Command updownbot trades the 5-minute BTC Up/Down markets on Polymarket.
// It loads configuration, validates it, wires dependencies, sets up signal
// handling, and runs the trading loop in paper or live mode.
//
// Usage:
//
//	updownbot [-config config.toml] [-mode paper|live] [-hours N]
//	updownbot [-config config.toml] report
//	updownbot [-config config.toml] archives [YYYY-MM-DD]
//	updownbot [-config config.toml] keygen
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

	"github.com/alanyoungcy/updownbot/internal/app"
	"github.com/alanyoungcy/updownbot/internal/config"
	"github.com/alanyoungcy/updownbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the trading mode (paper or live)")
	hours := flag.Float64("hours", 0, "stop after this many hours (0 runs until interrupted)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *hours > 0 {
		cfg.SetRunDuration(time.Duration(*hours * float64(time.Hour)))
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("config loaded",
		slog.String("path", *configPath),
		slog.Any("secrets", config.ConfiguredSecrets(cfg)),
	)
	logger.Debug("effective config", slog.Any("config", config.RedactedConfig(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Args()); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	command := ""
	if len(args) > 0 {
		command = args[0]
	}

	if command == "keygen" {
		return keygen(cfg, logger)
	}

	application := app.New(cfg, logger)
	defer application.Close()

	switch command {
	case "":
		logger.Info("updownbot starting",
			slog.String("mode", cfg.Mode),
			slog.Duration("run_duration", cfg.RunDuration.Duration),
		)
		if err := application.Run(ctx); err != nil {
			return err
		}
		logger.Info("updownbot stopped")
		return nil
	case "report":
		return application.Report(ctx, os.Stdout)
	case "archives":
		day := ""
		if len(args) > 1 {
			day = args[1]
		}
		return application.Archives(ctx, day, os.Stdout)
	default:
		return fmt.Errorf("unknown command %q (valid: report, archives, keygen)", command)
	}
}

// keygen encrypts the configured raw private key into the configured
// encrypted key file.
func keygen(cfg *config.Config, logger *slog.Logger) error {
	if cfg.Wallet.PrivateKey == "" {
		return errors.New("keygen: set UPDOWN_WALLET_PRIVATE_KEY or wallet.private_key")
	}
	if cfg.Wallet.EncryptedKeyPath == "" || cfg.Wallet.KeyPassword == "" {
		return errors.New("keygen: wallet.encrypted_key_path and wallet.key_password are required")
	}
	data, err := crypto.EncryptKey(cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	if err := os.WriteFile(cfg.Wallet.EncryptedKeyPath, data, 0o600); err != nil {
		return fmt.Errorf("keygen: write key file: %w", err)
	}
	logger.Info("encrypted key written", slog.String("path", cfg.Wallet.EncryptedKeyPath))
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
