// derivbot keeps an authenticated session with the venue, streams ticks and
// balance updates, and journals contract outcomes.
// Usage: go run ./cmd/derivbot --config configs/derivbot.example.yaml
//
// Required environment variables (may come from .env):
//
//	DERIV_API_TOKEN - API token with read and trade scopes
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/deriv-stream/internal/config"
	"github.com/rickgao/deriv-stream/internal/connection"
	"github.com/rickgao/deriv-stream/internal/database"
	"github.com/rickgao/deriv-stream/internal/journal"
	"github.com/rickgao/deriv-stream/internal/logging"
	"github.com/rickgao/deriv-stream/internal/session"
	"github.com/rickgao/deriv-stream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/derivbot.example.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if len(cfg.UnsetEnv) > 0 {
		logger.Warn("config references unset environment variables", "vars", cfg.UnsetEnv)
	}

	logger.Info("starting derivbot",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("derivbot failed", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
	logger.Info("derivbot stopped")
}

func run(cfg *config.BotConfig, logger *slog.Logger) error {
	endpoint, err := cfg.API.Endpoint()
	if err != nil {
		return err
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Journal
	var sinks eventSinks
	if cfg.Journal.Enabled {
		stop, err := startJournal(ctx, cfg, &sinks, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	// Session
	sess := session.New(sessionConfig(cfg, endpoint), logger)
	defer sess.Close()

	logger.Info("connecting", "endpoint", cfg.API.WSURL, "app_id", cfg.API.AppID)
	if err := sess.Connect(ctx); err != nil {
		return err
	}

	if err := sess.Login(ctx, cfg.API.Token); err != nil {
		var authErr *session.AuthorizationError
		if errors.As(err, &authErr) {
			return fmt.Errorf("authorization failed: %s", authErr.Message)
		}
		return fmt.Errorf("authorization failed: %w", err)
	}

	snap := sess.Snapshot()
	logger.Info("session ready",
		"login_id", snap.LoginID,
		"currency", snap.Currency,
		"balance", snap.Balance.StringFixed(2),
	)

	if err := sess.SubscribeBalance(ctx); err != nil {
		return fmt.Errorf("subscribe balance: %w", err)
	}
	for _, symbol := range cfg.Trading.Symbols {
		if err := sess.SubscribeTicks(ctx, symbol); err != nil {
			return fmt.Errorf("subscribe %s: %w", symbol, err)
		}
	}
	logger.Info("subscribed", "symbols", sess.Symbols())

	// Health server
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           createHealthHandler(sess),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	consumeEvents(ctx, sess, sinks, logger)

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	return nil
}

func sessionConfig(cfg *config.BotConfig, endpoint string) session.Config {
	return session.Config{
		Client: connection.ClientConfig{
			URL:               endpoint,
			HandshakeTimeout:  cfg.Connection.HandshakeTimeout,
			WriteTimeout:      cfg.Connection.WriteTimeout,
			KeepaliveInterval: cfg.Connection.KeepaliveInterval,
			BufferSize:        cfg.Connection.MessageBuffer,
			SendRate:          cfg.Connection.SendRate,
			SendBurst:         cfg.Connection.SendBurst,
		},
		AuthTimeout:    cfg.Connection.AuthTimeout,
		RequestTimeout: cfg.Connection.RequestTimeout,
		EventBuffer:    cfg.Connection.EventBuffer,
		Currency:       cfg.Trading.Currency,
		Reconnect: session.ReconnectConfig{
			InitialDelay: cfg.Reconnect.InitialDelay,
			BackoffStep:  cfg.Reconnect.BackoffStep,
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
		},
	}
}

// startJournal connects the database and starts the writers. The returned
// func stops the writers and closes the pool.
func startJournal(ctx context.Context, cfg *config.BotConfig, sinks *eventSinks, logger *slog.Logger) (func(), error) {
	db := cfg.Journal.Database
	logger.Info("connecting to database",
		"host", db.Host,
		"port", db.Port,
		"database", db.Name,
	)

	pool, err := database.Connect(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("connect journal database: %w", err)
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected")

	wcfg := journal.WriterConfig{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}

	outcomes := journal.NewOutcomeWriter(wcfg, pool, logger)
	outcomes.Start(ctx)
	sinks.outcomes = outcomes

	var ticks *journal.Writer[session.Tick]
	if cfg.Journal.Ticks {
		ticks = journal.NewTickWriter(wcfg, pool, logger)
		ticks.Start(ctx)
		sinks.ticks = ticks
	}

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		outcomes.Stop(stopCtx)
		if ticks != nil {
			ticks.Stop(stopCtx)
		}
		logger.Info("journal stopped",
			"outcomes", outcomes.Stats(),
		)
		pool.Close()
	}, nil
}
