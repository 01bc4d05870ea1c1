// streamtest connects to the venue and prints ticks to the console.
// Usage: go run ./cmd/streamtest --symbols R_100,R_50 --quote
//
// Optional environment variables:
//
//	DERIV_APP_ID    - Application id (defaults to the public test id)
//	DERIV_API_TOKEN - Token; when set the session authorizes and streams balance
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/deriv-stream/internal/config"
	"github.com/rickgao/deriv-stream/internal/session"
)

func main() {
	wsURL := flag.String("url", config.DefaultWSURL, "websocket endpoint")
	appID := flag.String("app-id", envOr("DERIV_APP_ID", "1089"), "application id")
	symbols := flag.String("symbols", "R_100", "comma separated symbols")
	token := flag.String("token", os.Getenv("DERIV_API_TOKEN"), "API token (optional)")
	quote := flag.Bool("quote", false, "request one proposal for the first symbol")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	api := config.APIConfig{WSURL: *wsURL, AppID: *appID, Language: config.DefaultLanguage}
	endpoint, err := api.Endpoint()
	if err != nil {
		logger.Error("invalid endpoint", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := session.DefaultConfig()
	cfg.Client.URL = endpoint
	sess := session.New(cfg, logger)
	defer sess.Close()

	if err := sess.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected", "url", *wsURL)

	if *token != "" {
		if err := sess.Login(ctx, *token); err != nil {
			logger.Error("authorization failed", "error", err)
			os.Exit(1)
		}
		snap := sess.Snapshot()
		logger.Info("authorized", "login_id", snap.LoginID, "currency", snap.Currency)
		if err := sess.SubscribeBalance(ctx); err != nil {
			logger.Error("subscribe balance failed", "error", err)
		}
	}

	list := splitSymbols(*symbols)
	for _, s := range list {
		if err := sess.SubscribeTicks(ctx, s); err != nil {
			logger.Error("subscribe failed", "symbol", s, "error", err)
			os.Exit(1)
		}
	}

	if *quote && len(list) > 0 {
		q, err := sess.RequestProposal(ctx, session.ProposalRequest{
			Symbol:       list[0],
			ContractType: "CALL",
			Stake:        1,
			Currency:     "USD",
			Duration:     5,
			DurationUnit: "t",
		})
		if err != nil {
			logger.Error("proposal failed", "error", err)
		} else {
			fmt.Printf("[PROPOSAL] %s id=%s ask=%s payout=%s profit=%s\n",
				list[0], q.ID, q.AskPrice.StringFixed(2), q.Payout.StringFixed(2), q.ExpectedProfit.StringFixed(2))
		}
	}

	fmt.Println("\n=== Streaming (Ctrl+C to stop) ===")

	var count int
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n=== Received %d ticks ===\n", count)
			return
		case t := <-sess.Ticks():
			count++
			fmt.Printf("[TICK] %s %.5f %s\n", t.Symbol, t.Price, t.Time.Format(time.RFC3339))
		case b := <-sess.Balances():
			fmt.Printf("[BALANCE] %s %s\n", b.Balance.StringFixed(2), b.Currency)
		case c := <-sess.Closed():
			fmt.Printf("[CLOSED] %s\n", c.Reason)
		case r := <-sess.Reconnects():
			fmt.Printf("[RECONNECT] %s attempt=%d\n", r.Kind, r.Attempt)
		}
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
