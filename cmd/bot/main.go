// Polymarket LP Farmer — an automated liquidity-provision bot for Polymarket
// binary prediction markets.
//
// Architecture:
//
//	main.go             — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/engine.go    — control loop: place near the touch, flip on fill, crash and unwind policies
//	orders/manager.go   — sole authority over orders and position: risk guards, fills, persistence
//	market/book.go      — order book snapshots and reward-zone placement prices
//	market/picker.go    — resolves a market slug to token IDs via the Gamma API
//	exchange/clob.go    — REST client for the Polymarket CLOB (place/cancel orders, fetch book)
//	exchange/auth.go    — L1 (EIP-712) and L2 (HMAC) authentication for the Polymarket API
//	exchange/ws.go      — user WebSocket feed (fills/order updates) with auto-reconnect
//	exchange/sim.go     — in-memory exchange for dry-run mode
//	store/store.go      — crash-safe JSON persistence for session state
//	journal/journal.go  — SQLite history of sessions and fills
//
// How it makes money:
//
//	Polymarket pays liquidity rewards to resting orders near the midpoint.
//	The bot keeps one passive order inside the reward band, flips to the
//	opposite side when it fills, and earns rewards plus the occasional
//	spread capture, while hard risk limits cap the downside.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"polymarket-lp/internal/config"
	"polymarket-lp/internal/engine"
	"polymarket-lp/internal/exchange"
	"polymarket-lp/internal/journal"
	"polymarket-lp/internal/market"
	"polymarket-lp/internal/notify"
	"polymarket-lp/internal/orders"
	"polymarket-lp/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Exchange client: simulated book in dry-run, the real CLOB otherwise.
	var client exchange.Client
	var feed *exchange.UserFeed
	if cfg.DryRun {
		client = exchange.NewSimClient(logger)
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	} else {
		auth, err := exchange.NewAuth(*cfg)
		if err != nil {
			logger.Error("failed to set up wallet auth", "error", err)
			os.Exit(1)
		}
		clob := exchange.NewCLOBClient(*cfg, auth, logger)
		if !auth.HasL2Credentials() {
			if _, err := clob.DeriveAPIKey(ctx); err != nil {
				logger.Error("failed to derive API credentials", "error", err)
				os.Exit(1)
			}
			logger.Info("derived L2 API credentials", "address", auth.Address())
		}
		client = clob
		feed = exchange.NewUserFeed(cfg.API.WSUserURL, auth, logger)
	}

	st, err := store.Open(cfg.Store.StateFile)
	if err != nil {
		logger.Error("failed to open state store", "error", err, "path", cfg.Store.StateFile)
		os.Exit(1)
	}

	jr, err := journal.Open(cfg.Journal.Path, cfg.Journal.RetainSessions, logger)
	if err != nil {
		logger.Error("failed to open journal", "error", err, "path", cfg.Journal.Path)
		os.Exit(1)
	}
	defer jr.Close()

	var sink notify.Sink
	if cfg.Telegram.Enabled {
		sink = notify.NewTelegram(cfg.Telegram, logger)
	} else {
		sink = notify.NewLogSink(logger)
	}

	mgr, err := orders.NewManager(*cfg, client, st, jr, sink,
		orders.NewRandomFillSim(time.Now().UnixNano(), 0.10), logger)
	if err != nil {
		logger.Error("failed to create order manager", "error", err)
		os.Exit(1)
	}
	mgr.StartupRecovery(ctx)

	picker := market.NewGammaPicker(*cfg, logger)
	reader := market.NewReader(client, cfg.Farming.MaxSpread, logger)
	eng := engine.New(*cfg, mgr, reader, sink, logger)

	ref, err := picker.Resolve(ctx, cfg.Farming.Market)
	if err != nil {
		logger.Error("failed to resolve market", "error", err, "slug", cfg.Farming.Market)
		os.Exit(1)
	}

	if feed != nil {
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("user feed stopped", "error", err)
			}
		}()
		if err := feed.Subscribe([]string{ref.ConditionID}); err != nil {
			logger.Warn("user feed subscription failed", "error", err)
		}
		// Fills arrive over the feed faster than the polling tick; nudge
		// the engine to check as soon as a trade lands.
		go func() {
			for range feed.TradeEvents() {
				eng.FillHint()
			}
		}()
		go func() {
			for range feed.OrderEvents() {
				eng.FillHint()
			}
		}()
	}

	if err := eng.Start(ctx, *ref); err != nil {
		logger.Error("failed to start farming", "error", err)
		os.Exit(1)
	}

	logger.Info("lp farmer started",
		"market", ref.Slug,
		"order_size", cfg.Farming.OrderSizeUSD,
		"max_capital", cfg.Risk.MaxLPCapital,
		"dry_run", cfg.DryRun,
	)

	<-ctx.Done()
	logger.Info("received shutdown signal")

	// The engine's Stop must not share the cancelled signal context.
	eng.Stop(context.Background())
	logger.Info("shutdown complete")
}

// newLogger builds the slog logger: stdout always, plus a rotating file
// when logging.file is set.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err == nil {
			w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				Compress:   true,
			})
		}
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
