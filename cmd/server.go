package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadlens/leadlens/internal/config"
	"github.com/leadlens/leadlens/internal/gateway"
	"github.com/leadlens/leadlens/internal/gazetteer"
	"github.com/leadlens/leadlens/internal/orchestrator"
	"github.com/leadlens/leadlens/internal/relevance"
	"github.com/leadlens/leadlens/internal/replied"
	"github.com/leadlens/leadlens/internal/resolver"
	"github.com/leadlens/leadlens/internal/store"
	"github.com/leadlens/leadlens/internal/wa"
)

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the gateway server",
		Run: func(cmd *cobra.Command, args []string) {
			runServer()
		},
	}
}

func runServer() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts, err := openAccountStore(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open account store", "error", err)
		os.Exit(1)
	}
	defer accounts.Close()

	if password, created, err := accounts.EnsureAdmin(ctx); err != nil {
		slog.Error("failed to seed admin account", "error", err)
		os.Exit(1)
	} else if created {
		// Shown once; afterwards only the bcrypt hash exists.
		slog.Info("admin account created", "login", "admin", "password", password)
	}

	gaz, err := gazetteer.New(cfg.Gazetteer.Path)
	if err != nil {
		slog.Error("failed to load gazetteer", "error", err)
		os.Exit(1)
	}
	if cfg.Gazetteer.Path != "" {
		go func() {
			if err := gaz.Watch(ctx.Done()); err != nil {
				slog.Warn("gazetteer watch stopped", "error", err)
			}
		}()
	}

	repliedStore, err := replied.NewStore(cfg.Relevance.RepliedLog)
	if err != nil {
		slog.Error("failed to open replied log", "error", err)
		os.Exit(1)
	}

	browser := resolver.NewBrowserResolver(resolver.BrowserConfig{
		UserDataDir: cfg.Resolver.BrowserDataDir,
	})
	contactResolver, err := resolver.NewCache(browser, cfg.Resolver.CachePath)
	if err != nil {
		slog.Error("failed to open resolver cache", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(
		orchestrator.Config{
			AuthDir:        cfg.Sessions.AuthDir,
			PairingTimeout: cfg.PairingTimeout(),
			HistoryCap:     cfg.Sessions.HistoryCap,
		},
		bridgeFactory(cfg.Bridge),
	)

	engine := relevance.NewEngine(repliedStore, gaz,
		relevance.WithFetchLimit(cfg.Relevance.FetchLimit),
		relevance.WithConcurrency(cfg.Relevance.Concurrency),
	)

	gw := gateway.NewServer(
		gateway.Config{
			Host:           cfg.Gateway.Host,
			Port:           cfg.Gateway.Port,
			AllowedOrigins: cfg.Gateway.AllowedOrigins,
			RateLimitRPS:   cfg.Gateway.RateLimitRPS,
		},
		orch, engine, repliedStore, contactResolver,
	)

	if err := gw.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openAccountStore(path string) (*store.AccountStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.Open(path)
}

// bridgeFactory builds per-tenant clients speaking to the external
// whatsapp-web.js bridge process.
func bridgeFactory(cfg config.BridgeConfig) wa.Factory {
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return func(tenantID string) (wa.Client, error) {
		return wa.NewBridgeClient(wa.BridgeConfig{
			URL:         cfg.URL,
			CallTimeout: callTimeout,
		}, tenantID)
	}
}
