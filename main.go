// Command crossypost is the cross-posting Telegram bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the publish worker pool and the Telegram long-poll loop.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/crossypost/config"
	"github.com/onnwee/crossypost/conversation"
	"github.com/onnwee/crossypost/credstore"
	"github.com/onnwee/crossypost/db"
	"github.com/onnwee/crossypost/platform"
	"github.com/onnwee/crossypost/publish"
	"github.com/onnwee/crossypost/server"
	"github.com/onnwee/crossypost/telegram"
	"github.com/onnwee/crossypost/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Error("bot not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("crossypost", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; fall back to embedded SQL for deployments
	// that predate the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	downloadDir := cfg.DownloadDir
	if !filepath.IsAbs(downloadDir) {
		downloadDir = filepath.Join(cfg.DataDir, downloadDir)
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		slog.Error("failed to create download dir", slog.String("dir", downloadDir), slog.Any("err", err))
		os.Exit(1)
	}
	// Publishes are not resumable; anything left from a previous run is trash.
	publish.SweepDownloads(downloadDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := platform.NewRegistry(
		platform.Descriptor{ID: platform.YouTube, Name: "YouTube Shorts", Emoji: "▶️", Publisher: platform.NewYouTube(cfg)},
		platform.Descriptor{ID: platform.VK, Name: "VK Clips", Emoji: "📱", Publisher: platform.NewVK(cfg)},
		platform.Descriptor{ID: platform.Instagram, Name: "Instagram Reels", Emoji: "📸", Publisher: platform.NewInstagram()},
		platform.Descriptor{ID: platform.TikTok, Name: "TikTok", Emoji: "🎵", Publisher: platform.NewTikTok(cfg)},
	)
	creds := credstore.New(database, reg)

	client := telegram.NewClient(cfg.BotToken)
	me, err := client.GetMe(ctx)
	if err != nil {
		slog.Error("telegram token check failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("bot authorized", slog.String("username", me.Username))
	if err := client.SetMyCommands(ctx, conversation.Commands()); err != nil {
		slog.Warn("command menu registration failed", slog.Any("err", err))
	}

	orch := &publish.Orchestrator{Downloader: client, DownloadDir: downloadDir, DB: database}
	pool := publish.NewPool(orch, cfg.PublishQueue)
	pool.Start(ctx, cfg.PublishWorkers)

	manager := conversation.NewManager(client, reg, creds, pool)

	go client.Poll(ctx, 30, func(uctx context.Context, u telegram.Update) {
		telemetry.UpdatesReceived.Inc()
		manager.HandleUpdate(uctx, u)
	})

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		slog.Info("http server listening", slog.String("addr", addr))
		if err := server.Start(ctx, database, pool, addr); err != nil {
			slog.Error("http server exited", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	// Give in-flight publishes a moment to report before the process exits.
	time.Sleep(500 * time.Millisecond)
}
