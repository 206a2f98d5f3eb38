package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/badge"
	"github.com/john/chatoverlay/internal/config"
	"github.com/john/chatoverlay/internal/emote"
	"github.com/john/chatoverlay/internal/message"
	"github.com/john/chatoverlay/internal/metrics"
	"github.com/john/chatoverlay/internal/overlay"
	"github.com/john/chatoverlay/internal/recorder"
	"github.com/john/chatoverlay/internal/session"
	"github.com/john/chatoverlay/internal/twitch"
	"github.com/john/chatoverlay/internal/uploader"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := godotenv.Load(); err != nil {
		logger.Debug(".env not loaded", zap.Error(err))
	}

	logger.Info("chatoverlay starting")

	// Get config path from environment variable or use default
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("load config", zap.String("path", configPath), zap.Error(err))
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("warning", w))
	}
	logger.Info("configuration loaded",
		zap.String("channel", cfg.Twitch.Channel),
		zap.Int("limit", cfg.Overlay.Limit.Value),
		zap.Duration("ttl", cfg.Overlay.TTL()),
		zap.Bool("archive", cfg.Archive.Enabled))

	metrics.Register()

	// Setup context and signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	events := make(chan message.Event, 256)

	hub := overlay.NewHub(logger)
	sess := session.New(logger, session.Options{
		Limit:        cfg.Overlay.Limit.Value,
		TTL:          cfg.Overlay.TTL(),
		Sweep:        cfg.Overlay.SweepInterval(),
		Scroll:       cfg.Overlay.Scroll,
		HideCommands: cfg.Overlay.HideCommands,
		ClearCommand: cfg.Overlay.ClearCommand,
		Exclude:      cfg.Overlay.ExclusionSet(),
	}, hub)

	twitchConn := twitch.New(logger, cfg.Twitch.Username, cfg.Twitch.OAuth, cfg.Twitch.Channel)
	server := overlay.New(logger, cfg.Server.Addr, cfg.Server.AllowedOrigins, hub, sess)

	// Archive components are optional
	var (
		rec     *recorder.Recorder
		up      *uploader.Uploader
		retired chan message.Record
		files   chan string
	)
	if cfg.Archive.Enabled {
		retired = make(chan message.Record, cfg.Archive.BufferSize)
		sess.ArchiveTo(retired)
		rec = recorder.New(logger, cfg.Archive.OutputDir, cfg.Archive.BufferSize,
			cfg.Archive.RotateMinutes, cfg.Archive.RotateMegabytes)

		if cfg.S3.Bucket != "" {
			files = make(chan string, 100)
			up, err = uploader.New(ctx, logger, uploader.Options{
				Bucket:          cfg.S3.Bucket,
				Region:          cfg.S3.Region,
				RoleARN:         cfg.S3.RoleARN,
				AccessKeyID:     cfg.S3.AccessKeyID,
				SecretAccessKey: cfg.S3.SecretAccessKey,
				Endpoint:        cfg.S3.Endpoint,
				DeleteAfter:     cfg.Uploader.DeleteAfterUpload,
				MaxRetries:      cfg.Uploader.MaxRetries,
			})
			if err != nil {
				logger.Fatal("create uploader", zap.Error(err))
			}
			if err := up.ScanAndUploadExisting(ctx, cfg.Archive.OutputDir); err != nil {
				logger.Warn("scan for existing files", zap.Error(err))
			}
		}
	}

	// Catalog sources decorate messages; without credentials only the
	// global third-party emotes load.
	sources := session.CatalogSources{
		Emotes:  emote.NewLoader(logger),
		Channel: cfg.Twitch.Channel,
	}
	if cfg.Twitch.ClientID != "" && cfg.Twitch.OAuth != "" {
		sources.Helix = badge.NewClient(cfg.Twitch.HelixURL, cfg.Twitch.ClientID, cfg.Twitch.OAuth)
	} else {
		logger.Info("no Twitch client id or token, badges disabled")
	}

	// Start all components
	var wg sync.WaitGroup

	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", zap.String("component", name), zap.Error(err))
			}
		}()
	}

	run("session", func() error { return sess.Start(ctx, events) })
	run("twitch", func() error { return twitchConn.Start(ctx, events) })
	run("catalogs", func() error {
		sess.LoadCatalogs(ctx, sources)
		return nil
	})
	run("overlay", server.Start)
	if rec != nil {
		run("recorder", func() error { return rec.Start(ctx, retired, files) })
	}
	if up != nil {
		run("uploader", func() error { return up.Start(ctx, files) })
	}

	logger.Info("all components started", zap.String("addr", cfg.Server.Addr))

	// Wait for shutdown signal
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, initiating graceful shutdown")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("overlay server shutdown", zap.Error(err))
		}

		// Cancel main context to stop other components
		cancel()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("all components stopped gracefully")
		case <-shutdownCtx.Done():
			logger.Warn("shutdown timeout exceeded, forcing exit")
		}

		_ = logger.Sync()
		os.Exit(0)
	}()

	wg.Wait()
	logger.Info("chatoverlay stopped")
}
