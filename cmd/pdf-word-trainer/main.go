package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/smith3v/pdf-word-trainer/pkg/cache"
	"github.com/smith3v/pdf-word-trainer/pkg/config"
	"github.com/smith3v/pdf-word-trainer/pkg/db"
	"github.com/smith3v/pdf-word-trainer/pkg/jobs"
	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/notify"
	"github.com/smith3v/pdf-word-trainer/pkg/progress"
	"github.com/smith3v/pdf-word-trainer/pkg/server"
	"github.com/smith3v/pdf-word-trainer/pkg/storage"
	"github.com/smith3v/pdf-word-trainer/pkg/training"
	"github.com/smith3v/pdf-word-trainer/pkg/translate"
)

const shutdownTimeout = 15 * time.Second

type cacheClearer struct {
	c cache.Cache
}

func (cc cacheClearer) ClearCache(ctx context.Context) error {
	return cc.c.Clear(ctx)
}

// clearerFor returns the gateway when it was built and the bare cache
// otherwise.
func clearerFor(gateway *translate.Gateway, c cache.Cache) server.CacheClearer {
	if gateway != nil {
		return gateway
	}
	return cacheClearer{c: c}
}

func main() {
	configPath := flag.String("config", "config.json", "Path to the JSON config file")
	clearCache := flag.Bool("clear-cache", false, "Clear the translation cache and exit")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		logger.Error("failed to load .env", "error", err)
	}
	if err := config.LoadConfig(*configPath); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.AppConfig
	if err := logger.Configure(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	translationCache, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Error("failed to initialize translation cache", "error", err)
		os.Exit(1)
	}
	defer translationCache.Close()

	if *clearCache {
		if err := translationCache.Clear(ctx); err != nil {
			logger.Error("failed to clear translation cache", "error", err)
			os.Exit(1)
		}
		logger.Info("translation cache cleared")
		return
	}

	if err := db.InitDB(cfg.Database); err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize document storage", "error", err)
		os.Exit(1)
	}

	policy, err := training.PolicyByName(cfg.Review.Policy)
	if err != nil {
		logger.Error("invalid review policy", "error", err)
		os.Exit(1)
	}

	// A missing API key is not fatal: jobs fail with gateway_unavailable and
	// everything else keeps working.
	gateway, gatewayErr := translate.NewFromConfig(cfg.Translation, translationCache, cfg.Cache.TTL.Duration)
	switch {
	case translate.IsUnavailable(gatewayErr):
		logger.Warn("translation gateway unavailable, jobs will fail", "error", gatewayErr)
	case gatewayErr != nil:
		logger.Error("failed to initialize translation gateway", "error", gatewayErr)
		os.Exit(1)
	}
	translator := func() (jobs.Translator, error) {
		if gatewayErr != nil {
			return nil, gatewayErr
		}
		return gateway, nil
	}

	hub := progress.NewHub()
	publishers := progress.Publishers{hub}
	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token)
		if err != nil {
			logger.Error("failed to create telegram bot, notifications disabled", "error", err)
		} else {
			notifier := notify.NewNotifier(notify.BotSender{B: b}, 0)
			go notifier.Run(ctx)
			publishers = append(publishers, notifier)
		}
	}

	runner := jobs.NewRunner(store, translator, publishers, jobs.OptionsFromConfig(cfg.Jobs, cfg.Translation))
	pool := jobs.NewPool(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	pool.Start(ctx)
	docs := jobs.NewService(store, pool, runner, cfg.Translation.SourceLanguage)

	sweeper := jobs.NewSweeper(jobs.SweeperOptions{
		RequeueAfter: cfg.Jobs.RequeueAfter.Duration,
		StuckAfter:   cfg.Jobs.StuckAfter.Duration,
	}, docs.Enqueue, publishers)
	if err := sweeper.Start(ctx, cfg.Jobs.SweepSchedule); err != nil {
		logger.Error("invalid sweep schedule", "schedule", cfg.Jobs.SweepSchedule, "error", err)
		os.Exit(1)
	}

	srv, err := server.New(docs, training.NewService(policy, nil), hub, clearerFor(gateway, translationCache),
		server.OptionsFromConfig(cfg.HTTP, cfg.Review))
	if err != nil {
		logger.Error("failed to configure http server", "error", err)
		os.Exit(1)
	}
	if !logger.Enabled(logger.DEBUG) {
		gin.SetMode(gin.ReleaseMode)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting http server...", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	sweeper.Stop()
	pool.Close()
}
