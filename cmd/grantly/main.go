// Package main provides the main entry point for the Grantly auth server
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/grantly/grantly/api"
	"github.com/grantly/grantly/pkg/cache"
	"github.com/grantly/grantly/pkg/config"
	"github.com/grantly/grantly/pkg/interfaces"
	"github.com/grantly/grantly/pkg/logger"
	"github.com/grantly/grantly/pkg/notify"
	"github.com/grantly/grantly/pkg/store"
)

// Version information (set by build process)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Command line flags
var (
	configFile  = flag.String("config", "", "Path to configuration file")
	logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Grantly %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, gracefully shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Application failed: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	appLogger := logger.NewConsoleLogger(cfg.LogLevel)
	appLogger.Info("Starting Grantly", map[string]interface{}{
		"version": Version,
	})

	repo, err := store.NewRepository(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	appCache, err := buildCache(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer appCache.Close()

	notifier, cleanup, err := buildNotifier(cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifiers: %w", err)
	}
	defer cleanup()

	server := api.NewServer(cfg, api.Deps{
		Users:    repo,
		Grants:   repo,
		Creds:    repo,
		Cache:    appCache,
		Notifier: notifier,
		Logger:   appLogger,
	})

	cfg.Watch(func(updated *config.Config) {
		appLogger.Info("Configuration reloaded", map[string]interface{}{
			"log_level": updated.LogLevel,
		})
	})

	return server.Start(ctx)
}

func buildCache(ctx context.Context, cfg *config.Config, log interfaces.Logger) (interfaces.Cache, error) {
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info("Using redis validation cache", map[string]interface{}{
			"host": cfg.Redis.Host,
			"port": cfg.Redis.Port,
		})
		return redisCache, nil
	}
	return cache.NewMemoryCache(), nil
}

func buildNotifier(cfg *config.Config, log interfaces.Logger) (interfaces.Notifier, func(), error) {
	var notifiers []interfaces.Notifier
	var closers []func()

	if cfg.NATS.Enabled {
		natsNotifier, err := notify.NewNATSNotifier(cfg.NATS)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, natsNotifier)
		closers = append(closers, func() { natsNotifier.Close() })
	}
	if cfg.Webhook.Enabled {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Webhook))
	}

	cleanup := func() {
		for _, close := range closers {
			close()
		}
	}
	return notify.NewMulti(log, notifiers...), cleanup, nil
}
