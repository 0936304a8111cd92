package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grainery.core/internal/adapters/archive/sqlite"
	redisindex "grainery.core/internal/adapters/cacheindex/redis"
	"grainery.core/internal/adapters/catalog"
	http_handler "grainery.core/internal/adapters/handler/http"
	"grainery.core/internal/adapters/resource"
	"grainery.core/internal/config"
	"grainery.core/internal/core/cache"
	"grainery.core/internal/core/logger"
	"grainery.core/internal/core/ports"
	"grainery.core/internal/core/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting grainery companion", "version", "0.1.0", "server", cfg.ServerURL)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// The catalog client serves four ports: capability probe, one-shot
	// compute, batch API and network fetch.
	client := catalog.NewClient(cfg.ServerURL, cfg.RequestTimeout)
	reader := resource.NewReader("")

	resourceCache := cache.New(cache.Options{
		MaxEntries:      cfg.CacheMaxEntries,
		MaxBytes:        cfg.CacheMaxBytes,
		TTL:             cfg.CacheTTL,
		WarmConcurrency: cfg.WarmConcurrency,
	}, reader, client)
	resourceCache.StartSweeper(ctx, cfg.CacheSweep)

	// Optional warm-start index.
	var cacheIndex ports.CacheIndex
	if cfg.RedisURL != "" {
		index, redisClient, err := redisindex.NewIndex(cfg.RedisURL)
		if err != nil {
			logger.Warn("warm-start index unavailable", "error", err)
		} else {
			defer redisClient.Close()
			cacheIndex = index
			if locators, err := index.Load(ctx); err == nil && len(locators) > 0 {
				logger.Info("re-warming cache from index", "locators", len(locators))
				resourceCache.Warm(ctx, locators)
			}
		}
	}

	registry := services.NewCapabilityRegistry(client, cfg.CapabilityTTL)

	// No local executor is registered by default: devices without a GPU
	// pipeline surface LocalExecutorUnavailable when local execution is
	// selected. Device builds install theirs here.
	var executor ports.LocalExecutor
	dispatcher := services.NewDispatcher(registry, client, executor, resourceCache)

	var archive ports.JobArchive
	if cfg.ArchivePath != "" {
		a, err := sqlite.New(cfg.ArchivePath)
		if err != nil {
			logger.Warn("job history archive unavailable", "path", cfg.ArchivePath, "error", err)
		} else {
			archive = a
			defer a.Close()
		}
	}

	hub := http_handler.NewHub()
	go hub.Run()

	controller := services.NewJobController(
		dispatcher, client, executor, resourceCache, archive,
		services.PollPolicy{
			Interval:      cfg.PollInterval,
			ErrorInterval: cfg.PollErrorInterval,
		},
		hub.BroadcastJob,
	)

	server := http_handler.NewServer(controller, dispatcher, resourceCache, registry, archive, hub)

	go func() {
		logger.Info("facade listening", "port", cfg.HTTPPort)
		if err := server.Run(":" + cfg.HTTPPort); err != nil {
			logger.Error("facade server failed", "error", err)
			log.Fatalf("failed to serve http: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	controller.Shutdown()
	stop()

	if cacheIndex != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cacheIndex.Save(saveCtx, resourceCache.ResidentLocators()); err != nil {
			logger.Warn("saving warm-start index failed", "error", err)
		}
	}
}
