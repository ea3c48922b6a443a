package main

import (
	"context"
	"log"
	"time"

	"pulse/internal/engine/events"
	"pulse/internal/engine/publish"
	"pulse/internal/platform/config"
	"pulse/internal/platform/database"
	"pulse/internal/pkg/logger"
	"pulse/internal/workers"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventLog := events.NewLog(events.NewRepository(db), events.Options{
		BufferSize:    cfg.Events.BufferSize,
		BatchSize:     cfg.Events.BatchSize,
		FlushInterval: cfg.Events.FlushInterval,
	})
	go eventLog.Run(ctx)

	registry := newRegistry(cfg)
	orch := publish.NewOrchestrator(publish.NewRepository(db), registry, eventLog, publish.Options{
		MaxAttempts:    cfg.Publish.MaxAttempts,
		AdapterTimeout: cfg.Publish.AdapterTimeout,
		RetryBackoff:   cfg.Publish.RetryBackoff,
	})

	// Event retention
	go runTicker(time.Hour, func() { workers.PurgeEvents(eventLog, cfg.Events.RetentionDays) })

	// Stale in-flight reconciliation
	go runTicker(time.Minute, func() { workers.ReconcilePublishing(orch, cfg.Publish.PublishingTTL) })

	// Retry scheduler
	go runTicker(time.Minute, func() { workers.RetryFailedDestinations(ctx, orch) })

	log.Println("Pulse workers started")
	select {}
}

func runTicker(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		fn()
	}
}

func newRegistry(cfg *config.Config) *publish.Registry {
	registry := publish.NewRegistry()
	for platform, pcfg := range cfg.Publish.Platforms {
		if pcfg.BaseURL == "" {
			continue
		}
		registry.Register(publish.NewAPIAdapter(platform, pcfg.BaseURL, pcfg.Token, cfg.Publish.AdapterTimeout, nil))
	}
	return registry
}
