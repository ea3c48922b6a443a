package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"pulse/internal/api"
	"pulse/internal/api/handlers"
	"pulse/internal/api/middleware"
	"pulse/internal/engine/events"
	"pulse/internal/engine/guard"
	"pulse/internal/engine/publish"
	"pulse/internal/platform/config"
	"pulse/internal/platform/database"
	"pulse/internal/platform/repositories"
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

	// Event log: buffered writes, one flush loop per process
	eventLog := events.NewLog(events.NewRepository(db), events.Options{
		BufferSize:    cfg.Events.BufferSize,
		BatchSize:     cfg.Events.BatchSize,
		FlushInterval: cfg.Events.FlushInterval,
	})
	go eventLog.Run(ctx)

	// Guard
	webhookConfigRepo := repositories.NewWebhookConfigRepository(db)
	limiter := guard.NewLimiter(nil)
	guardSvc := guard.NewService(webhookConfigRepo, limiter, eventLog, nil)

	// The rate-limit window table lives in this process, so its sweep does too
	go func() {
		ticker := time.NewTicker(cfg.Guard.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			workers.SweepRateLimits(limiter)
		}
	}()

	// Orchestrator
	var engineSigner *guard.Signer
	if cfg.Publish.EngineSecret != "" && cfg.Publish.EngineSalt != "" {
		engineSigner, err = guard.NewSignerFromSecret(cfg.Publish.EngineSecret, cfg.Publish.EngineSalt)
		if err != nil {
			log.Fatalf("Invalid engine signing salt: %v", err)
		}
	}

	publishRepo := publish.NewRepository(db)
	registry := publish.NewRegistry()
	for platform, pcfg := range cfg.Publish.Platforms {
		if pcfg.BaseURL == "" {
			continue
		}
		registry.Register(publish.NewAPIAdapter(platform, pcfg.BaseURL, pcfg.Token, cfg.Publish.AdapterTimeout, engineSigner))
	}

	orch := publish.NewOrchestrator(publishRepo, registry, eventLog, publish.Options{
		MaxAttempts:    cfg.Publish.MaxAttempts,
		AdapterTimeout: cfg.Publish.AdapterTimeout,
		InterItemDelay: cfg.Publish.InterItemDelay,
		RetryBackoff:   cfg.Publish.RetryBackoff,
	})

	// Handlers
	deps := &api.Dependencies{
		WebhookHandler:  handlers.NewWebhookHandler(guardSvc, orch),
		AssetHandler:    handlers.NewAssetHandler(publishRepo, orch),
		PublishHandler:  handlers.NewPublishHandler(publishRepo, orch, cfg.Publish.EngineURL, engineSigner),
		EventHandler:    handlers.NewEventHandler(eventLog),
		ConfigHandler:   handlers.NewConfigHandler(webhookConfigRepo, cfg.Guard),
		AccountHandler:  handlers.NewAccountHandler(publishRepo, registry),
		HealthHandler:   handlers.NewHealthHandler(db),
		ActorMiddleware: middleware.NewActorMiddleware(cfg.Actor.JWTSecret),
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("Server starting on %s", addr)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
