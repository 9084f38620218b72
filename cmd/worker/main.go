package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/cache"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/config"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/database"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/generation"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/queue"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/queue/workers"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/tts"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/voices"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var store storage.Storage
	if cfg.Storage.SupabaseURL != "" {
		store = storage.NewSupabaseStorage(cfg.Storage.SupabaseURL, cfg.Storage.SupabaseKey)
	} else {
		store = storage.NewMemoryStorage()
	}

	redisCache := cache.NewCache(rdb)
	genStore := generation.NewStore(redisCache)

	segments, err := hls.NewSegmentStore(store, cfg.Storage.Bucket)
	if err != nil {
		slog.Error("failed to create segment store", "error", err)
		os.Exit(1)
	}

	// Voice catalog is optional in the worker; without it overrides are
	// passed through unvalidated.
	var catalog *voices.Service
	if db, err := database.NewPool(ctx, cfg.Database); err != nil {
		slog.Warn("database unavailable, skipping voice validation", "error", err)
	} else {
		defer db.Close()
		catalog = voices.NewService(db, redisCache, store, cfg.Storage.Bucket)
	}

	provider, err := tts.NewFromConfig(cfg.TTS)
	if err != nil {
		slog.Error("failed to create TTS provider", "error", err)
		os.Exit(1)
	}

	scripts := generation.NewHTTPScriptSource(cfg.Generation.ScriptServiceURL)
	synth := generation.NewSynthesizer(genStore, scripts, provider, catalog, segments,
		store, cfg.Storage.Bucket, cfg.Generation.SegmentSeconds, cfg.Generation.SynthesisWorkers).
		WithNotifier(webhook.NewNotifier(cfg.Generation.WebhookURL, cfg.Generation.WebhookSecret))

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()
	narrationWorker := workers.NewNarrationWorker(synth)
	registry.Register(queue.TypeNarrationGenerate, asynq.HandlerFunc(narrationWorker.ProcessTask))

	slog.Info("starting narration worker", "tts_backend", provider.Name())
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
