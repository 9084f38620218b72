package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/api/handlers"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/api/middleware"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/cache"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/config"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/generation"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/queue"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/voices"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
	}
}

func (rt *Router) Setup() (http.Handler, error) {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Initialize services
	var store storage.Storage
	if rt.cfg.Storage.SupabaseURL != "" {
		store = storage.NewSupabaseStorage(rt.cfg.Storage.SupabaseURL, rt.cfg.Storage.SupabaseKey)
	} else {
		store = storage.NewMemoryStorage()
	}

	redisCache := cache.NewCache(rt.redis)
	genStore := generation.NewStore(redisCache)

	segments, err := hls.NewSegmentStore(store, rt.cfg.Storage.Bucket)
	if err != nil {
		return nil, err
	}

	voiceSvc := voices.NewService(rt.db, redisCache, store, rt.cfg.Storage.Bucket)
	queueClient := queue.NewClient(rt.cfg.Redis)

	audioH := handlers.NewAudioHandler(genStore, segments, store, rt.cfg.Storage.Bucket,
		queueClient, rt.cfg.Generation.SegmentSeconds)
	previewH := handlers.NewPreviewHandler(genStore, segments)
	voicesH := handlers.NewVoicesHandler(voiceSvc)

	r.Route("/audio", func(r chi.Router) {
		r.Post("/generate/{sessionID}", audioH.Generate)
		r.Get("/status/{sessionID}", audioH.Status)
		r.Post("/reset/{sessionID}", audioH.Reset)
		r.Get("/download/{sessionID}", audioH.Download)
		r.Get("/preview/{sessionID}", previewH.Stream)

		r.Route("/hls/{sessionID}", func(r chi.Router) {
			r.Get("/stream.m3u8", audioH.Manifest)
			r.Get("/{segment}", audioH.Segment)
		})

		r.Get("/voices", voicesH.List)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/voices", voicesH.Upload)
	})

	return r, nil
}
