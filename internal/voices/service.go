package voices

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/cache"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
)

// Profile is one entry in the voice catalog. Builtin profiles are seeded by
// migration and read-only; uploaded profiles are appended by the upload flow
// and only ever removed server-side.
type Profile struct {
	ID          string `json:"voice_id"`
	DisplayName string `json:"display_name"`
	SourceKind  string `json:"source_kind"` // "builtin" or "uploaded"
}

// ErrCatalogUnavailable is returned when the service runs without a database.
// The API still starts in that degraded mode; only the voice routes refuse.
var ErrCatalogUnavailable = errors.New("voice catalog unavailable")

const (
	SourceBuiltin  = "builtin"
	SourceUploaded = "uploaded"

	catalogCacheKey = "voices:catalog"
	catalogCacheTTL = 5 * time.Minute
)

// Service owns the voice catalog: pgx for persistence, redis for the
// read-mostly catalog cache, object storage for uploaded samples. The cache is
// invalidated wholesale and re-fetched, never patched in place.
type Service struct {
	db      *pgxpool.Pool
	cache   *cache.Cache
	storage storage.Storage
	bucket  string
}

func NewService(db *pgxpool.Pool, c *cache.Cache, st storage.Storage, bucket string) *Service {
	return &Service{db: db, cache: c, storage: st, bucket: bucket}
}

// List returns the full catalog, builtin profiles first.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	if s.cache != nil {
		var cached []Profile
		if err := s.cache.Get(ctx, catalogCacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	if s.db == nil {
		return nil, ErrCatalogUnavailable
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, display_name, source_kind FROM voices ORDER BY source_kind, display_name`)
	if err != nil {
		return nil, fmt.Errorf("query voices: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.SourceKind); err != nil {
			return nil, fmt.Errorf("scan voice: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voices: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, catalogCacheKey, profiles, catalogCacheTTL); err != nil {
			slog.Warn("voice catalog cache set failed", "error", err)
		}
	}
	return profiles, nil
}

// Exists reports whether a voice id is present in the catalog.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	profiles, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Upload validates and stores a user-recorded voice sample, appends the
// profile to the catalog and drops the catalog cache so readers re-fetch.
func (s *Service) Upload(ctx context.Context, name string, sample []byte) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("voice name is required")
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("voice sample is empty")
	}
	if s.db == nil {
		return nil, ErrCatalogUnavailable
	}

	// The sample must be a playable container before anything is persisted.
	samples, rate, err := audio.DecodeWAV(sample)
	if err != nil {
		return nil, fmt.Errorf("invalid voice sample: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("voice sample contains no audio")
	}

	id := uuid.New().String()
	path := fmt.Sprintf("voices/%s.wav", id)
	if err := s.storage.Upload(ctx, s.bucket, path, bytes.NewReader(sample), "audio/wav"); err != nil {
		return nil, fmt.Errorf("store voice sample: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO voices (id, display_name, source_kind, sample_path) VALUES ($1, $2, $3, $4)`,
		id, name, SourceUploaded, path)
	if err != nil {
		return nil, fmt.Errorf("insert voice: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, catalogCacheKey); err != nil {
			slog.Warn("voice catalog cache invalidation failed", "error", err)
		}
	}

	slog.Info("voice uploaded", "voice_id", id, "name", name,
		"sample_seconds", audio.Duration(len(samples), rate))
	return &Profile{ID: id, DisplayName: name, SourceKind: SourceUploaded}, nil
}
