package hls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
)

// SegmentStore persists segment bytes in object storage with a hot in-memory
// cache in front. Segments for a live session are requested repeatedly by
// every attached player, so almost all reads hit the cache.
type SegmentStore struct {
	storage storage.Storage
	bucket  string
	cache   *bigcache.BigCache
}

func NewSegmentStore(st storage.Storage, bucket string) (*SegmentStore, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(60*time.Minute))
	if err != nil {
		return nil, fmt.Errorf("create segment cache: %w", err)
	}
	return &SegmentStore{storage: st, bucket: bucket, cache: cache}, nil
}

func segmentKey(sessionID string, seq int) string {
	return fmt.Sprintf("%s/%d.wav", sessionID, seq)
}

// Put stores the segment bytes and warms the cache.
func (s *SegmentStore) Put(ctx context.Context, sessionID string, seq int, data []byte) error {
	key := segmentKey(sessionID, seq)
	if err := s.storage.Upload(ctx, s.bucket, key, bytes.NewReader(data), "audio/wav"); err != nil {
		return fmt.Errorf("store segment %s: %w", key, err)
	}
	if err := s.cache.Set(key, data); err != nil {
		slog.Warn("segment cache set failed", "key", key, "error", err)
	}
	return nil
}

// Get returns the segment bytes, preferring the cache.
func (s *SegmentStore) Get(ctx context.Context, sessionID string, seq int) ([]byte, error) {
	key := segmentKey(sessionID, seq)
	if data, err := s.cache.Get(key); err == nil {
		return data, nil
	}

	rc, err := s.storage.Download(ctx, s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("load segment %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read segment %s: %w", key, err)
	}
	if err := s.cache.Set(key, data); err != nil {
		slog.Warn("segment cache set failed", "key", key, "error", err)
	}
	return data, nil
}

// DeleteSession drops all segments recorded for a session up to count.
// Cache entries expire on their own.
func (s *SegmentStore) DeleteSession(ctx context.Context, sessionID string, count int) error {
	for seq := 0; seq < count; seq++ {
		if err := s.storage.Delete(ctx, s.bucket, segmentKey(sessionID, seq)); err != nil {
			return fmt.Errorf("delete segment %d: %w", seq, err)
		}
	}
	return nil
}
