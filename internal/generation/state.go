package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/cache"
)

// Status values mirror the wire form served by /audio/status.
type Status string

const (
	StatusNotGenerated Status = "not_generated"
	StatusGenerating   Status = "generating"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// ErrAlreadyGenerating guards against a second generate call racing an
// in-flight job for the same session.
var ErrAlreadyGenerating = errors.New("generation already in progress")

// SegmentMeta records one published manifest segment.
type SegmentMeta struct {
	Sequence int     `json:"sequence"`
	Duration float64 `json:"duration"`
}

// State is the server-side generation record for one session. Duration is
// monotonically non-decreasing while generating; it only moves when a segment
// is committed.
type State struct {
	Status          Status            `json:"status"`
	DurationSeconds float64           `json:"duration_seconds"`
	Segments        []SegmentMeta     `json:"segments"`
	Overrides       map[string]string `json:"overrides,omitempty"`
	Error           string            `json:"error,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

const stateTTL = 24 * time.Hour

// StateCache is the slice of the cache surface the store needs. *cache.Cache
// satisfies it; tests substitute an in-memory map.
type StateCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ StateCache = (*cache.Cache)(nil)

// Store keeps generation state in redis. One worker owns a session's state at
// a time (the Begin guard enforces it), so read-modify-write is safe here.
type Store struct {
	cache StateCache
}

func NewStore(c StateCache) *Store {
	return &Store{cache: c}
}

func stateKey(sessionID string) string {
	return "narration:session:" + sessionID
}

// Begin transitions a session into generating. Returns ErrAlreadyGenerating
// if a job is in flight.
func (s *Store) Begin(ctx context.Context, sessionID string, overrides map[string]string) error {
	var existing State
	err := s.cache.Get(ctx, stateKey(sessionID), &existing)
	if err == nil && existing.Status == StatusGenerating {
		return ErrAlreadyGenerating
	}
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return fmt.Errorf("read generation state: %w", err)
	}

	state := State{
		Status:    StatusGenerating,
		Overrides: overrides,
		UpdatedAt: time.Now(),
	}
	return s.cache.Set(ctx, stateKey(sessionID), state, stateTTL)
}

// AppendSegment publishes one more manifest segment and advances duration.
func (s *Store) AppendSegment(ctx context.Context, sessionID string, duration float64) (int, error) {
	state, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	seq := len(state.Segments)
	state.Segments = append(state.Segments, SegmentMeta{Sequence: seq, Duration: duration})
	state.DurationSeconds += duration
	state.UpdatedAt = time.Now()
	if err := s.cache.Set(ctx, stateKey(sessionID), state, stateTTL); err != nil {
		return 0, fmt.Errorf("write generation state: %w", err)
	}
	return seq, nil
}

// Complete marks the session ready. Duration stays at the committed total.
func (s *Store) Complete(ctx context.Context, sessionID string) error {
	state, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		return err
	}
	state.Status = StatusReady
	state.UpdatedAt = time.Now()
	return s.cache.Set(ctx, stateKey(sessionID), state, stateTTL)
}

// Fail marks the session errored with a human-readable reason.
func (s *Store) Fail(ctx context.Context, sessionID, reason string) error {
	state, err := s.Snapshot(ctx, sessionID)
	if err != nil {
		state = State{}
	}
	state.Status = StatusError
	state.Error = reason
	state.UpdatedAt = time.Now()
	return s.cache.Set(ctx, stateKey(sessionID), state, stateTTL)
}

// Reset drops all server-side state for the session. Idempotent.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	return s.cache.Delete(ctx, stateKey(sessionID))
}

// Snapshot returns the current state; sessions with no record read as
// not_generated.
func (s *Store) Snapshot(ctx context.Context, sessionID string) (State, error) {
	var state State
	err := s.cache.Get(ctx, stateKey(sessionID), &state)
	if errors.Is(err, cache.ErrMiss) {
		return State{Status: StatusNotGenerated}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read generation state: %w", err)
	}
	return state, nil
}
