package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/cache"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/generation"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/queue"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
)

// memCache backs the generation store with an in-process map for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	val, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(val, dest)
}

func (m *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memCache) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.data, k)
	}
	m.mu.Unlock()
	return nil
}

// fakeEnqueuer records scheduled jobs instead of touching redis.
type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []queue.NarrationGeneratePayload
	err      error
}

func (f *fakeEnqueuer) EnqueueNarrationGenerate(p queue.NarrationGeneratePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeEnqueuer) enqueued() []queue.NarrationGeneratePayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.NarrationGeneratePayload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

type audioFixture struct {
	store    *generation.Store
	segments *hls.SegmentStore
	storage  storage.Storage
	enqueuer *fakeEnqueuer
	router   *chi.Mux
}

func newAudioFixture(t *testing.T) *audioFixture {
	t.Helper()

	st := storage.NewMemoryStorage()
	segments, err := hls.NewSegmentStore(st, "narrations")
	if err != nil {
		t.Fatalf("NewSegmentStore: %v", err)
	}

	f := &audioFixture{
		store:    generation.NewStore(newMemCache()),
		segments: segments,
		storage:  st,
		enqueuer: &fakeEnqueuer{},
	}

	h := NewAudioHandler(f.store, segments, st, "narrations", f.enqueuer, 4)
	r := chi.NewRouter()
	r.Post("/audio/generate/{sessionID}", h.Generate)
	r.Get("/audio/status/{sessionID}", h.Status)
	r.Post("/audio/reset/{sessionID}", h.Reset)
	r.Get("/audio/download/{sessionID}", h.Download)
	r.Get("/audio/hls/{sessionID}/stream.m3u8", h.Manifest)
	r.Get("/audio/hls/{sessionID}/{segment}", h.Segment)
	f.router = r
	return f
}

func (f *audioFixture) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestGenerateStartsJob(t *testing.T) {
	f := newAudioFixture(t)

	body := bytes.NewBufferString(`{"speaker_voice_overrides":{"narrator":"nova"}}`)
	rec := f.do(t, "POST", "/audio/generate/s1", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "started" {
		t.Fatalf("status field = %v, want started", got)
	}

	jobs := f.enqueuer.enqueued()
	if len(jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(jobs))
	}
	if jobs[0].SessionID != "s1" || jobs[0].Overrides["narrator"] != "nova" {
		t.Fatalf("unexpected payload: %+v", jobs[0])
	}

	state, _ := f.store.Snapshot(context.Background(), "s1")
	if state.Status != generation.StatusGenerating {
		t.Fatalf("state = %s, want generating", state.Status)
	}
}

func TestGenerateConflictsWhileInFlight(t *testing.T) {
	f := newAudioFixture(t)

	f.do(t, "POST", "/audio/generate/s1", nil)
	rec := f.do(t, "POST", "/audio/generate/s1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "generating" {
		t.Fatalf("status field = %v, want generating", got)
	}
	if len(f.enqueuer.enqueued()) != 1 {
		t.Fatal("conflicting generate enqueued a second job")
	}
}

func TestGenerateReadySessionIsNotRerun(t *testing.T) {
	f := newAudioFixture(t)
	ctx := context.Background()

	f.store.Begin(ctx, "s1", nil)
	f.store.AppendSegment(ctx, "s1", 4.0)
	f.store.Complete(ctx, "s1")

	rec := f.do(t, "POST", "/audio/generate/s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "ready" {
		t.Fatalf("status field = %v, want ready", got)
	}
	if len(f.enqueuer.enqueued()) != 0 {
		t.Fatal("ready session re-enqueued a job")
	}
}

func TestGenerateEnqueueFailureLandsInError(t *testing.T) {
	f := newAudioFixture(t)
	f.enqueuer.err = errors.New("redis down")

	rec := f.do(t, "POST", "/audio/generate/s1", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	state, _ := f.store.Snapshot(context.Background(), "s1")
	if state.Status != generation.StatusError {
		t.Fatalf("state = %s, want error", state.Status)
	}
}

func TestStatusIncludesManifestURLOncePartialAudioExists(t *testing.T) {
	f := newAudioFixture(t)
	ctx := context.Background()

	rec := f.do(t, "GET", "/audio/status/s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "not_generated" {
		t.Fatalf("status = %v, want not_generated", body["status"])
	}
	if _, ok := body["url"]; ok {
		t.Fatal("url present before any segment exists")
	}

	f.store.Begin(ctx, "s1", nil)
	f.store.AppendSegment(ctx, "s1", 4.0)
	f.store.AppendSegment(ctx, "s1", 3.5)

	body = decodeBody(t, f.do(t, "GET", "/audio/status/s1", nil))
	if body["status"] != "generating" {
		t.Fatalf("status = %v, want generating", body["status"])
	}
	if body["duration_seconds"] != 7.5 {
		t.Fatalf("duration = %v, want 7.5", body["duration_seconds"])
	}
	if body["url"] != "/audio/hls/s1/stream.m3u8" {
		t.Fatalf("url = %v", body["url"])
	}
}

func TestManifestLifecycle(t *testing.T) {
	f := newAudioFixture(t)
	ctx := context.Background()

	// 404 until the first segment is published.
	rec := f.do(t, "GET", "/audio/hls/s1/stream.m3u8", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	f.store.Begin(ctx, "s1", nil)
	f.store.AppendSegment(ctx, "s1", 4.0)
	f.store.AppendSegment(ctx, "s1", 2.5)

	rec = f.do(t, "GET", "/audio/hls/s1/stream.m3u8", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Fatalf("content type = %q", ct)
	}

	playlist, err := hls.Parse(rec.Body.String())
	if err != nil {
		t.Fatalf("parse rendered manifest: %v", err)
	}
	if len(playlist.Segments) != 2 {
		t.Fatalf("manifest has %d segments, want 2", len(playlist.Segments))
	}
	if playlist.Ended {
		t.Fatal("live manifest carries the end marker")
	}
	if playlist.Segments[0].URI != "0.wav" || playlist.Segments[1].URI != "1.wav" {
		t.Fatalf("segment URIs: %v", playlist.Segments)
	}

	f.store.Complete(ctx, "s1")
	playlist, err = hls.Parse(f.do(t, "GET", "/audio/hls/s1/stream.m3u8", nil).Body.String())
	if err != nil {
		t.Fatalf("parse final manifest: %v", err)
	}
	if !playlist.Ended {
		t.Fatal("final manifest missing the end marker")
	}
}

func TestSegmentServing(t *testing.T) {
	f := newAudioFixture(t)
	ctx := context.Background()

	seg := audio.EncodeWAV(make([]float32, 2400), audio.NarrationSampleRate)
	if err := f.segments.Put(ctx, "s1", 0, seg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec := f.do(t, "GET", "/audio/hls/s1/0.wav", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), seg) {
		t.Fatal("served segment bytes differ from stored bytes")
	}

	if rec := f.do(t, "GET", "/audio/hls/s1/9.wav", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing segment status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, "GET", "/audio/hls/s1/evil.wav", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad segment name status = %d, want 400", rec.Code)
	}
}

func TestResetIsIdempotent(t *testing.T) {
	f := newAudioFixture(t)
	ctx := context.Background()

	// Resetting a session with no state succeeds.
	if rec := f.do(t, "POST", "/audio/reset/s1", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	f.store.Begin(ctx, "s1", nil)
	f.store.AppendSegment(ctx, "s1", 4.0)
	f.segments.Put(ctx, "s1", 0, audio.EncodeWAV(make([]float32, 2400), audio.NarrationSampleRate))

	if rec := f.do(t, "POST", "/audio/reset/s1", nil); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := decodeBody(t, f.do(t, "GET", "/audio/status/s1", nil))
	if body["status"] != "not_generated" {
		t.Fatalf("status after reset = %v, want not_generated", body["status"])
	}
	if rec := f.do(t, "GET", "/audio/hls/s1/stream.m3u8", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("manifest after reset = %d, want 404", rec.Code)
	}
}

func TestDownloadRequiresReady(t *testing.T) {
	f := newAudioFixture(t)
	ctx := context.Background()

	f.store.Begin(ctx, "s1", nil)
	if rec := f.do(t, "GET", "/audio/download/s1", nil); rec.Code != http.StatusConflict {
		t.Fatalf("status while generating = %d, want 409", rec.Code)
	}

	artifact := audio.EncodeWAV(make([]float32, 24000), audio.NarrationSampleRate)
	if err := f.storage.Upload(ctx, "narrations", "s1/narration.wav",
		bytes.NewReader(artifact), "audio/wav"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	f.store.AppendSegment(ctx, "s1", 1.0)
	f.store.Complete(ctx, "s1")

	rec := f.do(t, "GET", "/audio/download/s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "s1.wav") {
		t.Fatalf("content disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if !bytes.Equal(rec.Body.Bytes(), artifact) {
		t.Fatal("downloaded artifact differs from stored artifact")
	}
}
