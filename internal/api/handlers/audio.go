package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/generation"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/queue"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
)

// NarrationEnqueuer schedules narration jobs. *queue.Client is the production
// implementation.
type NarrationEnqueuer interface {
	EnqueueNarrationGenerate(p queue.NarrationGeneratePayload) error
}

// AudioHandler serves the narration surface: generation control, status
// polling, the segmented manifest and the finished artifact.
type AudioHandler struct {
	store    *generation.Store
	segments *hls.SegmentStore
	storage  storage.Storage
	bucket   string
	queue    NarrationEnqueuer

	segmentSeconds int
}

func NewAudioHandler(store *generation.Store, segments *hls.SegmentStore, st storage.Storage,
	bucket string, qc NarrationEnqueuer, segmentSeconds int) *AudioHandler {
	return &AudioHandler{
		store:          store,
		segments:       segments,
		storage:        st,
		bucket:         bucket,
		queue:          qc,
		segmentSeconds: segmentSeconds,
	}
}

type generateRequest struct {
	SpeakerVoiceOverrides map[string]string `json:"speaker_voice_overrides,omitempty"`
}

// Generate kicks off a narration job. A session that is already generating
// is rejected; a session that is already ready is reported as such without
// re-running the job.
func (h *AudioHandler) Generate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req generateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	state, err := h.store.Snapshot(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if state.Status == generation.StatusReady {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	if err := h.store.Begin(r.Context(), sessionID, req.SpeakerVoiceOverrides); err != nil {
		if errors.Is(err, generation.ErrAlreadyGenerating) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "generating"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.queue.EnqueueNarrationGenerate(queue.NarrationGeneratePayload{
		SessionID: sessionID,
		Overrides: req.SpeakerVoiceOverrides,
	}); err != nil {
		h.store.Fail(r.Context(), sessionID, "failed to schedule generation")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// Status reports the point-in-time generation snapshot. The manifest URL is
// included only once at least one segment exists.
func (h *AudioHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.store.Snapshot(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := map[string]interface{}{
		"status":           string(state.Status),
		"duration_seconds": state.DurationSeconds,
	}
	if len(state.Segments) > 0 {
		resp["url"] = fmt.Sprintf("/audio/hls/%s/stream.m3u8", sessionID)
	}
	if state.Error != "" {
		resp["error"] = state.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

// Manifest renders the current media playlist. 404 until the first segment
// is published; the playback client treats that as a transient condition
// while generation is in flight.
func (h *AudioHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.store.Snapshot(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(state.Segments) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "manifest not available yet"})
		return
	}

	playlist := &hls.Playlist{
		TargetDuration: h.segmentSeconds,
		Ended:          state.Status == generation.StatusReady,
	}
	for _, s := range state.Segments {
		playlist.Segments = append(playlist.Segments, hls.Segment{
			Sequence: s.Sequence,
			Duration: s.Duration,
			URI:      fmt.Sprintf("%d.wav", s.Sequence),
		})
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, playlist.Render())
}

// Segment serves one manifest segment as a self-contained WAV.
func (h *AudioHandler) Segment(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	name := chi.URLParam(r, "segment")

	seq, err := strconv.Atoi(strings.TrimSuffix(name, ".wav"))
	if err != nil || seq < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid segment name"})
		return
	}

	data, err := h.segments.Get(r.Context(), sessionID, seq)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "segment not found"})
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(data)
}

// Reset drops all server-side generation state for the session. Idempotent:
// resetting a session that has nothing succeeds.
func (h *AudioHandler) Reset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.store.Snapshot(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.store.Reset(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if len(state.Segments) > 0 {
		if err := h.segments.DeleteSession(r.Context(), sessionID, len(state.Segments)); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		h.storage.Delete(r.Context(), h.bucket, fmt.Sprintf("%s/narration.wav", sessionID))
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Download streams the finished narration artifact. Only available once the
// session is ready.
func (h *AudioHandler) Download(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.store.Snapshot(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if state.Status != generation.StatusReady {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "narration is not ready"})
		return
	}

	rc, err := h.storage.Download(r.Context(), h.bucket, fmt.Sprintf("%s/narration.wav", sessionID))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sessionID+".wav"))
	io.Copy(w, rc)
}
