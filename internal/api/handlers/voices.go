package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/voices"
)

const maxVoiceSampleBytes = 32 << 20 // 32 MiB

type VoicesHandler struct {
	svc *voices.Service
}

func NewVoicesHandler(svc *voices.Service) *VoicesHandler {
	return &VoicesHandler{svc: svc}
}

// List returns the full voice catalog.
func (h *VoicesHandler) List(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.svc.List(r.Context())
	if err != nil {
		if errors.Is(err, voices.ErrCatalogUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if profiles == nil {
		profiles = []voices.Profile{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"voices": profiles})
}

// Upload accepts a multipart voice sample (fields: file, name) and appends a
// new uploaded profile to the catalog.
func (h *VoicesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxVoiceSampleBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file is required"})
		return
	}
	defer file.Close()

	sample, err := io.ReadAll(io.LimitReader(file, maxVoiceSampleBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read file"})
		return
	}
	if len(sample) > maxVoiceSampleBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "sample too large"})
		return
	}

	profile, err := h.svc.Upload(r.Context(), name, sample)
	if err != nil {
		if errors.Is(err, voices.ErrCatalogUnavailable) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     profile.ID,
		"name":   profile.DisplayName,
		"status": "ready",
	})
}
