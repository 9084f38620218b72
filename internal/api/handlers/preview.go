package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/generation"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
)

// PreviewHandler pushes raw PCM over a websocket as segments are published,
// giving clients a lower-latency path than manifest polling. Each binary
// message is the bare sample payload of one segment (container header
// stripped), in segment order.
type PreviewHandler struct {
	store    *generation.Store
	segments *hls.SegmentStore
	upgrader websocket.Upgrader
}

const (
	previewPollInterval = 500 * time.Millisecond
	previewWriteWait    = 10 * time.Second
	wavHeaderSize       = 44
)

func NewPreviewHandler(store *generation.Store, segments *hls.SegmentStore) *PreviewHandler {
	return &PreviewHandler{
		store:    store,
		segments: segments,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *PreviewHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("preview upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: the client never sends data, but reading is what
	// surfaces the close frame and cancels the stream promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(previewPollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		state, err := h.store.Snapshot(r.Context(), sessionID)
		if err != nil {
			slog.Warn("preview snapshot failed", "session_id", sessionID, "error", err)
			continue
		}

		for ; sent < len(state.Segments); sent++ {
			data, err := h.segments.Get(r.Context(), sessionID, sent)
			if err != nil {
				slog.Warn("preview segment load failed", "session_id", sessionID, "seq", sent, "error", err)
				return
			}
			if len(data) <= wavHeaderSize {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, data[wavHeaderSize:]); err != nil {
				return
			}
		}

		if state.Status == generation.StatusReady && sent == len(state.Segments) {
			conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of stream"))
			return
		}
		if state.Status == generation.StatusError {
			conn.SetWriteDeadline(time.Now().Add(previewWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "generation failed"))
			return
		}
	}
}
