// Package webhook pushes narration lifecycle events to the story service, so
// it learns about finished audio without polling this side.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	EventNarrationReady  = "narration.ready"
	EventNarrationFailed = "narration.failed"
)

// Event is one narration lifecycle notification.
type Event struct {
	ID              uuid.UUID `json:"id"`
	Kind            string    `json:"kind"`
	SessionID       string    `json:"session_id"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Notifier delivers events to one configured endpoint, signed with a shared
// secret. Delivery is asynchronous and best-effort: narration state is the
// source of truth, the webhook is advisory.
type Notifier struct {
	url        string
	secret     string
	httpClient *http.Client
	events     chan Event
}

// NewNotifier returns a notifier posting to url. An empty url disables
// delivery entirely; Notify becomes a no-op.
func NewNotifier(url, secret string) *Notifier {
	n := &Notifier{
		url:    url,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		events: make(chan Event, 256),
	}
	if url != "" {
		go n.processLoop()
	}
	return n
}

// NarrationReady reports a completed generation.
func (n *Notifier) NarrationReady(sessionID string, durationSeconds float64) {
	n.notify(Event{
		Kind:            EventNarrationReady,
		SessionID:       sessionID,
		DurationSeconds: durationSeconds,
	})
}

// NarrationFailed reports a failed generation with its reason.
func (n *Notifier) NarrationFailed(sessionID, reason string) {
	n.notify(Event{
		Kind:      EventNarrationFailed,
		SessionID: sessionID,
		Error:     reason,
	})
}

func (n *Notifier) notify(ev Event) {
	if n == nil || n.url == "" {
		return
	}
	ev.ID = uuid.New()
	ev.OccurredAt = time.Now().UTC()

	select {
	case n.events <- ev:
	default:
		slog.Warn("webhook queue full, dropping event", "kind", ev.Kind, "session_id", ev.SessionID)
	}
}

func (n *Notifier) processLoop() {
	for ev := range n.events {
		n.deliver(ev)
	}
}

func (n *Notifier) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("webhook payload marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(payload))
	if err != nil {
		slog.Error("webhook request creation failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", ev.Kind)
	req.Header.Set("X-Webhook-ID", ev.ID.String())
	req.Header.Set("X-Webhook-Signature", sign(payload, n.secret))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		slog.Warn("webhook delivery failed", "kind", ev.Kind, "session_id", ev.SessionID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		slog.Warn("webhook received non-success response", "status", resp.StatusCode, "kind", ev.Kind)
		return
	}
	slog.Debug("webhook delivered", "kind", ev.Kind, "session_id", ev.SessionID)
}

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
