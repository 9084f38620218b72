package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SessionStatus is the generation state machine:
//
//	NotGenerated --start--> Generating --(ready)--> Ready --reset--> NotGenerated
//	Generating --(error)--> Error --start--> Generating
type SessionStatus int

const (
	StatusNotGenerated SessionStatus = iota
	StatusGenerating
	StatusReady
	StatusError
)

func (s SessionStatus) String() string {
	switch s {
	case StatusNotGenerated:
		return "not_generated"
	case StatusGenerating:
		return "generating"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrAlreadyGenerating rejects a second start while a job is in flight.
var ErrAlreadyGenerating = errors.New("generation already in progress")

// defaultPollInterval balances backend load against UI responsiveness.
const defaultPollInterval = 2 * time.Second

// StatusController owns the Generating/Ready/Error/NotGenerated state for one
// session and drives the polling loop. Transport failures during a poll are
// retried on the next tick; only an explicit error status is fatal.
type StatusController struct {
	api      *Client
	interval time.Duration

	mu          sync.Mutex
	status      SessionStatus
	duration    float64
	manifestURL string
	cancel      context.CancelFunc

	events chan Event
}

func NewStatusController(api *Client, interval time.Duration) *StatusController {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &StatusController{
		api:      api,
		interval: interval,
		status:   StatusNotGenerated,
		events:   make(chan Event, 32),
	}
}

// Events is the notification channel consumed by the session's event loop.
func (c *StatusController) Events() <-chan Event { return c.events }

// Status returns the current state.
func (c *StatusController) Status() SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Duration returns the last known narration duration in seconds. It never
// decreases within one generation.
func (c *StatusController) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// ManifestURL returns the manifest location reported by the backend, empty
// until partial audio exists.
func (c *StatusController) ManifestURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifestURL
}

// Start triggers the backend job and begins polling. Rejected while a
// generation is already in flight; allowed from Error (retry) and after
// Reset.
func (c *StatusController) Start(ctx context.Context, sessionID string, overrides map[string]string) error {
	c.mu.Lock()
	if c.status == StatusGenerating {
		c.mu.Unlock()
		return ErrAlreadyGenerating
	}
	c.mu.Unlock()

	if err := c.api.Generate(ctx, sessionID, overrides); err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.mu.Unlock()
		c.emit(Event{Kind: EventError, Reason: err.Error()})
		return fmt.Errorf("start generation: %w", err)
	}

	// Drop notifications left over from a previous generation so the new
	// consumer does not act on stale state.
	c.drain()

	loopCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.status = StatusGenerating
	c.duration = 0
	c.manifestURL = ""
	c.cancel = cancel
	c.mu.Unlock()

	go c.pollLoop(loopCtx, sessionID)
	return nil
}

// pollLoop reads the status snapshot on a fixed interval until a terminal
// state or cancellation. Snapshots are never retained beyond one tick.
func (c *StatusController) pollLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap, err := c.api.Status(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transport hiccup; the next tick retries.
			slog.Debug("status poll failed, retrying", "session_id", sessionID, "error", err)
			continue
		}

		switch snap.Status {
		case "generating":
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				return
			}
			advanced := snap.DurationSeconds > c.duration
			if advanced {
				c.duration = snap.DurationSeconds
			}
			if snap.ManifestURL != "" {
				c.manifestURL = snap.ManifestURL
			}
			duration := c.duration
			c.mu.Unlock()

			if advanced {
				c.emit(Event{Kind: EventGenerating, Duration: duration})
			}

		case "ready":
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				return
			}
			c.status = StatusReady
			c.duration = snap.DurationSeconds
			if snap.ManifestURL != "" {
				c.manifestURL = snap.ManifestURL
			}
			c.cancel = nil
			c.mu.Unlock()

			c.emit(Event{Kind: EventReady, Duration: snap.DurationSeconds})
			return

		case "error":
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				return
			}
			c.status = StatusError
			c.cancel = nil
			c.mu.Unlock()

			reason := snap.Error
			if reason == "" {
				reason = "generation failed"
			}
			c.emit(Event{Kind: EventError, Reason: reason})
			return

		default:
			// not_generated mid-poll means the server lost state (restart or
			// concurrent reset); keep polling, the guard above stays valid.
			slog.Debug("unexpected status during poll", "session_id", sessionID, "status", snap.Status)
		}
	}
}

// Reset invalidates any in-flight polling before touching state, requests
// backend-side invalidation and returns to NotGenerated. The cancel must run
// first so a late tick cannot resurrect stale state afterwards.
func (c *StatusController) Reset(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	err := c.api.Reset(ctx, sessionID)

	c.mu.Lock()
	c.status = StatusNotGenerated
	c.duration = 0
	c.manifestURL = ""
	c.mu.Unlock()

	c.emit(Event{Kind: EventReset})

	if err != nil {
		return fmt.Errorf("backend reset: %w", err)
	}
	return nil
}

func (c *StatusController) drain() {
	for {
		select {
		case <-c.events:
		default:
			return
		}
	}
}

// emit never blocks the poll loop: with a wedged consumer, dropping a
// notification beats deadlocking the state machine.
func (c *StatusController) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		slog.Warn("event channel full, dropping", "kind", ev.Kind.String())
	}
}
