package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
)

const (
	// manifestRefreshInterval is how often a live playlist is re-fetched
	// while generation is still appending segments.
	manifestRefreshInterval = time.Second

	// maxManifestNotFound bounds the 404-while-generating retry budget.
	// The original behavior retried indefinitely; a stuck backend should
	// eventually surface instead. 300 ticks at 1 s is five minutes.
	maxManifestNotFound = 300

	// segmentRetryLimit is how many times one segment fetch is re-attempted
	// with a fresh loader before the tick is abandoned (and retried whole).
	segmentRetryLimit = 1
)

// Delivery progressively streams a still-growing segmented manifest through
// the session's scheduler. Error policy is tri-level: manifest-not-found
// during generation is transient and silently retried; segment fetch errors
// reload the segment loader; decode errors get one recovery fetch, then tear
// the pipeline down as fatal.
type Delivery struct {
	api   *Client
	sched *Scheduler

	interval time.Duration
	onFatal  func(error)

	mu         sync.Mutex
	attached   bool
	audioReady bool
	cancel     context.CancelFunc
}

// NewDelivery wires a delivery pipeline to the session's one scheduler.
// onFatal is invoked (once per attach lifecycle, off the caller's goroutine)
// when an unrecoverable playback error occurs.
func NewDelivery(api *Client, sched *Scheduler, onFatal func(error)) *Delivery {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &Delivery{
		api:      api,
		sched:    sched,
		interval: manifestRefreshInterval,
		onFatal:  onFatal,
	}
}

// Attach starts streaming manifestURL. Idempotent: a second call while
// already attached is a no-op, so repeated polling ticks cannot cause
// duplicate attachment storms.
func (d *Delivery) Attach(ctx context.Context, manifestURL string) {
	d.mu.Lock()
	if d.attached {
		d.mu.Unlock()
		return
	}
	d.attached = true
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	go d.streamLoop(loopCtx, manifestURL)
}

// Attached reports whether a delivery lifecycle is active.
func (d *Delivery) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// AudioReady becomes true exactly once per attach lifecycle, when the first
// manifest parse succeeds. Teardown clears it.
func (d *Delivery) AudioReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioReady
}

// Teardown cancels the stream loop and clears the attach lifecycle so a
// future Attach starts fresh.
func (d *Delivery) Teardown() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.attached = false
	d.audioReady = false
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// streamLoop refreshes the playlist and feeds any newly published segments,
// in order, through the scheduler. It exits when the playlist ends, the
// context is canceled, or a fatal error tears the delivery down.
func (d *Delivery) streamLoop(ctx context.Context, manifestURL string) {
	var (
		fed      int // segments already scheduled
		notFound int
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		playlist, err := d.api.Manifest(ctx, manifestURL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrManifestNotFound) {
				// Expected while the backend has not published the first
				// segment yet. Bounded: a manifest that never appears is a
				// stuck backend, not a transient.
				notFound++
				if notFound > maxManifestNotFound {
					d.fatal(fmt.Errorf("manifest never became available: %w", err))
					return
				}
			} else {
				slog.Debug("manifest refresh failed, retrying", "error", err)
			}
			if !d.sleep(ctx, ticker) {
				return
			}
			continue
		}
		notFound = 0

		d.mu.Lock()
		first := !d.audioReady
		d.audioReady = true
		d.mu.Unlock()
		if first {
			slog.Info("manifest parsed, audio ready", "segments", len(playlist.Segments))
		}

		for fed < len(playlist.Segments) {
			seg := playlist.Segments[fed]
			data, err := d.fetchSegment(ctx, manifestURL, seg.URI)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Network-level segment failure: abandon this tick; the next
				// refresh retries from the same position.
				slog.Debug("segment fetch failed, will retry", "uri", seg.URI, "error", err)
				break
			}

			samples, _, err := audio.DecodeWAV(data)
			if err != nil {
				// One recovery attempt with freshly fetched bytes; a truncated
				// response decodes the same as a corrupt segment.
				if fresh, ferr := d.api.Segment(ctx, manifestURL, seg.URI); ferr == nil {
					samples, _, err = audio.DecodeWAV(fresh)
				}
				if err != nil {
					d.fatal(fmt.Errorf("segment %s is undecodable: %w", seg.URI, err))
					return
				}
			}

			d.sched.Schedule(samples)
			fed++

			select {
			case <-ctx.Done():
				return
			case <-time.After(interChunkDelay):
			}
		}

		if playlist.Ended && fed >= len(playlist.Segments) {
			slog.Info("manifest stream complete", "segments", fed)
			return
		}

		if !d.sleep(ctx, ticker) {
			return
		}
	}
}

// fetchSegment retries once with a fresh request before giving up, which
// recovers the common case of one dropped connection mid-stream.
func (d *Delivery) fetchSegment(ctx context.Context, manifestURL, uri string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= segmentRetryLimit; attempt++ {
		data, err := d.api.Segment(ctx, manifestURL, uri)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (d *Delivery) fatal(err error) {
	slog.Error("fatal playback error", "error", err)
	d.Teardown()
	d.onFatal(err)
}

func (d *Delivery) sleep(ctx context.Context, ticker *time.Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ticker.C:
		return true
	}
}
