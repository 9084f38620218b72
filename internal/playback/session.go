package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
)

// ErrNotReady rejects a download before generation has completed.
var ErrNotReady = errors.New("narration is not ready")

// Session ties the status controller, manifest delivery and the UI-facing
// controls together for one story. It owns exactly one sink and one scheduler
// cursor; no other component schedules audio concurrently with it. The value
// is owner-scoped: created when the story's audio panel opens, discarded on
// reset or navigation.
type Session struct {
	id    string
	api   *Client
	sink  AudioSink
	sched *Scheduler
	ctrl  *StatusController
	deliv *Delivery

	mu         sync.Mutex
	fatalErr   error
	loopDone   chan struct{}
	loopCancel context.CancelFunc
}

// SessionOption tweaks construction; used by tests to shrink the poll
// interval.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	pollInterval time.Duration
}

func WithPollInterval(d time.Duration) SessionOption {
	return func(c *sessionConfig) { c.pollInterval = d }
}

// NewSession builds the per-story playback engine around one audio sink.
func NewSession(sessionID string, api *Client, sink AudioSink, opts ...SessionOption) *Session {
	cfg := sessionConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		id:    sessionID,
		api:   api,
		sink:  sink,
		sched: NewScheduler(sink, audio.NarrationSampleRate),
		ctrl:  NewStatusController(api, cfg.pollInterval),
	}
	s.deliv = NewDelivery(api, s.sched, s.onFatal)
	return s
}

// ID returns the opaque story identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current generation state.
func (s *Session) Status() SessionStatus { return s.ctrl.Status() }

// Duration returns the last known narration duration in seconds.
func (s *Session) Duration() float64 { return s.ctrl.Duration() }

// ManifestAttached reports whether the delivery pipeline is attached.
func (s *Session) ManifestAttached() bool { return s.deliv.Attached() }

// Err returns the fatal playback error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

// Generate starts narration generation with the given speaker→voice
// overrides. Fails while a generation is already in flight; otherwise all
// local playback state is reset first.
func (s *Session) Generate(ctx context.Context, overrides map[string]string) error {
	if s.ctrl.Status() == StatusGenerating {
		return ErrAlreadyGenerating
	}

	s.teardownPlayback()
	s.mu.Lock()
	s.fatalErr = nil
	s.mu.Unlock()

	if err := s.ctrl.Start(ctx, s.id, overrides); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.loopCancel = cancel
	s.loopDone = done
	s.mu.Unlock()

	go s.eventLoop(loopCtx, done)
	return nil
}

// eventLoop reacts to controller events: the first duration above zero means
// partial audio exists and delivery can attach; attach is retried on every
// later tick until the manifest parses, with the delivery guard preventing
// duplicates.
func (s *Session) eventLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.ctrl.Events():
			switch ev.Kind {
			case EventGenerating:
				if ev.Duration > 0 {
					s.deliv.Attach(ctx, s.manifestURL())
				}
			case EventReady:
				// Delivery keeps draining the final playlist on its own.
				slog.Info("narration ready", "session_id", s.id, "duration", ev.Duration)
				if !s.deliv.Attached() {
					s.deliv.Attach(ctx, s.manifestURL())
				}
				return
			case EventError:
				s.mu.Lock()
				if s.fatalErr == nil {
					s.fatalErr = errors.New(ev.Reason)
				}
				s.mu.Unlock()
				s.deliv.Teardown()
				return
			case EventReset:
				return
			}
		}
	}
}

func (s *Session) manifestURL() string {
	if url := s.ctrl.ManifestURL(); url != "" {
		return url
	}
	return fmt.Sprintf("/audio/hls/%s/stream.m3u8", s.id)
}

// TogglePlayPause flips the sink's running state. A session with no attached
// delivery has nothing to toggle; the call is a no-op then.
func (s *Session) TogglePlayPause() {
	if !s.deliv.Attached() {
		return
	}
	if s.sink.Running() {
		s.sink.Pause()
	} else {
		s.sink.Resume()
	}
}

// Reset tears down delivery, stops polling and the scheduler, clears local
// progress and returns the session (and the backend) to NotGenerated. This
// is the only transition out of Ready, and it always works from Error too.
func (s *Session) Reset(ctx context.Context) error {
	s.teardownPlayback()

	s.mu.Lock()
	s.fatalErr = nil
	s.mu.Unlock()

	if err := s.ctrl.Reset(ctx, s.id); err != nil {
		return fmt.Errorf("reset session %s: %w", s.id, err)
	}
	return nil
}

// Download returns the finished narration artifact. Only available once the
// session is Ready.
func (s *Session) Download(ctx context.Context) (io.ReadCloser, error) {
	if s.ctrl.Status() != StatusReady {
		return nil, ErrNotReady
	}
	return s.api.Download(ctx, s.id)
}

// StartPreview plays the low-latency PCM preview channel through the
// session's scheduler instead of the manifest path. It blocks until the
// stream ends or the context is canceled.
func (s *Session) StartPreview(ctx context.Context) error {
	stream, err := s.api.OpenPreview(ctx, s.id)
	if err != nil {
		return err
	}
	return s.sched.Run(ctx, stream)
}

func (s *Session) teardownPlayback() {
	s.deliv.Teardown()
	s.sched.Stop()

	s.mu.Lock()
	cancel := s.loopCancel
	done := s.loopDone
	s.loopCancel = nil
	s.loopDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Session) onFatal(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	s.mu.Unlock()
}
