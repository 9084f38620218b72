package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
)

// discardLeadingBuffers drops the first capture buffers after microphone
// start; some audio pipelines emit an initialization pop there.
const discardLeadingBuffers = 3

// CaptureSource delivers microphone audio one processing buffer at a time as
// normalized float32 samples at the capture rate. Read blocks until a buffer
// is available and returns io.EOF when the device stops.
type CaptureSource interface {
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// Recorder captures a voice sample, runs it through the encoder pipeline
// (fade-in, normalize, container framing) and uploads it as a reusable voice
// profile. Entirely decoupled from playback.
type Recorder struct {
	api *Client

	mu        sync.Mutex
	samples   []float32
	recording bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRecorder(api *Client) *Recorder {
	return &Recorder{api: api}
}

// Recording reports whether a capture loop is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Start begins capturing from src, replacing any previous recording. The
// first few buffers are discarded to skip the device's startup pop.
func (r *Recorder) Start(ctx context.Context, src CaptureSource) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return errors.New("recording already in progress")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.recording = true
	r.samples = nil
	r.cancel = cancel
	r.done = done
	r.mu.Unlock()

	go r.captureLoop(loopCtx, src, done)
	return nil
}

func (r *Recorder) captureLoop(ctx context.Context, src CaptureSource, done chan struct{}) {
	defer close(done)
	defer src.Close()

	skipped := 0
	for {
		buf, err := src.Read(ctx)
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("capture read failed", "error", err)
			return
		}
		if skipped < discardLeadingBuffers {
			skipped++
			continue
		}

		r.mu.Lock()
		r.samples = append(r.samples, buf...)
		r.mu.Unlock()
	}
}

// Stop cancels the capture loop and waits for it to drain. The recorded
// samples stay buffered for Encode/Upload.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.recording = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// DurationSeconds returns the length of the buffered recording.
func (r *Recorder) DurationSeconds() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return audio.Duration(len(r.samples), audio.CaptureSampleRate)
}

// Encode runs the captured samples through fade-in and normalization and
// frames them as a playable container.
func (r *Recorder) Encode() ([]byte, error) {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return nil, errors.New("stop recording before encoding")
	}
	if len(r.samples) == 0 {
		r.mu.Unlock()
		return nil, errors.New("nothing recorded")
	}
	samples := make([]float32, len(r.samples))
	copy(samples, r.samples)
	r.mu.Unlock()

	audio.FadeIn(samples, audio.CaptureSampleRate)
	audio.Normalize(samples)
	return audio.EncodeWAV(samples, audio.CaptureSampleRate), nil
}

// Upload validates inputs synchronously, encodes the recording and posts it
// to the catalog. Returns the new voice id.
func (r *Recorder) Upload(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("voice name is required")
	}

	wav, err := r.Encode()
	if err != nil {
		return "", err
	}

	id, err := r.api.UploadVoice(ctx, name, wav)
	if err != nil {
		return "", fmt.Errorf("upload voice sample: %w", err)
	}

	slog.Info("voice sample uploaded", "voice_id", id, "name", name,
		"seconds", r.DurationSeconds())
	return id, nil
}
