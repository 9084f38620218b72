package generation

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/tts"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/voices"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/webhook"
	"github.com/tech42-org/story42-hackathon-2025-sub000/pkg/chunker"
)

const defaultVoice = "alloy"

// maxSynthesisChars is the per-request input cap of the speech backends.
// Longer lines are split on sentence boundaries and synthesized in pieces.
const maxSynthesisChars = 4096

// Synthesizer runs one narration job: fetch the script, synthesize each line,
// cut the PCM into manifest segments and publish them as they fill, so status
// polls see duration advance long before the job completes.
type Synthesizer struct {
	store    *Store
	scripts  ScriptSource
	provider tts.Provider
	catalog  *voices.Service
	segments *hls.SegmentStore
	storage  storage.Storage
	bucket   string
	notify   *webhook.Notifier

	segmentSeconds int
	workers        int
}

func NewSynthesizer(store *Store, scripts ScriptSource, provider tts.Provider, catalog *voices.Service,
	segments *hls.SegmentStore, st storage.Storage, bucket string, segmentSeconds, workers int) *Synthesizer {
	if segmentSeconds <= 0 {
		segmentSeconds = 4
	}
	if workers <= 0 {
		workers = 4
	}
	return &Synthesizer{
		store:          store,
		scripts:        scripts,
		provider:       provider,
		catalog:        catalog,
		segments:       segments,
		storage:        st,
		bucket:         bucket,
		segmentSeconds: segmentSeconds,
		workers:        workers,
	}
}

// WithNotifier attaches lifecycle webhooks; a nil notifier disables them.
func (s *Synthesizer) WithNotifier(n *webhook.Notifier) *Synthesizer {
	s.notify = n
	return s
}

// Run executes the narration job for one session. It assumes the state store
// has already transitioned the session to generating (done at enqueue time).
func (s *Synthesizer) Run(ctx context.Context, sessionID string, overrides map[string]string) error {
	lines, err := s.scripts.Script(ctx, sessionID)
	if err != nil {
		return s.fail(ctx, sessionID, fmt.Errorf("fetch script: %w", err))
	}
	if len(lines) == 0 {
		return s.fail(ctx, sessionID, fmt.Errorf("story has no narration lines"))
	}

	// Lines are synthesized concurrently but committed strictly in script
	// order: each worker delivers into its own single-slot channel and the
	// commit loop drains them sequentially.
	results := make([]chan *tts.SynthesisResult, len(lines))
	for i := range results {
		results[i] = make(chan *tts.SynthesisResult, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, line := range lines {
		g.Go(func() error {
			voice := s.resolveVoice(gctx, line.Speaker, overrides)
			res, err := s.synthesizeLine(gctx, line.Text, voice)
			if err != nil {
				return fmt.Errorf("synthesize line %d: %w", i, err)
			}
			results[i] <- res
			return nil
		})
	}

	// The commit loop outlives the worker group (it drains results after the
	// last worker returns), so it runs on its own context: canceled explicitly
	// when a worker fails, not when the group merely finishes.
	commitCtx, cancelCommit := context.WithCancel(ctx)
	defer cancelCommit()

	commitErr := make(chan error, 1)
	go func() {
		commitErr <- s.commitLoop(commitCtx, sessionID, results)
	}()

	if err := g.Wait(); err != nil {
		cancelCommit()
		<-commitErr
		return s.fail(ctx, sessionID, err)
	}
	if err := <-commitErr; err != nil {
		return s.fail(ctx, sessionID, err)
	}

	if err := s.store.Complete(ctx, sessionID); err != nil {
		return fmt.Errorf("mark session ready: %w", err)
	}
	if state, err := s.store.Snapshot(ctx, sessionID); err == nil {
		s.notify.NarrationReady(sessionID, state.DurationSeconds)
	}
	slog.Info("narration generation complete", "session_id", sessionID, "lines", len(lines))
	return nil
}

// synthesizeLine narrates one script line with one voice. Lines over the
// backend's input cap are cut on sentence boundaries and the PCM pieces are
// concatenated, which is seamless for raw same-rate audio.
func (s *Synthesizer) synthesizeLine(ctx context.Context, text, voice string) (*tts.SynthesisResult, error) {
	parts := chunker.Split(text, maxSynthesisChars)
	if len(parts) == 1 {
		return s.provider.Synthesize(ctx, tts.SynthesisRequest{Input: parts[0], Voice: voice})
	}

	var out tts.SynthesisResult
	for _, part := range parts {
		res, err := s.provider.Synthesize(ctx, tts.SynthesisRequest{Input: part, Voice: voice})
		if err != nil {
			return nil, err
		}
		out.PCM = append(out.PCM, res.PCM...)
		out.SampleRate = res.SampleRate
	}
	return &out, nil
}

// commitLoop consumes per-line results in order, slices the running PCM into
// fixed-length segments, publishes each one, and finally writes the full
// download artifact.
func (s *Synthesizer) commitLoop(ctx context.Context, sessionID string, results []chan *tts.SynthesisResult) error {
	var (
		pcm        bytes.Buffer
		artifact   bytes.Buffer
		sampleRate = audio.NarrationSampleRate
	)

	segmentBytes := func() int {
		return s.segmentSeconds * sampleRate * audio.BytesPerSample
	}

	publish := func(chunk []byte) error {
		samples := audio.BytesToSamples(chunk)
		duration := audio.Duration(len(samples), sampleRate)
		seq, err := s.store.AppendSegment(ctx, sessionID, duration)
		if err != nil {
			return err
		}
		if err := s.segments.Put(ctx, sessionID, seq, audio.EncodeWAV(samples, sampleRate)); err != nil {
			return err
		}
		slog.Debug("segment published", "session_id", sessionID, "seq", seq, "duration", duration)
		return nil
	}

	for i, ch := range results {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if i == 0 && res.SampleRate > 0 {
				sampleRate = res.SampleRate
			}
			pcm.Write(res.PCM)
			artifact.Write(res.PCM)

			for pcm.Len() >= segmentBytes() {
				if err := publish(pcm.Next(segmentBytes())); err != nil {
					return err
				}
			}
		}
	}

	// Trailing partial segment.
	if pcm.Len() >= audio.BytesPerSample {
		if err := publish(pcm.Bytes()); err != nil {
			return err
		}
	}

	full := audio.EncodeWAV(audio.BytesToSamples(artifact.Bytes()), sampleRate)
	path := fmt.Sprintf("%s/narration.wav", sessionID)
	if err := s.storage.Upload(ctx, s.bucket, path, bytes.NewReader(full), "audio/wav"); err != nil {
		return fmt.Errorf("store download artifact: %w", err)
	}
	return nil
}

// resolveVoice maps a speaker to a catalog voice: explicit override first,
// falling back to the default narrator voice. Unknown override ids are
// tolerated with a warning rather than failing a whole job.
func (s *Synthesizer) resolveVoice(ctx context.Context, speaker string, overrides map[string]string) string {
	voice, ok := overrides[speaker]
	if !ok || voice == "" {
		return defaultVoice
	}
	if s.catalog != nil {
		exists, err := s.catalog.Exists(ctx, voice)
		if err != nil {
			slog.Warn("voice lookup failed, using override as-is", "voice", voice, "error", err)
			return voice
		}
		if !exists {
			slog.Warn("override names unknown voice, falling back", "speaker", speaker, "voice", voice)
			return defaultVoice
		}
	}
	return voice
}

func (s *Synthesizer) fail(ctx context.Context, sessionID string, cause error) error {
	slog.Error("narration generation failed", "session_id", sessionID, "error", cause)
	if err := s.store.Fail(ctx, sessionID, cause.Error()); err != nil {
		slog.Error("failed to record error state", "session_id", sessionID, "error", err)
	}
	s.notify.NarrationFailed(sessionID, cause.Error())
	return cause
}
