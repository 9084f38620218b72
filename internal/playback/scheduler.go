package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
)

const (
	// MinChunkBytes is the smallest chunk worth decoding. Anything shorter
	// cannot form a useful buffer and is dropped instead of producing a
	// malformed playback attempt.
	MinChunkBytes = 1024

	// interChunkDelay throttles the read loop so a tight burst of arrivals
	// does not starve the rest of the event loop.
	interChunkDelay = 20 * time.Millisecond
)

// ChunkSource is a cancelable stream of raw PCM byte chunks. Next blocks
// until a chunk arrives or the stream ends (io.EOF). Close releases the
// underlying network resources immediately; a blocked Next must return after
// Close.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Scheduler plays a live sequence of raw PCM chunks gaplessly against the
// sink's clock. It owns the session's one scheduling cursor: for each chunk,
// start = max(now, nextStart), so chunks arriving faster than real time queue
// back-to-back while a stalled producer resumes at the current clock time
// instead of in the past.
type Scheduler struct {
	sink       AudioSink
	sampleRate int

	mu        sync.Mutex
	nextStart float64
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler feeding sink with PCM at sampleRate.
// The cursor starts at the sink's current clock time.
func NewScheduler(sink AudioSink, sampleRate int) *Scheduler {
	return &Scheduler{
		sink:       sink,
		sampleRate: sampleRate,
		nextStart:  sink.Now(),
	}
}

// OnChunk decodes one PCM chunk and schedules it contiguously after whatever
// was scheduled before. Sub-threshold chunks are dropped and do not advance
// the cursor. Returns true if the chunk was scheduled.
func (s *Scheduler) OnChunk(chunk []byte) bool {
	if len(chunk) < MinChunkBytes {
		slog.Debug("dropping sub-threshold chunk", "bytes", len(chunk))
		return false
	}
	s.Schedule(audio.BytesToSamples(chunk))
	return true
}

// Schedule places already-decoded samples on the cursor. The raw-chunk size
// threshold does not apply here: callers feeding validated audio, like decoded
// manifest segments, may schedule arbitrarily short buffers. A narration's
// trailing partial segment must still play.
func (s *Scheduler) Schedule(samples []float32) {
	if len(samples) == 0 {
		return
	}
	duration := audio.Duration(len(samples), s.sampleRate)

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.sink.Now()
	if s.nextStart > start {
		start = s.nextStart
	}
	s.sink.ScheduleBuffer(samples, s.sampleRate, start)
	s.nextStart = start + duration
}

// NextStart exposes the cursor for tests and diagnostics.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Run consumes src until end-of-stream, cancellation or a read failure,
// scheduling each chunk as it arrives. Only one Run may be active at a time;
// Stop cancels it.
func (s *Scheduler) Run(ctx context.Context, src ChunkSource) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		cancel()
		return errors.New("scheduler: reader already running")
	}
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		src.Close()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	// Closing the source when the context ends unblocks a pending Next.
	go func() {
		<-runCtx.Done()
		src.Close()
	}()

	for {
		chunk, err := src.Next(runCtx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			return err
		}

		s.OnChunk(chunk)

		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-time.After(interChunkDelay):
		}
	}
}

// Stop cancels the active reader (if any) and re-bases the cursor to the
// current clock time, so a later OnChunk does not resume at a stale offset.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.nextStart = s.sink.Now()
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
