package generation

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/audio"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/storage"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/tts"
)

// staticScript serves a fixed script for every session.
type staticScript struct {
	lines []Line
	err   error
}

func (s *staticScript) Script(ctx context.Context, sessionID string) ([]Line, error) {
	return s.lines, s.err
}

// fakeTTS synthesizes deterministic PCM: each line becomes a fixed-length run
// of one distinct sample value, so ordering survives into the output. delays
// lets a test force lines to finish out of script order.
type fakeTTS struct {
	mu       sync.Mutex
	requests []tts.SynthesisRequest
	seconds  float64
	delays   map[string]time.Duration
	failOn   string
}

func (f *fakeTTS) Name() string { return "fake" }

func (f *fakeTTS) Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.SynthesisResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	if f.failOn != "" && req.Input == f.failOn {
		return nil, errors.New("voice backend rejected the line")
	}
	if d, ok := f.delays[req.Input]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	value := int16(n * 1000)
	samples := int(f.seconds * audio.NarrationSampleRate)
	pcm := make([]byte, samples*audio.BytesPerSample)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(value))
	}
	return &tts.SynthesisResult{PCM: pcm, SampleRate: audio.NarrationSampleRate}, nil
}

func (f *fakeTTS) voiceFor(input string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.Input == input {
			return req.Voice
		}
	}
	return ""
}

type synthFixture struct {
	store    *Store
	segments *hls.SegmentStore
	storage  *storage.MemoryStorage
	provider *fakeTTS
	synth    *Synthesizer
}

func newSynthFixture(t *testing.T, scripts ScriptSource, provider *fakeTTS) *synthFixture {
	t.Helper()
	st := storage.NewMemoryStorage()
	segments, err := hls.NewSegmentStore(st, "narrations")
	if err != nil {
		t.Fatalf("NewSegmentStore: %v", err)
	}
	store := NewStore(newMemCache())
	return &synthFixture{
		store:    store,
		segments: segments,
		storage:  st,
		provider: provider,
		synth:    NewSynthesizer(store, scripts, provider, nil, segments, st, "narrations", 1, 4),
	}
}

func TestSynthesizerPublishesProgressively(t *testing.T) {
	ctx := context.Background()

	scripts := &staticScript{lines: []Line{
		{Speaker: "narrator", Text: "line one"},
		{Speaker: "hero", Text: "line two"},
		{Speaker: "narrator", Text: "line three"},
	}}
	provider := &fakeTTS{seconds: 1.5}
	f := newSynthFixture(t, scripts, provider)

	if err := f.store.Begin(ctx, "s1", nil); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := f.synth.Run(ctx, "s1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	state, err := f.store.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if state.Status != StatusReady {
		t.Fatalf("status = %s, want ready", state.Status)
	}
	// 3 lines x 1.5s cut into 1s segments: four full plus a 0.5s tail.
	if state.DurationSeconds != 4.5 {
		t.Fatalf("duration = %v, want 4.5", state.DurationSeconds)
	}
	if len(state.Segments) != 5 {
		t.Fatalf("published %d segments, want 5", len(state.Segments))
	}
	for i, seg := range state.Segments {
		if seg.Sequence != i {
			t.Fatalf("segment %d has sequence %d", i, seg.Sequence)
		}
		want := 1.0
		if i == 4 {
			want = 0.5
		}
		if math.Abs(seg.Duration-want) > 1e-6 {
			t.Fatalf("segment %d duration = %v, want %v", i, seg.Duration, want)
		}
	}

	// Every published segment is a decodable container at the narration rate.
	for i := range state.Segments {
		data, err := f.segments.Get(ctx, "s1", i)
		if err != nil {
			t.Fatalf("Get segment %d: %v", i, err)
		}
		if _, rate, err := audio.DecodeWAV(data); err != nil || rate != audio.NarrationSampleRate {
			t.Fatalf("segment %d undecodable (rate %d): %v", i, rate, err)
		}
	}

	// The download artifact holds the full narration.
	rc, err := f.storage.Download(ctx, "narrations", "s1/narration.wav")
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	samples, rate, err := audio.DecodeWAV(raw)
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if rate != audio.NarrationSampleRate {
		t.Fatalf("artifact rate = %d", rate)
	}
	if got := audio.Duration(len(samples), rate); math.Abs(got-4.5) > 1e-6 {
		t.Fatalf("artifact duration = %v, want 4.5", got)
	}
}

func TestSynthesizerCommitsInScriptOrder(t *testing.T) {
	ctx := context.Background()

	scripts := &staticScript{lines: []Line{
		{Speaker: "narrator", Text: "slow line"},
		{Speaker: "narrator", Text: "fast line"},
	}}
	// The first line finishes last; the output must still lead with it.
	provider := &fakeTTS{
		seconds: 1.0,
		delays:  map[string]time.Duration{"slow line": 100 * time.Millisecond},
	}
	f := newSynthFixture(t, scripts, provider)

	f.store.Begin(ctx, "s1", nil)
	if err := f.synth.Run(ctx, "s1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	rc, err := f.storage.Download(ctx, "narrations", "s1/narration.wav")
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	samples, _, err := audio.DecodeWAV(raw)
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}

	// Each line is a constant run with a value unique to it. Whatever order
	// the backend finished in, the artifact must be two clean runs.
	half := len(samples) / 2
	firstVal, secondVal := samples[0], samples[half]
	if firstVal == secondVal {
		t.Fatal("artifact halves are identical; line ordering is untestable")
	}
	for i := 0; i < half; i++ {
		if samples[i] != firstVal {
			t.Fatalf("sample %d = %v, want constant first-line run", i, samples[i])
		}
	}
	for i := half; i < len(samples); i++ {
		if samples[i] != secondVal {
			t.Fatalf("sample %d = %v, want constant second-line run", i, samples[i])
		}
	}
}

func TestSynthesizerAppliesVoiceOverrides(t *testing.T) {
	ctx := context.Background()

	scripts := &staticScript{lines: []Line{
		{Speaker: "narrator", Text: "narrator line"},
		{Speaker: "hero", Text: "hero line"},
	}}
	provider := &fakeTTS{seconds: 0.5}
	f := newSynthFixture(t, scripts, provider)

	f.store.Begin(ctx, "s1", nil)
	if err := f.synth.Run(ctx, "s1", map[string]string{"hero": "nova"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := provider.voiceFor("hero line"); got != "nova" {
		t.Fatalf("hero voice = %q, want nova", got)
	}
	if got := provider.voiceFor("narrator line"); got != defaultVoice {
		t.Fatalf("narrator voice = %q, want default", got)
	}
}

func TestSynthesizerSplitsOversizedLines(t *testing.T) {
	ctx := context.Background()

	long := strings.TrimSpace(strings.Repeat("The caravan pressed on through the dunes. ", 150))
	scripts := &staticScript{lines: []Line{{Speaker: "narrator", Text: long}}}
	provider := &fakeTTS{seconds: 0.25}
	f := newSynthFixture(t, scripts, provider)

	f.store.Begin(ctx, "s1", nil)
	if err := f.synth.Run(ctx, "s1", nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	provider.mu.Lock()
	requests := len(provider.requests)
	var rebuilt []string
	for _, req := range provider.requests {
		if len(req.Input) > maxSynthesisChars {
			provider.mu.Unlock()
			t.Fatalf("request exceeds input cap: %d chars", len(req.Input))
		}
		rebuilt = append(rebuilt, req.Input)
	}
	provider.mu.Unlock()

	if requests < 2 {
		t.Fatalf("oversized line synthesized in %d requests, want several", requests)
	}
	if strings.Join(rebuilt, " ") != long {
		t.Fatal("split requests do not reassemble into the original line")
	}
}

func TestSynthesizerFailureLandsInErrorState(t *testing.T) {
	ctx := context.Background()

	scripts := &staticScript{lines: []Line{
		{Speaker: "narrator", Text: "good line"},
		{Speaker: "narrator", Text: "bad line"},
	}}
	provider := &fakeTTS{seconds: 0.5, failOn: "bad line"}
	f := newSynthFixture(t, scripts, provider)

	f.store.Begin(ctx, "s1", nil)
	if err := f.synth.Run(ctx, "s1", nil); err == nil {
		t.Fatal("Run succeeded with a failing line")
	}

	state, _ := f.store.Snapshot(ctx, "s1")
	if state.Status != StatusError {
		t.Fatalf("status = %s, want error", state.Status)
	}
	if state.Error == "" {
		t.Fatal("error state carries no reason")
	}
}

func TestSynthesizerRejectsEmptyScript(t *testing.T) {
	ctx := context.Background()

	provider := &fakeTTS{seconds: 0.5}
	f := newSynthFixture(t, &staticScript{}, provider)

	f.store.Begin(ctx, "s1", nil)
	if err := f.synth.Run(ctx, "s1", nil); err == nil {
		t.Fatal("Run succeeded with an empty script")
	}
	state, _ := f.store.Snapshot(ctx, "s1")
	if state.Status != StatusError {
		t.Fatalf("status = %s, want error", state.Status)
	}
}
