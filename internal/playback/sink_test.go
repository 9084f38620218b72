package playback

import (
	"sync"
)

// scheduledBuf records one ScheduleBuffer call.
type scheduledBuf struct {
	start      float64
	duration   float64
	sampleRate int
	samples    int
}

// fakeSink is a hand-rolled AudioSink with a manually advanced clock.
type fakeSink struct {
	mu        sync.Mutex
	now       float64
	running   bool
	scheduled []scheduledBuf
}

func newFakeSink() *fakeSink {
	return &fakeSink{running: true}
}

func (f *fakeSink) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeSink) advance(seconds float64) {
	f.mu.Lock()
	f.now += seconds
	f.mu.Unlock()
}

func (f *fakeSink) ScheduleBuffer(samples []float32, sampleRate int, startTime float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, scheduledBuf{
		start:      startTime,
		duration:   float64(len(samples)) / float64(sampleRate),
		sampleRate: sampleRate,
		samples:    len(samples),
	})
}

func (f *fakeSink) Pause()  { f.mu.Lock(); f.running = false; f.mu.Unlock() }
func (f *fakeSink) Resume() { f.mu.Lock(); f.running = true; f.mu.Unlock() }

func (f *fakeSink) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSink) buffers() []scheduledBuf {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduledBuf, len(f.scheduled))
	copy(out, f.scheduled)
	return out
}
