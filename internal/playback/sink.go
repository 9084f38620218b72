package playback

// AudioSink abstracts the platform's low-latency audio output. The hardware
// clock behind Now is the only true concurrent actor in the engine: all
// scheduling reacts to it through buffer start times and never blocks on it.
// Implementations substitute the native audio API of their platform.
type AudioSink interface {
	// Now returns the current position of the audio hardware clock in seconds.
	// It is monotonic while the sink exists.
	Now() float64

	// ScheduleBuffer queues samples (mono, normalized float32 at sampleRate)
	// to begin playing at startTime on the sink's clock. Buffers may be
	// scheduled ahead of the play cursor; scheduling in the past is a caller
	// bug the sink is not required to handle gracefully.
	ScheduleBuffer(samples []float32, sampleRate int, startTime float64)

	// Pause suspends output without discarding scheduled buffers.
	Pause()

	// Resume continues output after Pause.
	Resume()

	// Running reports whether the sink is currently producing output.
	Running() bool
}
