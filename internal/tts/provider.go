package tts

import "context"

// SynthesisRequest holds the parameters for narrating one line of a story.
type SynthesisRequest struct {
	Input string  `json:"input"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// SynthesisResult carries raw narration audio. PCM is mono signed 16-bit
// little-endian at SampleRate Hz, with no container framing.
type SynthesisResult struct {
	PCM        []byte
	SampleRate int
}

// Provider is the interface for text-to-speech backends.
type Provider interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
	Name() string
}
