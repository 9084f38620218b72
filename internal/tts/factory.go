package tts

import (
	"fmt"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/config"
)

// NewFromConfig selects and builds the configured TTS backend.
func NewFromConfig(cfg config.TTSConfig) (Provider, error) {
	switch cfg.Backend {
	case "openai", "":
		return NewOpenAITTS(OpenAIConfig{
			APIKey:  cfg.OpenAIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}), nil
	case "local":
		return NewLocalTTS(LocalConfig{
			PiperBinPath: cfg.LocalBinPath,
			ModelPath:    cfg.LocalModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown TTS backend %q", cfg.Backend)
	}
}
