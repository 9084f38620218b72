package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Line is one narration unit of a story: who speaks and what they say.
type Line struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ScriptSource hands out the narration script for a session. Story authoring
// and persistence live in an upstream service; this side only reads.
type ScriptSource interface {
	Script(ctx context.Context, sessionID string) ([]Line, error)
}

// HTTPScriptSource fetches scripts from the story service.
type HTTPScriptSource struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPScriptSource(baseURL string) *HTTPScriptSource {
	return &HTTPScriptSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPScriptSource) Script(ctx context.Context, sessionID string) ([]Line, error) {
	url := fmt.Sprintf("%s/stories/%s/script", s.baseURL, sessionID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create script request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("script fetch failed (%d)", resp.StatusCode)
	}

	var payload struct {
		Lines []Line `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return payload.Lines, nil
}
