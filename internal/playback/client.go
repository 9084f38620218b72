package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/hls"
)

// ErrManifestNotFound marks a manifest fetch that 404ed. While generation is
// in flight this is an expected transient condition, not a failure.
var ErrManifestNotFound = errors.New("manifest not available")

// StatusSnapshot is one point-in-time read of /audio/status. It is never
// retained beyond a polling interval.
type StatusSnapshot struct {
	Status          string  `json:"status"`
	DurationSeconds float64 `json:"duration_seconds"`
	ManifestURL     string  `json:"url,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// VoiceProfile mirrors one catalog entry on the wire.
type VoiceProfile struct {
	ID          string `json:"voice_id"`
	DisplayName string `json:"display_name"`
	SourceKind  string `json:"source_kind"`
}

// Client is the typed HTTP client for the narration surface the engine
// consumes.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Generate triggers the backend narration job.
func (c *Client) Generate(ctx context.Context, sessionID string, overrides map[string]string) error {
	body, err := json.Marshal(map[string]interface{}{
		"speaker_voice_overrides": overrides,
	})
	if err != nil {
		return fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/audio/generate/%s", c.baseURL, sessionID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("generate failed (%d)", resp.StatusCode)
	}
	return nil
}

// Status reads the generation snapshot.
func (c *Client) Status(ctx context.Context, sessionID string) (StatusSnapshot, error) {
	var snap StatusSnapshot

	req, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/audio/status/%s", c.baseURL, sessionID), nil)
	if err != nil {
		return snap, fmt.Errorf("create status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("status failed (%d)", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}

// Reset clears server-side generation state. Idempotent.
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/audio/reset/%s", c.baseURL, sessionID), nil)
	if err != nil {
		return fmt.Errorf("create reset request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reset request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("reset failed (%d)", resp.StatusCode)
	}
	return nil
}

// Download streams the finished narration artifact. The caller owns the
// returned body.
func (c *Client) Download(ctx context.Context, sessionID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/audio/download/%s", c.baseURL, sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed (%d)", resp.StatusCode)
	}
	return resp.Body, nil
}

// Manifest fetches and parses a media playlist. manifestURL may be relative
// to the client's base URL. 404 maps to ErrManifestNotFound.
func (c *Client) Manifest(ctx context.Context, manifestURL string) (*hls.Playlist, error) {
	abs, err := c.resolve(manifestURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", abs, nil)
	if err != nil {
		return nil, fmt.Errorf("create manifest request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrManifestNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest failed (%d)", resp.StatusCode)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return hls.Parse(string(text))
}

// Segment fetches one segment referenced by a playlist. uri is resolved
// against the manifest URL the playlist came from.
func (c *Client) Segment(ctx context.Context, manifestURL, uri string) ([]byte, error) {
	base, err := c.resolve(manifestURL)
	if err != nil {
		return nil, err
	}
	baseU, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse manifest URL: %w", err)
	}
	ref, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse segment URI: %w", err)
	}
	abs := baseU.ResolveReference(ref).String()

	req, err := http.NewRequestWithContext(ctx, "GET", abs, nil)
	if err != nil {
		return nil, fmt.Errorf("create segment request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("segment request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("segment failed (%d)", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Voices fetches the full catalog (always a re-fetch, never a local patch).
func (c *Client) Voices(ctx context.Context) ([]VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/audio/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("create voices request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voices request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voices failed (%d)", resp.StatusCode)
	}

	var payload struct {
		Voices []VoiceProfile `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return payload.Voices, nil
}

// UploadVoice posts a recorded sample as a new catalog entry and returns the
// assigned voice id.
func (c *Client) UploadVoice(ctx context.Context, name string, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "sample.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("name", name); err != nil {
		return "", fmt.Errorf("write name field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/admin/voices", &body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return result.ID, nil
}

// OpenPreview dials the low-latency preview websocket for a session. The
// returned stream plugs into Scheduler.Run as a ChunkSource.
func (c *Client) OpenPreview(ctx context.Context, sessionID string) (*PreviewStream, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/audio/preview/" + sessionID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial preview stream: %w", err)
	}
	return &PreviewStream{conn: conn}, nil
}

func (c *Client) resolve(ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref, nil
}

// PreviewStream adapts a preview websocket to the ChunkSource interface.
type PreviewStream struct {
	conn *websocket.Conn
}

// Next blocks for the next binary PCM message. A normal close maps to io.EOF.
func (p *PreviewStream) Next(ctx context.Context) ([]byte, error) {
	for {
		kind, data, err := p.conn.ReadMessage()
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return data, nil
		}
		// Text/control frames carry no audio; keep reading.
	}
}

// Close tears the connection down, unblocking any pending Next.
func (p *PreviewStream) Close() error {
	return p.conn.Close()
}
