package queue

const (
	TypeNarrationGenerate = "narration:generate"
)

type NarrationGeneratePayload struct {
	SessionID string            `json:"session_id"`
	Overrides map[string]string `json:"overrides,omitempty"`
}
