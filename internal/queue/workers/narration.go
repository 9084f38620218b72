package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/generation"
	"github.com/tech42-org/story42-hackathon-2025-sub000/internal/queue"
)

// NarrationWorker consumes narration:generate tasks and drives the
// synthesizer for one session per task.
type NarrationWorker struct {
	synth *generation.Synthesizer
}

func NewNarrationWorker(synth *generation.Synthesizer) *NarrationWorker {
	return &NarrationWorker{synth: synth}
}

func (w *NarrationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.NarrationGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal narration payload: %w", err)
	}

	slog.Info("narration job started", "session_id", payload.SessionID,
		"overrides", len(payload.Overrides))
	return w.synth.Run(ctx, payload.SessionID, payload.Overrides)
}
