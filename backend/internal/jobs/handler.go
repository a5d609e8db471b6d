package jobs

import (
	"context"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/playback"
	apperrors "chorus/backend/pkg/errors"
	"chorus/backend/pkg/logger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Readiness reports whether the bot can accept speech right now
type Readiness interface {
	Ready() bool
}

// ReadyFunc adapts a function to Readiness
type ReadyFunc func() bool

func (f ReadyFunc) Ready() bool { return f() }

// Speaker queues speech in a guild
type Speaker interface {
	Speak(req playback.SpeakRequest) playback.Result
}

var successResult = []byte(`{"status":"success"}`)

// Handler processes TTS jobs one at a time
type Handler struct {
	speaker Speaker
	ready   Readiness
	logger  *zap.Logger
}

// NewHandler creates a job handler
func NewHandler(speaker Speaker, ready Readiness, log *zap.Logger) *Handler {
	return &Handler{speaker: speaker, ready: ready, logger: logger.OrDefault(log).Named("jobs")}
}

// ProcessTask implements asynq.Handler
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := DecodePayload(t.Payload())
	if err != nil {
		return fail(err.Error(), err)
	}

	if h.ready == nil || !h.ready.Ready() {
		return fail(constants.MsgBotNotReady, apperrors.ErrBotNotReady)
	}

	res := h.speaker.Speak(p.SpeakRequest())
	if !res.OK() {
		return fail(res.Message, apperrors.NewPrecondition(res.Message))
	}

	h.logger.Debug("Speak job accepted",
		zap.String("guild_id", p.GuildID),
		zap.String("message", res.Message),
	)

	if w := t.ResultWriter(); w != nil {
		if _, err := w.Write(successResult); err != nil {
			h.logger.Warn("Failed to write job result", zap.Error(err))
		}
	}
	return nil
}
