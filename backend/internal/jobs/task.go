// Package jobs moves speak requests through a durable Redis-backed queue.
package jobs

import (
	"strings"

	"chorus/backend/internal/constants"
	"chorus/backend/internal/playback"
	apperrors "chorus/backend/pkg/errors"

	"github.com/bytedance/sonic"
	"github.com/hibiken/asynq"
)

// Payload is the wire form of a TTS job
type Payload struct {
	GuildID string `json:"guildId"`
	Text    string `json:"text"`
	Voice   string `json:"voice,omitempty"`
}

// Validate rejects payloads that can never be spoken
func (p Payload) Validate() error {
	if strings.TrimSpace(p.GuildID) == "" {
		return apperrors.NewPrecondition("guildId is required")
	}
	if strings.TrimSpace(p.Text) == "" {
		return apperrors.NewPrecondition("text is required")
	}
	return nil
}

// SpeakRequest converts the payload for the playback registry
func (p Payload) SpeakRequest() playback.SpeakRequest {
	return playback.SpeakRequest{GuildID: p.GuildID, Text: p.Text, Voice: p.Voice}
}

// NewSpeakTask encodes p as an asynq task
func NewSpeakTask(p Payload) (*asynq.Task, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := sonic.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(constants.TaskTypeSpeak, data), nil
}

// DecodePayload parses a task payload
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := sonic.Unmarshal(data, &p); err != nil {
		return Payload{}, apperrors.NewProtocol(constants.TaskTypeSpeak, "invalid payload", err)
	}
	return p, p.Validate()
}

// Failure is a terminal job error. It carries asynq.SkipRetry so the task is
// archived on the first failure.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() []error {
	return []error{f.Err, asynq.SkipRetry}
}

func fail(message string, err error) error {
	return &Failure{Message: message, Err: err}
}
