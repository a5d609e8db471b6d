package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsErrorType_ThroughWrappers(t *testing.T) {
	wrapped := fmt.Errorf("job failed: %w", ErrBotNotReady)

	assert.True(t, IsErrorType(wrapped, ErrorTypePrecondition))
	assert.False(t, IsErrorType(wrapped, ErrorTypeTransport))
	assert.False(t, IsErrorType(fmt.Errorf("plain"), ErrorTypePrecondition))
}

func TestTransport_UnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewTransport("openai", "speech request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[transport]")
	assert.Equal(t, "openai", err.Service)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "precondition keeps its reason", err: ErrNotConnected, want: "Not connected to voice channel"},
		{name: "config", err: NewConfigMissingKey("OPENAI_API_KEY"), want: "Voice features are not configured on this bot."},
		{name: "transport hides cause", err: NewTransport("elevenlabs", "boom", fmt.Errorf("secret detail")), want: "The voice service is unavailable right now, try again later."},
		{name: "timeout", err: NewTimeout("playback", time.Second), want: "That took too long, try again."},
		{name: "unknown", err: fmt.Errorf("raw"), want: "Something went wrong."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
