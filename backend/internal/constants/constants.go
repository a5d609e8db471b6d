package constants

import "time"

// Audio format constants
const (
	// DiscordSampleRate is the sample rate of the Discord voice transport
	DiscordSampleRate = 48000
	// DiscordChannels is the channel count of the Discord voice transport
	DiscordChannels = 2
	// FrameDuration is the duration of one transport frame
	FrameDuration = 20 * time.Millisecond
	// FrameSamplesPerChannel is the number of samples per channel in one 20ms frame at 48kHz
	FrameSamplesPerChannel = 960
	// FrameBytes is one 20ms frame of 48kHz 16-bit stereo PCM
	FrameBytes = FrameSamplesPerChannel * DiscordChannels * 2

	// AgentSampleRate is the fixed realtime agent audio rate (mono PCM16, both directions)
	AgentSampleRate = 24000
)

// Playback constants
const (
	// DefaultPlaybackTimeout bounds a playback wait when the caller gives none
	DefaultPlaybackTimeout = 30 * time.Second
	// TTSPlaybackTimeout bounds the wait for a synthesized clip
	TTSPlaybackTimeout = 60 * time.Second
	// DedupeWindow is how long an identical (voice, text) repeat is suppressed
	DedupeWindow = 1500 * time.Millisecond
	// OpusSendTimeout bounds a single frame hand-off to the voice connection
	OpusSendTimeout = 5 * time.Second
)

// User-facing speak messages
const (
	MsgNotConnected   = "Not connected to voice channel"
	MsgDuplicateTTS   = "Dropped duplicate TTS (burst dedupe)"
	MsgQueuedTTS      = "Queued for playback"
	MsgBotNotReady    = "Bot not ready"
	MsgAgentNoPersona = "You are a friendly voice assistant in a Discord voice channel. Keep replies short and conversational."
	MsgChatNoPersona  = "You are a friendly assistant in a Discord server. Keep replies concise."
)

// Realtime agent constants
const (
	// RealtimeDialTimeout bounds the websocket handshake
	RealtimeDialTimeout = 10 * time.Second
	// RealtimeWriteTimeout bounds a single outbound frame
	RealtimeWriteTimeout = 5 * time.Second
	// RealtimeToolTimeout bounds one function call
	RealtimeToolTimeout = 15 * time.Second
	// RealtimeStoreTimeout bounds history store lookups made from the socket reader
	RealtimeStoreTimeout = 2 * time.Second
	// MinAgentAudioBytes drops inbound capture chunks too short to be speech
	MinAgentAudioBytes = 256
	// DefaultAgentVoice is used when neither the user nor config picks a valid voice
	DefaultAgentVoice = "marin"
)

// History constants
const (
	// MaxHistoryEntries caps each per-user conversation history
	MaxHistoryEntries = 20
)

// Job queue constants
const (
	// TaskTypeSpeak is the asynq task type for TTS jobs
	TaskTypeSpeak = "tts:speak"
	// QueueConnectBase is the first retry delay when connecting to the queue transport
	QueueConnectBase = 1 * time.Second
	// QueueConnectCap caps the retry delay
	QueueConnectCap = 10 * time.Second
	// QueueConnectAttempts is how many connection attempts are made before giving up
	QueueConnectAttempts = 5
)

// Discord constants
const (
	// DiscordMaxMessageLength is the maximum character limit for Discord messages
	DiscordMaxMessageLength = 2000
	// ChatTurnTimeout bounds one text chat turn including tool calls
	ChatTurnTimeout = 60 * time.Second
	// MaxChatToolRounds caps model/tool round trips in one chat turn
	MaxChatToolRounds = 3
	// VoiceReadyTimeout bounds the wait for a fresh voice connection to become ready
	VoiceReadyTimeout = 5 * time.Second
)
