package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"chorus/backend/internal/adapter"
	"chorus/backend/internal/constants"
	"chorus/backend/internal/health"
	"chorus/backend/internal/history"
	"chorus/backend/internal/playback"
	"chorus/backend/internal/realtime"
	apperrors "chorus/backend/pkg/errors"

	"github.com/bwmarrin/discordgo"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Mock implementations for testing
type mockPlayback struct {
	connected bool
	volume    float64
	speaks    []playback.SpeakRequest
	pcm       [][]byte
	evicted   []string
	stopped   int
}

func (m *mockPlayback) Speak(req playback.SpeakRequest) playback.Result {
	if !m.connected {
		return playback.Result{Status: playback.StatusError, Message: constants.MsgNotConnected}
	}
	m.speaks = append(m.speaks, req)
	return playback.Result{Status: playback.StatusSuccess, Message: constants.MsgQueuedTTS}
}

func (m *mockPlayback) PlayPCM(guildID string, mono48 []byte) playback.Result {
	m.pcm = append(m.pcm, mono48)
	return playback.Result{Status: playback.StatusSuccess}
}

func (m *mockPlayback) SetVolume(guildID string, v float64) float64 {
	m.volume = v
	return v
}

func (m *mockPlayback) Volume(guildID string) float64 { return m.volume }

func (m *mockPlayback) Stop(guildID string) bool {
	m.stopped++
	return m.connected
}

func (m *mockPlayback) Connected(guildID string) bool { return m.connected }

func (m *mockPlayback) Evict(guildID string) {
	m.evicted = append(m.evicted, guildID)
	m.connected = false
}

type mockHistory struct {
	msgs     map[string][]history.Message
	voice    map[string]string
	ttsVoice map[string]string
	mode     map[string]string
}

func newMockHistory() *mockHistory {
	return &mockHistory{
		msgs:     map[string][]history.Message{},
		voice:    map[string]string{},
		ttsVoice: map[string]string{},
		mode:     map[string]string{},
	}
}

func (m *mockHistory) Get(ctx context.Context, g, u string) []history.Message {
	return append([]history.Message(nil), m.msgs[g+u]...)
}

func (m *mockHistory) Append(ctx context.Context, g, u string, msg history.Message) {
	m.msgs[g+u] = append(m.msgs[g+u], msg)
}

func (m *mockHistory) Clear(ctx context.Context, g, u string) { delete(m.msgs, g+u) }

func (m *mockHistory) VoicePreference(ctx context.Context, g, u string) string { return m.voice[g+u] }

func (m *mockHistory) SetVoicePreference(ctx context.Context, g, u, v string) { m.voice[g+u] = v }

func (m *mockHistory) TTSVoice(ctx context.Context, g, u string) string { return m.ttsVoice[g+u] }

func (m *mockHistory) SetTTSVoice(ctx context.Context, g, u, v string) { m.ttsVoice[g+u] = v }

func (m *mockHistory) ConversationMode(ctx context.Context, g, u string) string {
	if m.mode[g+u] == history.ModeVoice {
		return history.ModeVoice
	}
	return history.ModeText
}

func (m *mockHistory) SetConversationMode(ctx context.Context, g, u, mode string) { m.mode[g+u] = mode }

type mockVoices []string

func (m mockVoices) IsVoice(voice string) bool {
	for _, v := range m {
		if v == voice {
			return true
		}
	}
	return false
}

func (m mockVoices) Voices() []string { return m }

type mockChat struct {
	responses []*adapter.Response
	err       error
	calls     [][]adapter.Turn
	tools     [][]adapter.Tool
}

func (m *mockChat) Generate(ctx context.Context, systemPrompt string, turns []adapter.Turn, tools []adapter.Tool) (*adapter.Response, error) {
	m.calls = append(m.calls, append([]adapter.Turn(nil), turns...))
	m.tools = append(m.tools, tools)
	if m.err != nil {
		return nil, m.err
	}
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

type mockAgents struct {
	active  map[string]bool
	fail    bool
	onAudio func([]byte)
	closed  []string
}

func (m *mockAgents) Start(ctx context.Context, g, u string, onAudio func([]byte)) *realtime.Client {
	if m.fail {
		return nil
	}
	m.active[g+u] = true
	m.onAudio = onAudio
	return &realtime.Client{}
}

func (m *mockAgents) Stop(g, u string) bool {
	was := m.active[g+u]
	delete(m.active, g+u)
	return was
}

func (m *mockAgents) CloseGuild(g string) { m.closed = append(m.closed, g) }

type mockTools struct {
	calls []string
	err   error
}

func (m *mockTools) Execute(ctx context.Context, g, u, name string, args map[string]any) (any, error) {
	m.calls = append(m.calls, name)
	if m.err != nil {
		return nil, m.err
	}
	return map[string]any{"ok": true}, nil
}

type mockVoice struct {
	channel string
	joinErr error
	joined  []string
	left    []string
}

func (m *mockVoice) UserChannel(g, u string) (string, error) {
	if m.channel == "" {
		return "", apperrors.NewPrecondition("You need to be in a voice channel first.")
	}
	return m.channel, nil
}

func (m *mockVoice) Join(g, c string) error {
	if m.joinErr != nil {
		return m.joinErr
	}
	m.joined = append(m.joined, c)
	return nil
}

func (m *mockVoice) Leave(g string) error {
	m.left = append(m.left, g)
	return nil
}

type sentMessage struct {
	channelID string
	content   string
}

type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockSender) ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{}, nil
}

func (m *mockSender) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].content
}

type fixture struct {
	h      *Handler
	pb     *mockPlayback
	hist   *mockHistory
	chat   *mockChat
	agents *mockAgents
	tools  *mockTools
	voice  *mockVoice
	sender *mockSender
	flags  *health.Flags
}

func newFixture() *fixture {
	f := &fixture{
		pb:     &mockPlayback{volume: 0.8},
		hist:   newMockHistory(),
		chat:   &mockChat{responses: []*adapter.Response{{Content: "hello!"}}},
		agents: &mockAgents{active: map[string]bool{}},
		tools:  &mockTools{},
		voice:  &mockVoice{channel: "vc1"},
		sender: &mockSender{},
		flags:  health.NewFlags(),
	}
	f.h = NewHandler(Deps{
		Playback: f.pb,
		History:  f.hist,
		Voices:   mockVoices{"alloy", "echo", "nova", "onyx"},
		Chat:     f.chat,
		Agents:   f.agents,
		Tools:    f.tools,
		Voice:    f.voice,
		Sender:   f.sender,
		Flags:    f.flags,
	}, Options{Prefix: "!", Persona: "You are Chorus."}, zap.NewNop())
	return f
}

func cmd(content string) incoming {
	return incoming{GuildID: "g1", ChannelID: "c1", UserID: "u1", Content: content}
}

func TestCommand_Join(t *testing.T) {
	f := newFixture()
	f.h.handle(cmd("!join"))
	assert.Equal(t, []string{"vc1"}, f.voice.joined)
	assert.Equal(t, "Joined <#vc1>.", f.sender.last())

	f.voice.channel = ""
	f.h.handle(cmd("!join"))
	assert.Equal(t, "You need to be in a voice channel first.", f.sender.last())

	f.voice.channel = "vc1"
	f.voice.joinErr = apperrors.NewTransport("discord", "join voice channel", errors.New("4006"))
	f.h.handle(cmd("!join"))
	assert.Equal(t, "The voice service is unavailable right now, try again later.", f.sender.last())
}

func TestCommand_LeaveEvictsGuild(t *testing.T) {
	f := newFixture()
	f.pb.connected = true

	f.h.handle(cmd("!leave"))

	assert.Equal(t, []string{"g1"}, f.voice.left)
	assert.Equal(t, []string{"g1"}, f.pb.evicted)
	assert.Equal(t, []string{"g1"}, f.agents.closed)
	assert.Equal(t, "Left the voice channel.", f.sender.last())
}

func TestCommand_Say(t *testing.T) {
	f := newFixture()

	f.h.handle(cmd("!say hello there"))
	assert.Equal(t, constants.MsgNotConnected, f.sender.last())

	f.pb.connected = true
	f.hist.voice["g1u1"] = "coral"
	f.hist.ttsVoice["g1u1"] = "onyx"
	f.h.handle(cmd("!say hello there"))
	require.Len(t, f.pb.speaks, 1)
	assert.Equal(t, playback.SpeakRequest{GuildID: "g1", Text: "hello there", Voice: "onyx"}, f.pb.speaks[0])

	f.h.handle(cmd("!say"))
	assert.Contains(t, f.sender.last(), "Usage")
}

func TestCommand_VoiceAndVolume(t *testing.T) {
	f := newFixture()

	f.h.handle(cmd("!voice Verse"))
	assert.Equal(t, "verse", f.hist.voice["g1u1"])
	assert.Equal(t, "Agent voice set to **verse**. `!say` keeps its current voice.", f.sender.last())
	f.h.handle(cmd("!voice robot"))
	assert.Contains(t, f.sender.last(), "Unknown voice")
	assert.Contains(t, f.sender.last(), "nova")
	f.h.handle(cmd("!voice"))
	assert.Contains(t, f.sender.last(), "agent voice is **verse** and your speech voice is **default**")

	f.h.handle(cmd("!volume 40"))
	assert.InDelta(t, 0.4, f.pb.volume, 1e-9)
	assert.Equal(t, "Volume set to 40%.", f.sender.last())
	f.h.handle(cmd("!volume"))
	assert.Equal(t, "Volume is 40%.", f.sender.last())
	f.h.handle(cmd("!volume 400"))
	assert.Equal(t, "Volume must be a number from 0 to 100.", f.sender.last())
}

func TestCommand_SayUsesProviderVoice(t *testing.T) {
	f := newFixture()
	f.pb.connected = true

	f.h.handle(cmd("!voice Nova"))
	assert.Equal(t, "Speech voice set to **nova**. `!talk` keeps its current voice.", f.sender.last())
	assert.Empty(t, f.hist.voice["g1u1"])

	f.h.handle(cmd("!voice marin"))
	assert.Equal(t, "marin", f.hist.voice["g1u1"])

	f.h.handle(cmd("!voice echo"))
	assert.Equal(t, "Voice set to **echo**.", f.sender.last())
	assert.Equal(t, "echo", f.hist.voice["g1u1"])

	f.h.handle(cmd("!voice nova"))
	f.h.handle(cmd("!say hi"))
	require.Len(t, f.pb.speaks, 1)
	assert.Equal(t, "nova", f.pb.speaks[0].Voice)
	assert.Equal(t, "echo", f.hist.voice["g1u1"])
}

func TestCommand_TalkToggles(t *testing.T) {
	f := newFixture()

	f.h.handle(cmd("!talk"))
	assert.Equal(t, constants.MsgNotConnected, f.sender.last())

	f.pb.connected = true
	f.h.handle(cmd("!talk"))
	assert.True(t, f.agents.active["g1u1"])
	assert.Contains(t, f.sender.last(), "listening")

	// Agent replies arrive at 24kHz and are played at 48kHz
	f.agents.onAudio(make([]byte, 20))
	require.Len(t, f.pb.pcm, 1)
	assert.Len(t, f.pb.pcm[0], 40)

	f.h.handle(cmd("!talk"))
	assert.False(t, f.agents.active["g1u1"])
	assert.Equal(t, "Voice conversation ended.", f.sender.last())

	f.agents.fail = true
	f.h.handle(cmd("!talk"))
	assert.Equal(t, "The voice agent is unavailable right now, try again later.", f.sender.last())
}

func TestCommand_ModeAndForget(t *testing.T) {
	f := newFixture()
	f.hist.msgs["g1u1"] = []history.Message{{Role: history.RoleUser, Content: "hi"}}

	f.h.handle(cmd("!mode voice"))
	assert.Equal(t, history.ModeVoice, f.hist.mode["g1u1"])
	f.h.handle(cmd("!mode loud"))
	assert.Contains(t, f.sender.last(), "Usage")

	f.h.handle(cmd("!forget"))
	assert.Empty(t, f.hist.msgs["g1u1"])
}

func TestCommand_GuildOnlyInDMs(t *testing.T) {
	f := newFixture()
	f.h.handle(incoming{ChannelID: "dm1", UserID: "u1", Content: "!join"})
	assert.Equal(t, msgGuildOnly, f.sender.last())
	assert.Empty(t, f.voice.joined)

	f.h.handle(incoming{ChannelID: "dm1", UserID: "u1", Content: "!help"})
	assert.Contains(t, f.sender.last(), "`!join`")
}

func TestChat_MentionRepliesAndRecordsHistory(t *testing.T) {
	f := newFixture()
	f.hist.msgs["g1u1"] = []history.Message{
		{Role: history.RoleUser, Content: "earlier"},
		{Role: history.RoleAssistant, Content: "reply"},
	}

	f.h.handle(incoming{GuildID: "g1", ChannelID: "c1", UserID: "u1", Content: "how are you", Mentioned: true})

	require.Len(t, f.chat.calls, 1)
	turns := f.chat.calls[0]
	require.Len(t, turns, 3)
	assert.Equal(t, "how are you", turns[2].Content)
	assert.Equal(t, "hello!", f.sender.last())
	assert.Len(t, f.hist.msgs["g1u1"], 4)
	assert.Empty(t, f.pb.speaks, "text mode does not speak")
}

func TestChat_IgnoresUnmentionedGuildMessages(t *testing.T) {
	f := newFixture()
	f.h.handle(incoming{GuildID: "g1", ChannelID: "c1", UserID: "u1", Content: "just chatting"})
	assert.Empty(t, f.chat.calls)
	assert.Empty(t, f.sender.sent)
}

func TestChat_VoiceModeSpeaksReply(t *testing.T) {
	f := newFixture()
	f.pb.connected = true
	f.hist.mode["g1u1"] = history.ModeVoice
	f.hist.ttsVoice["g1u1"] = "sage"

	f.h.handle(incoming{GuildID: "g1", ChannelID: "c1", UserID: "u1", Content: "tell me a joke", Mentioned: true})

	require.Len(t, f.pb.speaks, 1)
	assert.Equal(t, playback.SpeakRequest{GuildID: "g1", Text: "hello!", Voice: "sage"}, f.pb.speaks[0])
}

func TestChat_RunsToolsBetweenRounds(t *testing.T) {
	f := newFixture()
	f.chat.responses = []*adapter.Response{
		{ToolCalls: []adapter.ToolCall{{ID: "call_1", Name: "set_volume", Arguments: map[string]interface{}{"level": float64(30)}}}},
		{Content: "Turned it down."},
	}

	f.h.handle(incoming{GuildID: "g1", ChannelID: "c1", UserID: "u1", Content: "quieter please", Mentioned: true})

	assert.Equal(t, []string{"set_volume"}, f.tools.calls)
	require.Len(t, f.chat.calls, 2)
	second := f.chat.calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, openai.ChatMessageRoleTool, second[2].Role)
	assert.Equal(t, "call_1", second[2].ToolCallID)
	assert.JSONEq(t, `{"success":true,"result":{"ok":true}}`, second[2].Content)
	assert.NotEmpty(t, f.chat.tools[0])
	assert.Equal(t, "Turned it down.", f.sender.last())
}

func TestChat_FailureShowsCannedMessage(t *testing.T) {
	f := newFixture()
	f.chat.err = apperrors.NewTransport("llm", "chat completion failed", errors.New("secret upstream detail"))

	f.h.handle(incoming{GuildID: "g1", ChannelID: "c1", UserID: "u1", Content: "hi", Mentioned: true})

	assert.Equal(t, "The voice service is unavailable right now, try again later.", f.sender.last())
	assert.NotContains(t, f.sender.last(), "secret")
	assert.Empty(t, f.hist.msgs["g1u1"])
}

func TestSendText_UsesLastChannel(t *testing.T) {
	f := newFixture()

	assert.Error(t, f.h.SendText("g1", "u1", "hi"))

	f.h.handle(cmd("!volume"))
	require.NoError(t, f.h.SendText("g1", "u1", "a link"))
	assert.Equal(t, sentMessage{channelID: "c1", content: "a link"}, f.sender.sent[len(f.sender.sent)-1])
}

func TestReadyAndGuildDelete(t *testing.T) {
	f := newFixture()
	assert.False(t, f.h.Ready())

	f.h.HandleReady(nil, &discordgo.Ready{User: &discordgo.User{Username: "chorus"}})
	assert.True(t, f.h.Ready())
	ok, _ := f.flags.Get(health.FlagDiscordReady)
	assert.True(t, ok)

	f.h.HandleDisconnect(nil, &discordgo.Disconnect{})
	assert.False(t, f.h.Ready())

	f.h.HandleGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g9", Unavailable: true}})
	assert.Empty(t, f.pb.evicted)
	assert.Empty(t, f.voice.left)
	f.h.HandleGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g9"}})
	assert.Equal(t, []string{"g9"}, f.voice.left, "voice link must be dropped so a later join reconnects")
	assert.Equal(t, []string{"g9"}, f.pb.evicted)
	assert.Equal(t, []string{"g9"}, f.agents.closed)
}

func TestSplitMessage(t *testing.T) {
	short := "fits"
	assert.Equal(t, []string{short}, splitMessage(short, 100))

	lines := strings.TrimSuffix(strings.Repeat("line of text\n", 30), "\n")
	chunks := splitMessage(lines, 100)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 100)
	}
	assert.Equal(t, lines, strings.Join(chunks, "\n"))

	long := strings.Repeat("word ", 100)
	for _, c := range splitMessage(long, 64) {
		assert.LessOrEqual(t, len(c), 64)
	}
}

func TestSplitMessage_ReopensCodeFence(t *testing.T) {
	code := "```go\n" + strings.Repeat("x := 1\n", 40) + "```"
	chunks := splitMessage(code, 120)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 120)
		assert.True(t, strings.HasPrefix(c, "```go"), c)
		assert.True(t, strings.HasSuffix(c, "```"), c)
	}
}

func TestSendLongMessage_AddsPartIndicators(t *testing.T) {
	f := newFixture()
	chunkPause = 0

	text := strings.Repeat("a sentence that repeats. ", 120)
	require.NoError(t, f.h.sendLongMessage("c1", text))

	require.Greater(t, len(f.sender.sent), 1)
	for _, m := range f.sender.sent {
		assert.LessOrEqual(t, len(m.content), constants.DiscordMaxMessageLength)
		assert.Contains(t, m.content, "*(Part ")
	}
}
