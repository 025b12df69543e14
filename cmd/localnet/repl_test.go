package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/localnet-go/internal/assistant"
	"github.com/comigor/localnet-go/internal/config"
	"github.com/comigor/localnet-go/internal/engine"
	"github.com/comigor/localnet-go/internal/llm"
	"github.com/comigor/localnet-go/internal/presence"
	"github.com/comigor/localnet-go/internal/storage"
)

type cannedLLM struct{ reply string }

func (c cannedLLM) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: c.reply}}},
	}, nil
}

func newTestREPL(t *testing.T) (*repl, *bytes.Buffer, *clockwork.FakeClock) {
	t.Helper()
	store := storage.NewMemory()
	clock := clockwork.NewFakeClock()
	eng, err := engine.New(config.Default(), store, engine.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Close() })

	ai := assistant.New(store, config.Default().Assistant, func(string, string) llm.Client {
		return cannedLLM{reply: "beep"}
	})
	var out bytes.Buffer
	r := newREPL(eng, ai, &out)
	r.plain = true
	return r, &out, clock
}

func TestHandle_Peers(t *testing.T) {
	r, out, _ := newTestREPL(t)
	require.False(t, r.handle(context.Background(), "/peers"))

	text := out.String()
	for _, name := range []string{"Alice", "Bob", "Charlie"} {
		require.Contains(t, text, name)
	}
	require.Contains(t, text, "2 online")
}

func TestHandle_SendAndSelect(t *testing.T) {
	r, out, clock := newTestREPL(t)
	ctx := context.Background()

	r.handle(ctx, "hello all")
	require.Contains(t, out.String(), "[Broadcast] hello all")

	r.handle(ctx, "/to 2")
	require.Equal(t, "2", r.eng.Selected())
	require.Contains(t, out.String(), "now chatting in Bob")

	r.handle(ctx, "hi Bob")
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return r.eng.PendingReplies() == 0 }, time.Second, time.Millisecond)

	out.Reset()
	r.handle(ctx, "/history")
	require.Contains(t, out.String(), "hi Bob")
	require.Contains(t, out.String(), "Echo: hi Bob")
	require.NotContains(t, out.String(), "hello all")

	r.handle(ctx, "/to 2")
	require.Empty(t, r.eng.Selected())

	out.Reset()
	r.handle(ctx, "/to 42")
	require.Contains(t, out.String(), "unknown peer 42")
}

func TestHandle_Presence(t *testing.T) {
	r, _, _ := newTestREPL(t)
	ctx := context.Background()

	r.handle(ctx, "/offline 1")
	alice, _ := r.eng.Peer("1")
	require.Equal(t, presence.Offline, alice.Presence)

	r.handle(ctx, "/online 3")
	charlie, _ := r.eng.Peer("3")
	require.Equal(t, presence.Online, charlie.Presence)
}

func TestHandle_Assistant(t *testing.T) {
	r, out, _ := newTestREPL(t)
	ctx := context.Background()

	r.handle(ctx, "/ai hello")
	require.Contains(t, out.String(), "API key is required")

	out.Reset()
	r.handle(ctx, "/ai-key")
	require.Contains(t, out.String(), "valid API key")
	require.NotContains(t, out.String(), "assistant key saved")
	require.False(t, r.ai.HasCredential())

	r.handle(ctx, "/ai-key sk-test")
	r.handle(ctx, "/ai hello")
	require.Contains(t, out.String(), "assistant: beep")

	r.handle(ctx, "/ai-clear")
	require.Empty(t, r.ai.History())
}

func TestHandle_Misc(t *testing.T) {
	r, out, _ := newTestREPL(t)
	ctx := context.Background()

	r.handle(ctx, "/whoami")
	require.Contains(t, out.String(), r.eng.CurrentUser())

	r.handle(ctx, "/bogus")
	require.Contains(t, out.String(), "unknown command /bogus")

	require.True(t, r.handle(ctx, "/quit"))
}

func TestRun_StopsOnQuitAndEOF(t *testing.T) {
	r, _, _ := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.run(ctx, strings.NewReader("hello\n/quit\nnever sent\n")))
	require.Len(t, r.eng.AllMessages(), 1)

	require.NoError(t, r.run(ctx, strings.NewReader("again\n")))
	require.Len(t, r.eng.AllMessages(), 2)
}

func TestWatch_PrintsReplies(t *testing.T) {
	r, out, clock := newTestREPL(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.watch(ctx) }()

	// let watch subscribe before sending
	require.Eventually(t, func() bool {
		r.eng.SetPresence("1", presence.Offline)
		r.eng.SetPresence("1", presence.Online)
		r.mu.Lock()
		defer r.mu.Unlock()
		return strings.Contains(out.String(), "Alice is now online")
	}, time.Second, 10*time.Millisecond)

	r.handle(context.Background(), "/to 1")
	r.handle(context.Background(), "ping")
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return strings.Contains(out.String(), "Alice: Echo: ping")
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
