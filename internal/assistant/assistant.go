// Package assistant is a chat-completion helper that sits beside the
// messaging engine. It keeps its own conversation and credential.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/localnet-go/internal/config"
	"github.com/comigor/localnet-go/internal/llm"
	"github.com/comigor/localnet-go/internal/logger"
	"github.com/comigor/localnet-go/internal/storage"
)

// CredentialKey is the store key holding the API key.
const CredentialKey = "openai_api_key"

// FallbackReply is returned when the completion has no choices.
const FallbackReply = "Sorry, I could not generate a response."

var (
	ErrMissingCredential = errors.New("OpenAI API key is required")
	ErrBusy              = errors.New("assistant is already answering")
	ErrInvalidCredential = errors.New("please enter a valid API key")
	ErrEmptyMessage      = errors.New("message is empty")
)

// FSM States
type fsmState string

const (
	stateIdle     fsmState = "Idle"
	stateAwaiting fsmState = "AwaitingLLMResponse"
)

// FSM Triggers
type fsmTrigger string

const (
	triggerSend      fsmTrigger = "Send"
	triggerResponded fsmTrigger = "Responded"
	triggerFailed    fsmTrigger = "Failed"
)

type Role string

const (
	RoleUser      Role = openai.ChatMessageRoleUser
	RoleAssistant Role = openai.ChatMessageRoleAssistant
)

// Turn is one entry of the assistant conversation.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type Assistant struct {
	store     storage.Store
	cfg       config.AssistantConfig
	newClient llm.Factory
	fsm       *stateless.StateMachine

	mu      sync.Mutex
	apiKey  string
	client  llm.Client
	history []Turn
}

// New creates an assistant and loads the persisted credential, falling back
// to cfg.APIKey. A nil factory uses llm.NewClient.
func New(store storage.Store, cfg config.AssistantConfig, factory llm.Factory) *Assistant {
	if factory == nil {
		factory = llm.NewClient
	}
	a := &Assistant{store: store, cfg: cfg, newClient: factory}

	fsm := stateless.NewStateMachine(stateIdle)
	fsm.Configure(stateIdle).
		Permit(triggerSend, stateAwaiting)
	fsm.Configure(stateAwaiting).
		Permit(triggerResponded, stateIdle).
		Permit(triggerFailed, stateIdle)
	a.fsm = fsm

	backgroundCtx := context.Background()
	key, err := store.Get(backgroundCtx, CredentialKey)
	switch {
	case err == nil && strings.TrimSpace(key) != "":
		logger.L.Debug("assistant credential loaded from store")
	case err == nil, errors.Is(err, storage.ErrNotFound):
		key = cfg.APIKey
	default:
		logger.L.Warn("failed to read assistant credential; using config", "error", err)
		key = cfg.APIKey
	}
	a.setKeyLocked(key)
	return a
}

// SaveCredential stores key and uses it for later requests. The key is kept
// in memory even when persisting fails. A blank key is rejected and changes
// nothing.
func (a *Assistant) SaveCredential(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidCredential
	}
	a.mu.Lock()
	a.setKeyLocked(key)
	a.mu.Unlock()

	if err := a.store.Set(ctx, CredentialKey, key); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	logger.L.Info("assistant credential saved")
	return nil
}

func (a *Assistant) setKeyLocked(key string) {
	a.apiKey = key
	a.client = nil
	if key != "" {
		a.client = a.newClient(key, a.cfg.BaseURL)
	}
}

func (a *Assistant) HasCredential() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiKey != ""
}

// Loading reports whether a request is in flight.
func (a *Assistant) Loading() bool {
	return a.fsm.MustState() == stateAwaiting
}

// Send asks the model to answer text, given the conversation so far. The
// user turn is kept even when the request fails.
func (a *Assistant) Send(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return "", ErrMissingCredential
	}

	if err := a.fsm.FireCtx(ctx, triggerSend); err != nil {
		return "", ErrBusy
	}

	a.mu.Lock()
	messages := a.requestMessagesLocked(text)
	a.history = append(a.history, Turn{Role: RoleUser, Content: text, At: time.Now()})
	a.mu.Unlock()

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		logger.L.Error("LLM call failed", "error", err)
		if fireErr := a.fsm.Fire(triggerFailed); fireErr != nil {
			logger.L.Warn("FSM fire error", "error", fireErr)
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	reply := FallbackReply
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		reply = resp.Choices[0].Message.Content
	}
	logger.L.Debug("LLM response received", "choices", len(resp.Choices))

	a.mu.Lock()
	a.history = append(a.history, Turn{Role: RoleAssistant, Content: reply, At: time.Now()})
	a.mu.Unlock()

	if err := a.fsm.Fire(triggerResponded); err != nil {
		logger.L.Warn("FSM fire error", "error", err)
	}
	return reply, nil
}

func (a *Assistant) requestMessagesLocked(text string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(a.history)+2)
	if a.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: a.cfg.SystemPrompt})
	}
	for _, t := range a.history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
}

// Clear forgets the conversation. The credential is kept.
func (a *Assistant) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
}

func (a *Assistant) History() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.history))
	copy(out, a.history)
	return out
}
