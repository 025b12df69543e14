// Package engine wires presence, the message log, delivery simulation and
// session identity into the API the front end talks to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/comigor/localnet-go/internal/config"
	"github.com/comigor/localnet-go/internal/delivery"
	"github.com/comigor/localnet-go/internal/history"
	"github.com/comigor/localnet-go/internal/identity"
	"github.com/comigor/localnet-go/internal/logger"
	"github.com/comigor/localnet-go/internal/presence"
	"github.com/comigor/localnet-go/internal/random"
	"github.com/comigor/localnet-go/internal/storage"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("engine closed")

type Engine struct {
	identity  *identity.Identity
	registry  *presence.Registry
	refresher *presence.Refresher
	log       *history.Log
	sim       *delivery.Simulator
	filter    history.FilterMode

	mu       sync.Mutex
	started  bool
	closed   bool
	user     string
	selected string
}

type options struct {
	clock clockwork.Clock
	rnd   random.Source
	seed  []presence.Peer
}

type Option func(*options)

// WithClock drives presence timestamps, message times, reply timers and the
// refresh schedule.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithRandom sets the source for presence draws, reply delays and name
// generation.
func WithRandom(src random.Source) Option {
	return func(o *options) { o.rnd = src }
}

// WithSeed replaces the default peer roster.
func WithSeed(peers []presence.Peer) Option {
	return func(o *options) { o.seed = peers }
}

// New builds an engine from cfg. Nothing runs until Start.
func New(cfg config.Config, store storage.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("nil store")
	}
	o := options{clock: clockwork.NewRealClock(), rnd: random.New()}
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := delivery.ParsePolicy(cfg.Delivery.Policy)
	if err != nil {
		return nil, fmt.Errorf("failed to configure delivery: %w", err)
	}
	filter, err := history.ParseFilterMode(cfg.History.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to configure history: %w", err)
	}

	regOpts := []presence.Option{
		presence.WithClock(o.clock),
		presence.WithRandom(o.rnd),
		presence.WithOnlineProbability(cfg.Presence.OnlineProbability),
	}
	if o.seed != nil {
		regOpts = append(regOpts, presence.WithSeed(o.seed))
	}
	registry := presence.NewRegistry(regOpts...)

	refresher, err := presence.NewRefresher(registry, cfg.Presence.RefreshInterval, o.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create presence refresher: %w", err)
	}

	log := history.NewLog(history.WithClock(o.clock), history.WithLimit(cfg.History.MaxMessages))
	sim := delivery.New(registry, log,
		delivery.WithClock(o.clock),
		delivery.WithRandom(o.rnd),
		delivery.WithDelay(cfg.Delivery.MinDelay, cfg.Delivery.MaxDelay),
		delivery.WithPolicy(policy),
	)

	return &Engine{
		identity:  identity.New(store, identity.WithRandom(o.rnd)),
		registry:  registry,
		refresher: refresher,
		log:       log,
		sim:       sim,
		filter:    filter,
	}, nil
}

// Start resolves the session identity, seeds the roster and starts the
// presence refresh. Calling it again is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.started {
		return nil
	}

	e.user = e.identity.GetOrCreate(ctx)
	e.registry.Initialize()
	if err := e.refresher.Start(); err != nil {
		return fmt.Errorf("failed to start presence refresher: %w", err)
	}
	e.started = true
	logger.L.Info("engine started", "user", e.user, "peers", len(e.registry.Snapshot()))
	return nil
}

// SendDirect appends text as a Sent message to recipientID and schedules the
// simulated reply. It reports false, appending nothing, for blank text or
// before Start.
func (e *Engine) SendDirect(text, recipientID string) (history.Message, bool) {
	user, ok := e.sender(text)
	if !ok {
		return history.Message{}, false
	}
	msg := e.log.AppendSent(text, user, recipientID)
	if _, scheduled := e.sim.Schedule(text, recipientID); !scheduled {
		logger.L.Debug("no reply expected", "peer", recipientID)
	}
	return msg, true
}

// SendBroadcast appends text with the broadcast marker. Broadcasts never get
// a reply.
func (e *Engine) SendBroadcast(text string) (history.Message, bool) {
	user, ok := e.sender(text)
	if !ok {
		return history.Message{}, false
	}
	return e.log.AppendSent(history.BroadcastBody(text), user, ""), true
}

func (e *Engine) sender(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.closed {
		return "", false
	}
	return e.user, true
}

// Select makes peerID the active conversation. An empty id selects the
// broadcast channel. Unknown ids leave the selection unchanged.
func (e *Engine) Select(peerID string) bool {
	if peerID != "" {
		if _, ok := e.registry.Get(peerID); !ok {
			return false
		}
	}
	e.mu.Lock()
	e.selected = peerID
	e.mu.Unlock()
	return true
}

// Toggle selects peerID, or returns to broadcast when it is already active.
func (e *Engine) Toggle(peerID string) bool {
	e.mu.Lock()
	active := e.selected
	e.mu.Unlock()
	if peerID != "" && peerID == active {
		return e.Select("")
	}
	return e.Select(peerID)
}

// Selected returns the active peer id, empty for broadcast.
func (e *Engine) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Messages returns the log as seen from the active conversation.
func (e *Engine) Messages() []history.Message {
	e.mu.Lock()
	user, selected := e.user, e.selected
	e.mu.Unlock()

	scope := history.Scope{}
	if selected != "" {
		peer, _ := e.registry.Get(selected)
		scope = history.Scope{PeerID: peer.ID, PeerName: peer.Name}
	}
	return history.Filter(e.log.Snapshot(), scope, user, e.filter)
}

// AllMessages returns the unfiltered log.
func (e *Engine) AllMessages() []history.Message { return e.log.Snapshot() }

func (e *Engine) Peers() []presence.Peer { return e.registry.Snapshot() }

func (e *Engine) Peer(id string) (presence.Peer, bool) { return e.registry.Get(id) }

func (e *Engine) OnlineCount() int { return e.registry.OnlineCount() }

func (e *Engine) Connected() bool { return e.registry.Connected() }

// SetPresence forces a peer's presence, bypassing the random refresh.
func (e *Engine) SetPresence(id string, p presence.Presence) bool {
	return e.registry.SetPresence(id, p)
}

// CurrentUser returns the session display name, empty before Start.
func (e *Engine) CurrentUser() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.user
}

func (e *Engine) SubscribeMessages() <-chan history.Message { return e.log.Subscribe() }

func (e *Engine) UnsubscribeMessages(ch <-chan history.Message) { e.log.Unsubscribe(ch) }

func (e *Engine) SubscribePeers() <-chan presence.Event { return e.registry.Subscribe() }

func (e *Engine) UnsubscribePeers(ch <-chan presence.Event) { e.registry.Unsubscribe(ch) }

// PendingReplies returns the number of simulated replies still due.
func (e *Engine) PendingReplies() int { return e.sim.Pending() }

// Close stops the presence refresh, cancels outstanding replies and closes
// all subscriptions.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.refresher.Stop()
	e.sim.Close()
	e.registry.Close()
	e.log.Close()
	logger.L.Info("engine closed")
	return err
}
