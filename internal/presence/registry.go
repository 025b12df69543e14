// Package presence keeps the roster of known peers and their Online/Offline
// state. Each peer's presence is a two-state machine; the Refresher drives
// random transitions on a fixed period.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/qmuntal/stateless"
	"github.com/samber/lo"

	"github.com/comigor/localnet-go/internal/logger"
	"github.com/comigor/localnet-go/internal/random"
)

// Presence is a peer's binary availability state.
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

type trigger string

const (
	triggerSeen trigger = "seen"
	triggerLost trigger = "lost"
)

// DefaultOnlineProbability is the chance a peer is drawn Online on a refresh.
const DefaultOnlineProbability = 0.7

// Peer is a snapshot of one roster entry. LastSeenAt is only set while Offline.
type Peer struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Presence   Presence   `json:"presence"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// Online reports whether the peer is currently reachable.
func (p Peer) Online() bool { return p.Presence == Online }

func (p Peer) clone() Peer {
	if p.LastSeenAt != nil {
		t := *p.LastSeenAt
		p.LastSeenAt = &t
	}
	return p
}

// DefaultSeed is the fixed roster loaded by Initialize.
func DefaultSeed(now time.Time) []Peer {
	charlieSeen := now.Add(-5 * time.Minute)
	return []Peer{
		{ID: "1", Name: "Alice", Presence: Online},
		{ID: "2", Name: "Bob", Presence: Online},
		{ID: "3", Name: "Charlie", Presence: Offline, LastSeenAt: &charlieSeen},
	}
}

// EventType distinguishes roster notifications.
type EventType string

const (
	EventConnected EventType = "connected"
	EventUpdate    EventType = "update"
)

// Event is pushed to subscribers whenever the roster changes.
type Event struct {
	Type   EventType `json:"type"`
	PeerID string    `json:"peer_id,omitempty"`
	Peer   *Peer     `json:"peer,omitempty"`
}

type entry struct {
	peer Peer
	fsm  *stateless.StateMachine
}

// Registry owns the roster.
type Registry struct {
	clock             clockwork.Clock
	rnd               random.Source
	onlineProbability float64
	seed              func(now time.Time) []Peer

	mu        sync.Mutex
	order     []string
	entries   map[string]*entry
	connected bool
	closed    bool
	listeners []chan Event
}

// Option configures a Registry.
type Option func(*Registry)

func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithRandom(src random.Source) Option {
	return func(r *Registry) { r.rnd = src }
}

// WithSeed replaces the default roster.
func WithSeed(peers []Peer) Option {
	return func(r *Registry) {
		r.seed = func(time.Time) []Peer { return peers }
	}
}

func WithOnlineProbability(p float64) Option {
	return func(r *Registry) { r.onlineProbability = p }
}

// NewRegistry creates an empty, not yet connected registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:             clockwork.NewRealClock(),
		rnd:               random.New(),
		onlineProbability: DefaultOnlineProbability,
		seed:              DefaultSeed,
		entries:           make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize loads the seed roster and marks the registry connected. Later
// calls return the current roster unchanged.
func (r *Registry) Initialize() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connected || r.closed {
		return r.snapshotLocked()
	}

	for _, p := range r.seed(r.clock.Now()) {
		if _, dup := r.entries[p.ID]; dup {
			continue
		}
		if p.Presence != Online {
			p.Presence = Offline
		} else {
			p.LastSeenAt = nil
		}
		r.order = append(r.order, p.ID)
		r.entries[p.ID] = r.newEntry(p.clone())
	}
	r.connected = true
	logger.L.Info("presence registry connected", "peers", len(r.order))
	r.notify(Event{Type: EventConnected})
	return r.snapshotLocked()
}

// Refresh draws a fresh, independent presence for every peer and applies it.
func (r *Registry) Refresh() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.connected {
		return r.snapshotLocked()
	}

	changed := 0
	for _, id := range r.order {
		next := Offline
		if r.rnd.Float64() < r.onlineProbability {
			next = Online
		}
		if r.applyLocked(id, next) {
			changed++
		}
	}
	logger.L.Debug("presence refreshed", "changed", changed, "online", r.onlineCountLocked())
	return r.snapshotLocked()
}

// SetPresence forces one peer into p. It reports whether the peer exists.
func (r *Registry) SetPresence(id string, p Presence) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.entries[id]; !ok {
		return false
	}
	r.applyLocked(id, p)
	return true
}

// Get returns a copy of the peer with id.
func (r *Registry) Get(id string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Peer{}, false
	}
	return e.peer.clone(), true
}

// Snapshot returns the roster in seed order.
func (r *Registry) Snapshot() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// OnlineCount returns how many peers are Online.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineCountLocked()
}

// Connected reports whether Initialize ran and Close has not.
func (r *Registry) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected && !r.closed
}

// Subscribe returns a channel of roster events. Events are dropped when the
// channel buffer is full.
func (r *Registry) Subscribe() <-chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Event, 16)
	if r.closed {
		close(ch)
		return ch
	}
	r.listeners = append(r.listeners, ch)
	return ch
}

// Unsubscribe closes and removes ch.
func (r *Registry) Unsubscribe(ch <-chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, listener := range r.listeners {
		if listener == ch {
			close(listener)
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Close stops all further mutation and closes subscriber channels.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, listener := range r.listeners {
		close(listener)
	}
	r.listeners = nil
}

func (r *Registry) newEntry(p Peer) *entry {
	e := &entry{peer: p}
	fsm := stateless.NewStateMachine(p.Presence)

	fsm.Configure(Online).
		OnEntry(func(_ context.Context, _ ...any) error {
			e.peer.Presence = Online
			e.peer.LastSeenAt = nil
			return nil
		}).
		Permit(triggerLost, Offline).
		Ignore(triggerSeen)

	// Already-Offline peers keep the LastSeenAt of their first transition.
	fsm.Configure(Offline).
		OnEntry(func(_ context.Context, _ ...any) error {
			now := r.clock.Now()
			e.peer.Presence = Offline
			e.peer.LastSeenAt = &now
			return nil
		}).
		Permit(triggerSeen, Online).
		Ignore(triggerLost)

	e.fsm = fsm
	return e
}

func (r *Registry) applyLocked(id string, p Presence) bool {
	e := r.entries[id]
	before := e.peer.Presence

	t := triggerLost
	if p == Online {
		t = triggerSeen
	}
	if err := e.fsm.Fire(t); err != nil {
		logger.L.Warn("presence transition rejected", "peer", id, "trigger", t, "error", err)
		return false
	}
	if e.peer.Presence == before {
		return false
	}

	logger.L.Debug("presence changed", "peer", id, "from", before, "to", e.peer.Presence)
	peer := e.peer.clone()
	r.notify(Event{Type: EventUpdate, PeerID: id, Peer: &peer})
	return true
}

func (r *Registry) snapshotLocked() []Peer {
	return lo.Map(r.order, func(id string, _ int) Peer {
		return r.entries[id].peer.clone()
	})
}

func (r *Registry) onlineCountLocked() int {
	return lo.CountBy(r.order, func(id string) bool {
		return r.entries[id].peer.Online()
	})
}

func (r *Registry) notify(evt Event) {
	for _, ch := range r.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
