// Package delivery simulates replies from peers: every direct message to an
// Online peer is echoed back after a random delay.
package delivery

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/comigor/localnet-go/internal/history"
	"github.com/comigor/localnet-go/internal/logger"
	"github.com/comigor/localnet-go/internal/presence"
	"github.com/comigor/localnet-go/internal/random"
)

const (
	DefaultMinDelay = time.Second
	DefaultMaxDelay = 3 * time.Second

	// EchoPrefix is prepended to the original body in every reply.
	EchoPrefix = "Echo: "
)

// Policy decides when a recipient's presence is checked.
type Policy string

const (
	// PolicyRecheckAtFire looks the recipient up again when the reply is due.
	PolicyRecheckAtFire Policy = "fire"
	// PolicyCaptureAtSchedule decides once, when the message is sent.
	PolicyCaptureAtSchedule Policy = "schedule"
)

// ParsePolicy maps a config value to a Policy. Empty means PolicyRecheckAtFire.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyRecheckAtFire:
		return PolicyRecheckAtFire, nil
	case PolicyCaptureAtSchedule:
		return PolicyCaptureAtSchedule, nil
	}
	return "", fmt.Errorf("unknown delivery policy %q", s)
}

// PeerLookup resolves a peer by id.
type PeerLookup interface {
	Get(id string) (presence.Peer, bool)
}

// Appender records replies.
type Appender interface {
	AppendReceived(body, senderName, peerID string) history.Message
}

// Handle identifies a scheduled reply.
type Handle string

// Simulator schedules echo replies to direct messages.
type Simulator struct {
	peers    PeerLookup
	log      Appender
	clock    clockwork.Clock
	rnd      random.Source
	minDelay time.Duration
	maxDelay time.Duration
	policy   Policy

	mu      sync.Mutex
	pending map[Handle]clockwork.Timer
	closed  bool
}

// Option configures a Simulator.
type Option func(*Simulator)

func WithClock(c clockwork.Clock) Option {
	return func(s *Simulator) { s.clock = c }
}

func WithRandom(src random.Source) Option {
	return func(s *Simulator) { s.rnd = src }
}

// WithDelay sets the reply delay range [min, max). max <= min means a fixed
// delay of min.
func WithDelay(min, max time.Duration) Option {
	return func(s *Simulator) {
		s.minDelay = min
		s.maxDelay = max
	}
}

func WithPolicy(p Policy) Option {
	return func(s *Simulator) { s.policy = p }
}

// New creates a simulator that reads presence from peers and appends
// replies to log.
func New(peers PeerLookup, log Appender, opts ...Option) *Simulator {
	s := &Simulator{
		peers:    peers,
		log:      log,
		clock:    clockwork.NewRealClock(),
		rnd:      random.New(),
		minDelay: DefaultMinDelay,
		maxDelay: DefaultMaxDelay,
		policy:   PolicyRecheckAtFire,
		pending:  make(map[Handle]clockwork.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms a reply to body from recipientID. It reports false when
// nothing was scheduled.
func (s *Simulator) Schedule(body, recipientID string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false
	}

	peer, ok := s.peers.Get(recipientID)
	if !ok {
		logger.L.Debug("reply not scheduled: unknown recipient", "peer", recipientID)
		return "", false
	}
	if s.policy == PolicyCaptureAtSchedule && !peer.Online() {
		logger.L.Debug("reply not scheduled: recipient offline", "peer", recipientID)
		return "", false
	}

	h := Handle(uuid.NewString())
	delay := s.delay()
	s.pending[h] = s.clock.AfterFunc(delay, func() { s.fire(h, peer, body) })
	logger.L.Debug("reply scheduled", "peer", recipientID, "delay", delay, "policy", s.policy)
	return h, true
}

func (s *Simulator) delay() time.Duration {
	if s.maxDelay <= s.minDelay {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rnd.Int64N(int64(s.maxDelay-s.minDelay)))
}

func (s *Simulator) fire(h Handle, captured presence.Peer, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[h]; !ok || s.closed {
		return
	}
	defer delete(s.pending, h)

	peer := captured
	if s.policy == PolicyRecheckAtFire {
		current, ok := s.peers.Get(captured.ID)
		if !ok || !current.Online() {
			logger.L.Debug("reply dropped: recipient not online", "peer", captured.ID)
			return
		}
		peer = current
	}

	s.log.AppendReceived(EchoPrefix+body, peer.Name, peer.ID)
}

// Cancel stops a pending reply. It reports whether the reply was still
// pending.
func (s *Simulator) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[h]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.pending, h)
	return true
}

// Pending returns the number of replies not yet fired or cancelled.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels every outstanding reply. Later Schedule calls do nothing.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for h, t := range s.pending {
		t.Stop()
		delete(s.pending, h)
	}
	logger.L.Debug("delivery simulator closed")
}
