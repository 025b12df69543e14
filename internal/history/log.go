// Package history keeps the append-only conversation log and derives the
// per-context views shown to the user.
package history

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/comigor/localnet-go/internal/logger"
)

// Log is an ordered, in-memory list of messages. Safe for concurrent use.
type Log struct {
	clock clockwork.Clock
	limit int

	mu        sync.Mutex
	messages  []Message
	closed    bool
	listeners []chan Message
}

type Option func(*Log)

func WithClock(c clockwork.Clock) Option {
	return func(l *Log) { l.clock = c }
}

// WithLimit caps the log at n entries, dropping the oldest first. Zero keeps
// everything.
func WithLimit(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.limit = n
		}
	}
}

func NewLog(opts ...Option) *Log {
	l := &Log{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AppendSent records a message written by the local user.
func (l *Log) AppendSent(body, senderName, peerID string) Message {
	return l.append(body, senderName, peerID, Sent)
}

// AppendReceived records a message coming from a peer.
func (l *Log) AppendReceived(body, senderName, peerID string) Message {
	return l.append(body, senderName, peerID, Received)
}

func (l *Log) append(body, senderName, peerID string, dir Direction) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := Message{
		ID:         newID(),
		Body:       body,
		SenderName: senderName,
		SentAt:     l.clock.Now(),
		Direction:  dir,
		PeerID:     peerID,
	}
	l.messages = append(l.messages, msg)
	if l.limit > 0 && len(l.messages) > l.limit {
		dropped := len(l.messages) - l.limit
		l.messages = append([]Message(nil), l.messages[dropped:]...)
		logger.L.Debug("history trimmed", "dropped", dropped)
	}

	for _, ch := range l.listeners {
		select {
		case ch <- msg:
		default:
		}
	}
	return msg
}

// Snapshot returns a copy of the log in append order.
func (l *Log) Snapshot() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Subscribe returns a channel that receives every appended message. Slow
// readers miss messages rather than blocking appends.
func (l *Log) Subscribe() <-chan Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan Message, 32)
	if l.closed {
		close(ch)
		return ch
	}
	l.listeners = append(l.listeners, ch)
	return ch
}

func (l *Log) Unsubscribe(ch <-chan Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, listener := range l.listeners {
		if listener == ch {
			close(listener)
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return
		}
	}
}

// Close closes every subscription. The log itself stays readable and
// appendable.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for _, listener := range l.listeners {
		close(listener)
	}
	l.listeners = nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		logger.L.Warn("uuid v7 generation failed; using v4", "error", err)
		return uuid.NewString()
	}
	return id.String()
}
