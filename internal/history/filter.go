package history

import (
	"fmt"

	"github.com/samber/lo"
)

// FilterMode selects how direct conversations are matched.
type FilterMode string

const (
	// FilterTagged matches direct messages on their PeerID tag.
	FilterTagged FilterMode = "tagged"
	// FilterLegacy matches on sender name. Every Sent message from self
	// shows up in every direct view.
	FilterLegacy FilterMode = "legacy"
)

func ParseFilterMode(s string) (FilterMode, error) {
	switch FilterMode(s) {
	case "", FilterTagged:
		return FilterTagged, nil
	case FilterLegacy:
		return FilterLegacy, nil
	}
	return "", fmt.Errorf("unknown filter mode %q", s)
}

// Scope names the conversation being viewed. The zero Scope is the
// broadcast channel.
type Scope struct {
	PeerID   string
	PeerName string
}

func (s Scope) IsBroadcast() bool { return s.PeerID == "" }

// Filter returns the messages of msgs that belong to scope, in their
// original order. self is the local user's name.
func Filter(msgs []Message, scope Scope, self string, mode FilterMode) []Message {
	var keep func(Message) bool
	switch {
	case scope.IsBroadcast():
		keep = IsBroadcast
	case mode == FilterLegacy:
		keep = func(m Message) bool {
			return m.SenderName == scope.PeerName ||
				(m.Direction == Sent && m.SenderName == self)
		}
	default:
		keep = func(m Message) bool {
			return !IsBroadcast(m) && m.PeerID == scope.PeerID
		}
	}
	return lo.Filter(msgs, func(m Message, _ int) bool { return keep(m) })
}
