package history

import (
	"strings"
	"time"
)

// Direction tells whether a message was sent by the local user or received
// from a peer.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// BroadcastMarker prefixes the body of every broadcast message.
const BroadcastMarker = "[Broadcast] "

// Message is a single entry of the conversation log. It is never modified
// after being appended.
type Message struct {
	ID         string    `json:"id"`
	Body       string    `json:"body"`
	SenderName string    `json:"sender_name"`
	SentAt     time.Time `json:"sent_at"`
	Direction  Direction `json:"direction"`
	// PeerID is the counterpart of a direct message: the recipient for Sent,
	// the origin for Received. Empty for broadcasts.
	PeerID string `json:"peer_id,omitempty"`
}

func BroadcastBody(text string) string {
	return BroadcastMarker + text
}

func IsBroadcast(m Message) bool {
	return strings.HasPrefix(m.Body, BroadcastMarker)
}
