package domain

import (
	"slices"
	"time"
)

// Message is one entry in a conversation's log.
//
// ID is the server-assigned sequence number; it is 0 for an optimistic local
// message that has not been echoed back yet. TempID carries the client-side
// uuid used to reconcile the echo against the optimistic copy.
type Message struct {
	ID           int64               `json:"id"`
	TempID       string              `json:"temp_id,omitempty"`
	Conversation ConversationID      `json:"-"`
	SenderID     string              `json:"sender_id"`
	SenderName   string              `json:"sender_name"`
	Body         string              `json:"body"`
	File         *FilePayload        `json:"file,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ReadByPeer   bool                `json:"read_by_peer"`
	ReplyToID    int64               `json:"reply_to_id,omitempty"`
	Edited       bool                `json:"edited"`
	Reactions    map[string][]string `json:"reactions,omitempty"`
}

// FilePayload is the opaque file reference a message body may carry instead
// of text. Upload/download mechanics live outside the engine; only the
// reference is tracked.
type FilePayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size,omitempty"`
}

// Confirmed reports whether the server has assigned this message an id.
func (m *Message) Confirmed() bool {
	return m.ID != 0
}

// HasReaction reports whether userID currently has emoji applied to m.
func (m *Message) HasReaction(emoji, userID string) bool {
	return slices.Contains(m.Reactions[emoji], userID)
}

// ReadState is the per-conversation read watermark.
//
// LastReadID only moves forward. Unread is a derived fast-path counter,
// reconciled against the server badge on conversation open; it is never
// negative.
type ReadState struct {
	LastReadID int64 `json:"last_read_id"`
	Unread     int   `json:"unread"`
}
