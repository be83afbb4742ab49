// Package protocol defines the frame taxonomy exchanged with the chat server
// and the wire codecs for conversation identities and file payloads. Nothing
// outside this package touches raw JSON from the transport.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/observer/saucer/internal/domain"
)

// Frame types for client -> server
const (
	TypeJoin           = "join"
	TypeMessage        = "message"
	TypePrivateMessage = "private_message"
	TypeGroupMessage   = "group_message"
	TypeEditMessage    = "edit_message"
	TypeDeleteMessage  = "delete_message"
	TypeReaction       = "reaction"
)

// Frame types for server -> client (types shared with outbound reuse the
// same constant)
const (
	TypeHistory         = "history"
	TypePrivateHistory  = "private_history"
	TypeGroupHistory    = "group_history"
	TypeUsers           = "users"
	TypeUsersWithIDs    = "users_with_ids"
	TypeMessagesRead    = "messages_read"
	TypeMessageDeleted  = "message_deleted"
	TypeReactionUpdated = "reaction_updated"
	TypeMemberJoined    = "member_joined"
	TypeMemberLeft      = "member_left"
	TypeMemberRemoved   = "member_removed"
	TypeGroupDeleted    = "group_deleted"
	TypeAuthError       = "auth_error"
)

// Frame is the base wire envelope
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewFrame creates a frame with the current timestamp
func NewFrame(frameType string, payload interface{}) (*Frame, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:      frameType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// Decode parses a raw inbound frame. The caller dispatches on Type and
// unmarshals Payload into the matching payload struct.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// JoinPayload opens the session. The token is authoritative; username and
// user id are advisory fallbacks the server may ignore.
type JoinPayload struct {
	Token    string `json:"token"`
	Username string `json:"username,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// SendPayload carries an outbound message for any conversation kind. To and
// GroupID are filled according to the frame type.
type SendPayload struct {
	To      string `json:"to,omitempty"`       // private_message
	GroupID string `json:"group_id,omitempty"` // group_message
	Text    string `json:"text,omitempty"`
	FileRef string `json:"file_ref,omitempty"`
	ReplyTo int64  `json:"reply_to,omitempty"`
	TempID  string `json:"temp_id,omitempty"` // echoed back for reconciliation
}

// EditPayload requests an in-place body replacement.
type EditPayload struct {
	MessageID int64  `json:"message_id"`
	NewText   string `json:"new_text"`
	ChatType  string `json:"chat_type"`
	GroupID   string `json:"group_id,omitempty"`
}

// DeletePayload requests a tombstone.
type DeletePayload struct {
	MessageID int64  `json:"message_id"`
	ChatType  string `json:"chat_type"`
	GroupID   string `json:"group_id,omitempty"`
}

// ReactionPayload toggles one emoji by the local user.
type ReactionPayload struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// MessagePayload is a pushed message, also the element type of history
// responses. Conversation identity is reconstructed from the frame type plus
// From/To/GroupID.
type MessagePayload struct {
	ID         int64               `json:"id"`
	From       string              `json:"from"`
	FromName   string              `json:"from_name"`
	To         string              `json:"to,omitempty"`
	GroupID    string              `json:"group_id,omitempty"`
	Text       string              `json:"text"`
	CreatedAt  time.Time           `json:"created_at"`
	ReplyTo    int64               `json:"reply_to,omitempty"`
	Edited     bool                `json:"edited,omitempty"`
	ReadByPeer bool                `json:"read,omitempty"`
	Reactions  map[string][]string `json:"reactions,omitempty"`
	TempID     string              `json:"temp_id,omitempty"`
}

// HistoryPayload is a bulk backfill for one conversation.
type HistoryPayload struct {
	Chat              string           `json:"chat,omitempty"` // wire conversation id
	Messages          []MessagePayload `json:"messages"`
	LastReadMessageID int64            `json:"last_read_message_id,omitempty"`
}

// EditResultPayload confirms (or broadcasts) an edit.
type EditResultPayload struct {
	Success   bool   `json:"success"`
	MessageID int64  `json:"message_id"`
	NewText   string `json:"new_text"`
	EditedBy  string `json:"edited_by"`
	Chat      string `json:"chat,omitempty"`
}

// MessageDeletedPayload broadcasts a tombstone.
type MessageDeletedPayload struct {
	MessageID int64  `json:"message_id"`
	Chat      string `json:"chat,omitempty"`
}

// ReactionUpdatedPayload carries the authoritative reaction set for one
// message; it replaces the local set wholesale.
type ReactionUpdatedPayload struct {
	MessageID int64               `json:"message_id"`
	Chat      string              `json:"chat,omitempty"`
	Reactions map[string][]string `json:"reactions"`
}

// UsersPayload is the legacy online-only roster snapshot: usernames, no ids.
type UsersPayload struct {
	Users []string `json:"users"`
}

// RosterEntry is one row of an authoritative roster snapshot.
type RosterEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// UsersWithIDsPayload is the authoritative full-roster snapshot.
type UsersWithIDsPayload struct {
	Users []RosterEntry `json:"users"`
}

// MessagesReadPayload notifies that a peer read the local user's messages in
// one conversation. It carries no message-id list.
type MessagesReadPayload struct {
	ChatType string `json:"chat_type"`
	ReadBy   string `json:"read_by"`
	GroupID  string `json:"group_id,omitempty"`
}

// MemberPayload covers member_joined / member_left / member_removed.
type MemberPayload struct {
	GroupID  string `json:"group_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// GroupDeletedPayload tears a custom group down.
type GroupDeletedPayload struct {
	GroupID string `json:"group_id"`
}

// AuthErrorPayload forces session teardown; never retried.
type AuthErrorPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ============================================================================
// Conversation identity wire codec
// ============================================================================

const (
	wireGlobal        = "global"
	wirePrivatePrefix = "user_"
	wireGroupPrefix   = "group_"
	// Older servers emitted channel_ for custom groups; accepted on parse,
	// never produced.
	wireChannelPrefix = "channel_"
)

// EncodeConversationID renders the prefix-based wire form of an identity.
func EncodeConversationID(c domain.ConversationID) string {
	switch c.Kind {
	case domain.KindPrivate:
		return wirePrivatePrefix + c.PeerID
	case domain.KindCustom:
		return wireGroupPrefix + c.GroupID
	default:
		return wireGlobal
	}
}

// ParseConversationID decodes the prefix-based wire form. Unknown shapes are
// treated as the global room rather than rejected, so a newer server cannot
// wedge the dispatch loop.
func ParseConversationID(wire string) domain.ConversationID {
	switch {
	case strings.HasPrefix(wire, wirePrivatePrefix):
		return domain.Private(strings.TrimPrefix(wire, wirePrivatePrefix))
	case strings.HasPrefix(wire, wireGroupPrefix):
		return domain.Custom(strings.TrimPrefix(wire, wireGroupPrefix))
	case strings.HasPrefix(wire, wireChannelPrefix):
		return domain.Custom(strings.TrimPrefix(wire, wireChannelPrefix))
	default:
		return domain.Global()
	}
}

// ChatType renders the chat_type discriminator used by edit/delete/read
// frames and the REST layer.
func ChatType(c domain.ConversationID) string {
	switch c.Kind {
	case domain.KindPrivate:
		return "private"
	case domain.KindCustom:
		return "group"
	default:
		return "global"
	}
}

// ============================================================================
// Payload conversion
// ============================================================================

// Conversation reconstructs the conversation identity of a pushed message.
// localUserID disambiguates private messages: the conversation is keyed by
// the *other* participant whichever direction the message travelled.
func (p *MessagePayload) Conversation(frameType, localUserID string) domain.ConversationID {
	switch frameType {
	case TypePrivateMessage, TypePrivateHistory:
		if p.From == localUserID {
			return domain.Private(p.To)
		}
		return domain.Private(p.From)
	case TypeGroupMessage, TypeGroupHistory:
		return domain.Custom(p.GroupID)
	default:
		return domain.Global()
	}
}

// ToDomain converts a wire message into the engine's model. File messages
// embed a JSON file reference in the text field; when that JSON is malformed
// the body is kept as plain text rather than dropped.
func (p *MessagePayload) ToDomain(conv domain.ConversationID) domain.Message {
	m := domain.Message{
		ID:           p.ID,
		TempID:       p.TempID,
		Conversation: conv,
		SenderID:     p.From,
		SenderName:   p.FromName,
		Body:         p.Text,
		CreatedAt:    p.CreatedAt,
		ReadByPeer:   p.ReadByPeer,
		ReplyToID:    p.ReplyTo,
		Edited:       p.Edited,
		Reactions:    p.Reactions,
	}
	if m.SenderName == "" {
		m.SenderName = p.From
	}
	if file, ok := ParseFileRef(p.Text); ok {
		m.File = file
		m.Body = file.Name
	}
	return m
}

// fileRefMarker guards against treating arbitrary JSON-looking text as a
// file reference.
type fileRef struct {
	File *domain.FilePayload `json:"file"`
}

// EncodeFileRef renders the embedded-JSON body form that ParseFileRef
// recognizes.
func EncodeFileRef(file *domain.FilePayload) (string, error) {
	data, err := json.Marshal(fileRef{File: file})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseFileRef attempts to interpret a message body as an embedded file
// reference. Returns false for plain text or malformed JSON.
func ParseFileRef(body string) (*domain.FilePayload, bool) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var ref fileRef
	if err := json.Unmarshal([]byte(trimmed), &ref); err != nil || ref.File == nil || ref.File.URL == "" {
		return nil, false
	}
	return ref.File, true
}
