// Package composer is the state machine behind the outbound text box:
// composing a new message (optionally as a reply) versus editing an existing
// one, plus the advisory authorization check for deletes.
package composer

import (
	"strings"
	"sync"

	"github.com/observer/saucer/internal/domain"
)

// State of the composer.
type State int

const (
	StateIdle State = iota
	StateComposing
	StateEditing
)

func (s State) String() string {
	switch s {
	case StateComposing:
		return "composing"
	case StateEditing:
		return "editing"
	default:
		return "idle"
	}
}

// PendingEdit is the single globally active edit. Starting a new edit
// silently replaces any prior one.
type PendingEdit struct {
	MessageID    int64
	Conversation domain.ConversationID
	OriginalText string
}

// ReplyDraft is the single active reply target, cleared on successful send
// or explicit cancellation.
type ReplyDraft struct {
	MessageID    int64
	Conversation domain.ConversationID
	Sender       string
	Preview      string
}

// SubmissionKind tells the caller which frame to build for a submit.
type SubmissionKind int

const (
	SubmitMessage SubmissionKind = iota
	SubmitEdit
)

// Submission is the outcome of Submit: either a fresh message (with an
// optional reply target) or an edit request.
type Submission struct {
	Kind      SubmissionKind
	Text      string
	ReplyToID int64
	// Edit fields, set for SubmitEdit
	MessageID    int64
	Conversation domain.ConversationID
}

const previewLen = 80

// Coordinator holds the composer state. Editing and replying are mutually
// exclusive: starting one clears the other.
type Coordinator struct {
	mu    sync.Mutex
	state State
	edit  *PendingEdit
	reply *ReplyDraft
}

func New() *Coordinator {
	return &Coordinator{state: StateIdle}
}

// State returns the current composer state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingEdit returns the active edit, if any.
func (c *Coordinator) PendingEdit() (PendingEdit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit == nil {
		return PendingEdit{}, false
	}
	return *c.edit, true
}

// ReplyDraft returns the active reply target, if any.
func (c *Coordinator) ReplyDraft() (ReplyDraft, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reply == nil {
		return ReplyDraft{}, false
	}
	return *c.reply, true
}

// StartEdit captures the message's current text (the UI pre-fills the
// composer with it) and enters editing. Any reply draft and any prior
// pending edit are dropped.
func (c *Coordinator) StartEdit(conv domain.ConversationID, m domain.Message) PendingEdit {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reply = nil
	c.edit = &PendingEdit{
		MessageID:    m.ID,
		Conversation: conv,
		OriginalText: m.Body,
	}
	c.state = StateEditing
	return *c.edit
}

// StartReply targets a message for the next send. An active edit is
// cancelled; the two are mutually exclusive in the composer.
func (c *Coordinator) StartReply(conv domain.ConversationID, m domain.Message) ReplyDraft {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.edit = nil
	preview := m.Body
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "…"
	}
	c.reply = &ReplyDraft{
		MessageID:    m.ID,
		Conversation: conv,
		Sender:       m.SenderName,
		Preview:      preview,
	}
	c.state = StateComposing
	return *c.reply
}

// Submit resolves the composer into what should go on the wire and returns
// it to Idle. In editing state this is an edit request, never a new message.
func (c *Coordinator) Submit(text string) (Submission, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Submission{}, domain.ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEditing && c.edit != nil {
		sub := Submission{
			Kind:         SubmitEdit,
			Text:         text,
			MessageID:    c.edit.MessageID,
			Conversation: c.edit.Conversation,
		}
		c.resetLocked()
		return sub, nil
	}

	sub := Submission{Kind: SubmitMessage, Text: text}
	if c.reply != nil {
		sub.ReplyToID = c.reply.MessageID
	}
	c.resetLocked()
	return sub, nil
}

// Cancel aborts the active edit or reply and returns to Idle.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// OnConversationSwitch drops editing and reply state targeting another
// conversation; neither follows the user across.
func (c *Coordinator) OnConversationSwitch(to domain.ConversationID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.edit != nil && c.edit.Conversation != to {
		c.resetLocked()
	}
	if c.reply != nil && c.reply.Conversation != to {
		c.resetLocked()
	}
}

func (c *Coordinator) resetLocked() {
	c.edit = nil
	c.reply = nil
	c.state = StateIdle
}

// CanDelete is the advisory pre-flight check before issuing a delete
// request. The server remains the enforcement authority and may still
// reject.
//
// Allowed: own messages anywhere; any message in the global room for global
// admins; any message in a custom group for that group's admins. Never
// someone else's message in a private chat.
func CanDelete(m domain.Message, conv domain.ConversationID, me domain.Identity, groupAdmin bool) bool {
	if m.SenderID == me.UserID {
		return true
	}
	switch conv.Kind {
	case domain.KindGlobal:
		return me.GlobalAdmin
	case domain.KindCustom:
		return groupAdmin
	default:
		return false
	}
}
