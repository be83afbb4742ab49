package engine

import (
	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/transport"
)

// EventKind classifies what changed for the presentation layer.
type EventKind int

const (
	// EventMessageAdded: a message entered a conversation log (live push,
	// optimistic send, or echo reconciliation).
	EventMessageAdded EventKind = iota
	EventMessageEdited
	EventMessageDeleted
	EventReactionsChanged
	// EventReceiptsChanged: a peer read our messages; delivery indicators
	// flipped.
	EventReceiptsChanged
	EventUnreadChanged
	EventRosterChanged
	// EventHistoryLoaded: an older page merged. Carries the conversation so
	// the UI never force-activates a conversation left in the meantime.
	EventHistoryLoaded
	// EventConversationClosed: group deleted or local user removed.
	EventConversationClosed
	EventConnState
	// EventAuthExpired: credentials cleared; re-authentication required.
	EventAuthExpired
	// EventNotice: one-shot, non-fatal user-facing notice.
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventMessageAdded:
		return "message_added"
	case EventMessageEdited:
		return "message_edited"
	case EventMessageDeleted:
		return "message_deleted"
	case EventReactionsChanged:
		return "reactions_changed"
	case EventReceiptsChanged:
		return "receipts_changed"
	case EventUnreadChanged:
		return "unread_changed"
	case EventRosterChanged:
		return "roster_changed"
	case EventHistoryLoaded:
		return "history_loaded"
	case EventConversationClosed:
		return "conversation_closed"
	case EventConnState:
		return "conn_state"
	case EventAuthExpired:
		return "auth_expired"
	case EventNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Event is what the engine hands the presentation layer. Fields are set
// per-kind; the UI re-reads store snapshots for full renders.
type Event struct {
	Kind         EventKind
	Conversation domain.ConversationID
	Message      *domain.Message
	MessageID    int64
	Unread       int
	Notice       string
	// Persistent marks a notice that should stay on screen (retries
	// exhausted) rather than flash.
	Persistent bool
	ConnState  transport.State
}
