package engine

import (
	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/protocol"
	"github.com/observer/saucer/internal/reaction"
	"github.com/observer/saucer/internal/store"
	"github.com/observer/saucer/internal/transport"
)

// handleFrame processes one classified inbound frame. Runs on the loop
// goroutine; ordering relative to other frames is the transport's arrival
// order.
func (e *Engine) handleFrame(f *protocol.Frame) {
	switch f.Type {
	case protocol.TypeMessage, protocol.TypePrivateMessage, protocol.TypeGroupMessage:
		e.handleMessagePush(f)
	case protocol.TypeHistory, protocol.TypePrivateHistory, protocol.TypeGroupHistory:
		e.handleHistory(f)
	case protocol.TypeEditMessage:
		e.handleEditResult(f)
	case protocol.TypeMessageDeleted:
		e.handleMessageDeleted(f)
	case protocol.TypeReactionUpdated:
		e.handleReactionUpdated(f)
	case protocol.TypeUsers:
		e.handleUsers(f)
	case protocol.TypeUsersWithIDs:
		e.handleUsersWithIDs(f)
	case protocol.TypeMessagesRead:
		e.handleMessagesRead(f)
	case protocol.TypeMemberJoined, protocol.TypeMemberLeft, protocol.TypeMemberRemoved:
		e.handleMemberEvent(f)
	case protocol.TypeGroupDeleted:
		e.handleGroupDeleted(f)
	case protocol.TypeAuthError:
		e.handleAuthError(f)
	default:
		e.logger.Debug("unhandled frame type", "type", f.Type)
	}
}

func (e *Engine) handleMessagePush(f *protocol.Frame) {
	var p protocol.MessagePayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	conv := p.Conversation(f.Type, e.me.UserID)
	m := p.ToDomain(conv)

	// Our own echo: reconcile against the optimistic copy first.
	if p.TempID != "" && p.From == e.me.UserID {
		if e.store.ReconcileEcho(conv, p.TempID, p.ID, p.CreatedAt) {
			if confirmed, ok := e.store.Get(conv, p.ID); ok {
				e.emit(Event{Kind: EventMessageAdded, Conversation: conv, Message: &confirmed})
			}
			return
		}
	}

	if e.store.Append(conv, m) == store.DuplicateIgnored {
		return
	}
	if conv.Kind == domain.KindCustom {
		e.refreshGroupAdmins(conv.GroupID)
	}

	active := e.store.IsActive(conv)
	if e.tracker.OnIncoming(conv, m, active) {
		// Near-real-time receipt: the conversation is on screen, so the
		// sender learns immediately.
		e.markReadRemote(conv, m.ID)
	}

	e.emit(Event{Kind: EventMessageAdded, Conversation: conv, Message: &m})
	if !active {
		e.emit(Event{Kind: EventUnreadChanged, Conversation: conv, Unread: e.tracker.Unread(conv)})
	}
}

func (e *Engine) handleHistory(f *protocol.Frame) {
	var p protocol.HistoryPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	conv := protocol.ParseConversationID(p.Chat)
	if p.Chat == "" && len(p.Messages) > 0 {
		conv = p.Messages[0].Conversation(f.Type, e.me.UserID)
	}

	msgs := make([]domain.Message, 0, len(p.Messages))
	for i := range p.Messages {
		msgs = append(msgs, p.Messages[i].ToDomain(conv))
	}
	e.store.PrependOlder(conv, msgs)
	if p.LastReadMessageID > 0 {
		e.tracker.ReconcileWatermark(conv, p.LastReadMessageID)
	}
	e.emit(Event{Kind: EventHistoryLoaded, Conversation: conv})
}

func (e *Engine) handleEditResult(f *protocol.Frame) {
	var p protocol.EditResultPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	if !p.Success {
		// Nothing was applied optimistically, so there is nothing to roll
		// back; just tell the user.
		e.emit(Event{Kind: EventNotice, Notice: "edit was rejected by the server"})
		return
	}
	conv, ok := e.resolveConversation(p.Chat, p.MessageID)
	if !ok {
		return
	}
	if e.store.ApplyEdit(conv, p.MessageID, p.NewText) {
		e.emit(Event{Kind: EventMessageEdited, Conversation: conv, MessageID: p.MessageID})
	}
}

func (e *Engine) handleMessageDeleted(f *protocol.Frame) {
	var p protocol.MessageDeletedPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	conv, ok := e.resolveConversation(p.Chat, p.MessageID)
	if !ok {
		return
	}
	// Deletion is a broadcast: remove no matter which client initiated it.
	if e.store.Remove(conv, p.MessageID) {
		e.emit(Event{Kind: EventMessageDeleted, Conversation: conv, MessageID: p.MessageID})
	}
}

func (e *Engine) handleReactionUpdated(f *protocol.Frame) {
	var p protocol.ReactionUpdatedPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	conv, ok := e.resolveConversation(p.Chat, p.MessageID)
	if !ok {
		return
	}
	updated := e.store.Update(conv, p.MessageID, func(m *domain.Message) {
		reaction.ApplyServerUpdate(m, p.Reactions)
	})
	if updated {
		e.emit(Event{Kind: EventReactionsChanged, Conversation: conv, MessageID: p.MessageID})
	}
}

func (e *Engine) handleUsers(f *protocol.Frame) {
	var p protocol.UsersPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	e.roster.ApplyOnlineOnly(p.Users)
	e.emit(Event{Kind: EventRosterChanged})
}

func (e *Engine) handleUsersWithIDs(f *protocol.Frame) {
	var p protocol.UsersWithIDsPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	entries := make([]domain.PresenceEntry, 0, len(p.Users))
	for _, u := range p.Users {
		entries = append(entries, domain.PresenceEntry{
			UserID:   u.UserID,
			Username: u.Username,
			Online:   u.Online,
		})
	}
	e.roster.ApplyFull(entries)
	e.emit(Event{Kind: EventRosterChanged})
}

func (e *Engine) handleMessagesRead(f *protocol.Frame) {
	var p protocol.MessagesReadPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	var conv domain.ConversationID
	switch p.ChatType {
	case "private":
		conv = domain.Private(p.ReadBy)
	case "group":
		conv = domain.Custom(p.GroupID)
	default:
		conv = domain.Global()
	}
	// This is the receipt about our own messages: flip delivery indicators,
	// never the local unread counter.
	if e.store.MarkReadByPeer(conv, e.me.UserID) > 0 {
		e.emit(Event{Kind: EventReceiptsChanged, Conversation: conv})
	}
}

func (e *Engine) handleMemberEvent(f *protocol.Frame) {
	var p protocol.MemberPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	switch f.Type {
	case protocol.TypeMemberJoined:
		e.roster.Upsert(domain.PresenceEntry{UserID: p.UserID, Username: p.Username, Online: true})
	case protocol.TypeMemberLeft:
		e.roster.SetOnline(p.UserID, false)
	case protocol.TypeMemberRemoved:
		e.roster.Remove(p.UserID)
		if p.UserID == e.me.UserID && p.GroupID != "" {
			conv := domain.Custom(p.GroupID)
			e.store.Teardown(conv)
			e.tracker.Teardown(conv)
			e.emit(Event{Kind: EventConversationClosed, Conversation: conv})
			return
		}
	}
	e.emit(Event{Kind: EventRosterChanged})
}

func (e *Engine) handleGroupDeleted(f *protocol.Frame) {
	var p protocol.GroupDeletedPayload
	if !decodePayload(e.logger, f.Type, f.Payload, &p) {
		return
	}
	conv := domain.Custom(p.GroupID)
	e.store.Teardown(conv)
	e.tracker.Teardown(conv)
	delete(e.groupAdmins, p.GroupID)
	e.emit(Event{Kind: EventConversationClosed, Conversation: conv})
}

// handleAuthError is terminal for the session: clear the cached credential
// and stop; no retry.
func (e *Engine) handleAuthError(f *protocol.Frame) {
	var p protocol.AuthErrorPayload
	_ = decodePayload(e.logger, f.Type, f.Payload, &p)

	e.logger.Error("authentication rejected", "reason", p.Reason)
	if err := e.sess.Clear(); err != nil {
		e.logger.Warn("clearing session failed", "error", err)
	}
	_ = e.tr.Close()
	e.emit(Event{Kind: EventAuthExpired, Notice: p.Reason})
}

func (e *Engine) handleConnState(ev transport.Event) {
	e.emit(Event{Kind: EventConnState, ConnState: ev.State})

	switch ev.State {
	case transport.StateConnected:
		// Local unread derivation is a fast path; the server badge is
		// truth. Reconcile on every (re)connect.
		e.refreshUnreadBadges()
	case transport.StateReconnecting:
		e.emit(Event{Kind: EventNotice, Notice: "connection lost, retrying..."})
	case transport.StateUnreachable:
		e.emit(Event{
			Kind:       EventNotice,
			Notice:     "cannot reach server, check your connection and reload",
			Persistent: true,
		})
	}
}

// resolveConversation maps an optional wire chat id plus a message id to the
// owning conversation, tolerating servers that omit the chat field. A
// missing target is a graceful no-op.
func (e *Engine) resolveConversation(chat string, messageID int64) (domain.ConversationID, bool) {
	if chat != "" {
		return protocol.ParseConversationID(chat), true
	}
	return e.store.Locate(messageID)
}
