package engine

import (
	"context"
	"time"

	"github.com/observer/saucer/internal/composer"
	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/protocol"
	"github.com/observer/saucer/internal/reaction"
)

// SetActiveConversation switches the visible conversation. Editing state
// does not follow across; the unread counter clears and the watermark
// advances to the newest loaded message.
func (e *Engine) SetActiveConversation(conv domain.ConversationID) {
	e.post(func() {
		e.store.SetActive(conv)
		e.comp.OnConversationSwitch(conv)
		e.reactions.Cleanup()
		if conv.Kind == domain.KindCustom {
			e.refreshGroupAdmins(conv.GroupID)
		}

		newest := e.store.NewestSeenID(conv)
		if newest > 0 && e.tracker.MarkRead(conv, newest) {
			e.markReadRemote(conv, newest)
		} else {
			e.tracker.ClearUnread(conv)
		}
		e.emit(Event{Kind: EventUnreadChanged, Conversation: conv, Unread: 0})
	})
}

// SendText resolves the composer and sends. In editing state this issues an
// edit-request frame, never a new message.
func (e *Engine) SendText(text string) {
	e.post(func() {
		sub, err := e.comp.Submit(text)
		if err != nil {
			e.emit(Event{Kind: EventNotice, Notice: err.Error()})
			return
		}
		switch sub.Kind {
		case composer.SubmitEdit:
			e.sendEdit(sub)
		default:
			e.sendMessage(sub)
		}
	})
}

func (e *Engine) sendEdit(sub composer.Submission) {
	frame, err := protocol.NewFrame(protocol.TypeEditMessage, protocol.EditPayload{
		MessageID: sub.MessageID,
		NewText:   sub.Text,
		ChatType:  protocol.ChatType(sub.Conversation),
		GroupID:   sub.Conversation.GroupID,
	})
	if err != nil {
		e.logger.Error("building edit frame failed", "error", err)
		return
	}
	if err := e.tr.Send(frame); err != nil {
		e.emit(Event{Kind: EventNotice, Notice: "edit not sent: " + err.Error()})
	}
}

func (e *Engine) sendMessage(sub composer.Submission) {
	conv := e.store.Active()
	if conv.IsZero() {
		e.emit(Event{Kind: EventNotice, Notice: "no conversation selected"})
		return
	}

	// Optimistic append; the echo supplies the server id.
	optimistic := domain.Message{
		TempID:     newTempID(),
		SenderID:   e.me.UserID,
		SenderName: e.me.Username,
		Body:       sub.Text,
		CreatedAt:  time.Now(),
		ReplyToID:  sub.ReplyToID,
	}
	e.store.Append(conv, optimistic)
	e.emit(Event{Kind: EventMessageAdded, Conversation: conv, Message: &optimistic})

	payload := protocol.SendPayload{
		Text:    sub.Text,
		ReplyTo: sub.ReplyToID,
		TempID:  optimistic.TempID,
	}
	frameType := protocol.TypeMessage
	switch conv.Kind {
	case domain.KindPrivate:
		frameType = protocol.TypePrivateMessage
		payload.To = conv.PeerID
	case domain.KindCustom:
		frameType = protocol.TypeGroupMessage
		payload.GroupID = conv.GroupID
	}

	frame, err := protocol.NewFrame(frameType, payload)
	if err != nil {
		e.logger.Error("building send frame failed", "error", err)
		return
	}
	if err := e.tr.Send(frame); err != nil {
		e.emit(Event{Kind: EventNotice, Notice: "message not sent: " + err.Error()})
	}
}

// SendFile sends an already-uploaded file as an opaque reference in the
// active conversation. Uploading is the caller's problem.
func (e *Engine) SendFile(file domain.FilePayload) {
	e.post(func() {
		conv := e.store.Active()
		if conv.IsZero() {
			e.emit(Event{Kind: EventNotice, Notice: "no conversation selected"})
			return
		}
		body, err := protocol.EncodeFileRef(&file)
		if err != nil {
			e.logger.Error("encoding file reference failed", "error", err)
			return
		}

		optimistic := domain.Message{
			TempID:     newTempID(),
			SenderID:   e.me.UserID,
			SenderName: e.me.Username,
			Body:       file.Name,
			File:       &file,
			CreatedAt:  time.Now(),
		}
		e.store.Append(conv, optimistic)
		e.emit(Event{Kind: EventMessageAdded, Conversation: conv, Message: &optimistic})

		payload := protocol.SendPayload{
			Text:    body,
			FileRef: body,
			TempID:  optimistic.TempID,
		}
		frameType := protocol.TypeMessage
		switch conv.Kind {
		case domain.KindPrivate:
			frameType = protocol.TypePrivateMessage
			payload.To = conv.PeerID
		case domain.KindCustom:
			frameType = protocol.TypeGroupMessage
			payload.GroupID = conv.GroupID
		}

		frame, err := protocol.NewFrame(frameType, payload)
		if err != nil {
			e.logger.Error("building send frame failed", "error", err)
			return
		}
		if err := e.tr.Send(frame); err != nil {
			e.emit(Event{Kind: EventNotice, Notice: "file not sent: " + err.Error()})
		}
	})
}

// StartEdit enters editing for one of the local user's messages in the
// active conversation.
func (e *Engine) StartEdit(messageID int64) {
	e.post(func() {
		conv := e.store.Active()
		m, ok := e.store.Get(conv, messageID)
		if !ok || m.SenderID != e.me.UserID {
			return
		}
		e.comp.StartEdit(conv, m)
	})
}

// StartReply targets a message in the active conversation for the next
// send.
func (e *Engine) StartReply(messageID int64) {
	e.post(func() {
		conv := e.store.Active()
		if m, ok := e.store.Get(conv, messageID); ok {
			e.comp.StartReply(conv, m)
		}
	})
}

// CancelComposer aborts any pending edit or reply.
func (e *Engine) CancelComposer() {
	e.post(func() {
		e.comp.Cancel()
	})
}

// ToggleReaction XORs one emoji on a message. Rapid repeats inside the
// debounce window are absorbed with no local change and no frame.
func (e *Engine) ToggleReaction(messageID int64, emoji string) {
	e.post(func() {
		conv := e.store.Active()
		// Unknown target: don't burn the debounce window on it.
		if _, ok := e.store.Get(conv, messageID); !ok {
			return
		}
		if !e.reactions.Allow(messageID) {
			return
		}
		applied := e.store.Update(conv, messageID, func(m *domain.Message) {
			reaction.Toggle(m, emoji, e.me.UserID)
		})
		if !applied {
			return
		}
		e.emit(Event{Kind: EventReactionsChanged, Conversation: conv, MessageID: messageID})

		frame, err := protocol.NewFrame(protocol.TypeReaction, protocol.ReactionPayload{
			MessageID: messageID,
			Emoji:     emoji,
		})
		if err != nil {
			e.logger.Error("building reaction frame failed", "error", err)
			return
		}
		if err := e.tr.Send(frame); err != nil {
			// The server set will correct us on reconnect; just log.
			e.logger.Warn("reaction not sent", "error", err)
		}
	})
}

// RequestDelete asks the server to tombstone a message after the advisory
// authorization check. Removal happens when the broadcast comes back, not
// optimistically.
func (e *Engine) RequestDelete(messageID int64) {
	e.post(func() {
		conv := e.store.Active()
		m, ok := e.store.Get(conv, messageID)
		if !ok {
			return
		}
		if !composer.CanDelete(m, conv, e.me, e.isGroupAdmin(conv)) {
			e.emit(Event{Kind: EventNotice, Notice: domain.ErrNotPermitted.Error()})
			return
		}
		frame, err := protocol.NewFrame(protocol.TypeDeleteMessage, protocol.DeletePayload{
			MessageID: messageID,
			ChatType:  protocol.ChatType(conv),
			GroupID:   conv.GroupID,
		})
		if err != nil {
			e.logger.Error("building delete frame failed", "error", err)
			return
		}
		if err := e.tr.Send(frame); err != nil {
			e.emit(Event{Kind: EventNotice, Notice: "delete not sent: " + err.Error()})
		}
	})
}

// LoadOlder pages backward in the active conversation. A second request
// while one is outstanding is suppressed; results for a conversation left
// in the meantime still merge into its (inactive) store.
func (e *Engine) LoadOlder() {
	e.post(func() {
		conv := e.store.Active()
		if conv.IsZero() {
			return
		}
		if !e.store.BeginBackfill(conv) {
			return
		}
		before := e.store.OldestLoadedID(conv)

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
			defer cancel()
			page, err := e.api.FetchHistoryBefore(ctx, conv, before, e.pageSize)
			e.post(func() {
				e.store.EndBackfill(conv)
				if err != nil {
					// Best-effort: log only, no user-facing error.
					e.logger.Warn("history fetch failed", "conversation", conv.String(), "error", err)
					return
				}
				e.store.PrependOlder(conv, page.Messages)
				if page.LastReadID > 0 {
					e.tracker.ReconcileWatermark(conv, page.LastReadID)
				}
				e.emit(Event{Kind: EventHistoryLoaded, Conversation: conv})
			})
		}()
	})
}

// MarkConversationRead explicitly advances the watermark to the newest
// loaded message (for UIs with an explicit mark-read affordance).
func (e *Engine) MarkConversationRead(conv domain.ConversationID) {
	e.post(func() {
		newest := e.store.NewestSeenID(conv)
		if newest > 0 && e.tracker.MarkRead(conv, newest) {
			e.markReadRemote(conv, newest)
			e.emit(Event{Kind: EventUnreadChanged, Conversation: conv, Unread: 0})
		}
	})
}

// LeaveConversation tears local state down (left or deleted chat).
func (e *Engine) LeaveConversation(conv domain.ConversationID) {
	e.post(func() {
		e.store.Teardown(conv)
		e.tracker.Teardown(conv)
		if conv.Kind == domain.KindCustom {
			delete(e.groupAdmins, conv.GroupID)
		}
		e.emit(Event{Kind: EventConversationClosed, Conversation: conv})
	})
}

// ============================================================================
// Moderation (REST; server is the enforcement authority)
// ============================================================================

func (e *Engine) PromoteAdmin(groupID, userID string) {
	e.moderate("promote admin", func(ctx context.Context) error {
		return e.api.PromoteAdmin(ctx, groupID, userID)
	}, func() {
		if admins, ok := e.groupAdmins[groupID]; ok {
			admins[userID] = true
		}
	})
}

func (e *Engine) DemoteAdmin(groupID, userID string) {
	e.moderate("demote admin", func(ctx context.Context) error {
		return e.api.DemoteAdmin(ctx, groupID, userID)
	}, func() {
		if admins, ok := e.groupAdmins[groupID]; ok {
			delete(admins, userID)
		}
	})
}

func (e *Engine) BanMember(groupID, userID string) {
	e.moderate("remove member", func(ctx context.Context) error {
		return e.api.BanMember(ctx, groupID, userID)
	}, func() {
		e.roster.Remove(userID)
		e.emit(Event{Kind: EventRosterChanged})
	})
}

// moderate runs a moderation call off-loop and applies the local follow-up
// only on success; rejections surface as a one-shot notice with local state
// untouched.
func (e *Engine) moderate(what string, call func(context.Context) error, onSuccess func()) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
		defer cancel()
		err := call(ctx)
		e.post(func() {
			if err != nil {
				e.logger.Warn("moderation failed", "action", what, "error", err)
				e.emit(Event{Kind: EventNotice, Notice: what + " failed: " + err.Error()})
				return
			}
			onSuccess()
		})
	}()
}
