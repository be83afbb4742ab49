// Package readstate tracks the per-conversation read watermark and the
// derived unread counters. The watermark only moves forward; receipts about
// the local user's own messages are a different direction entirely and are
// handled by the store, never by these counters.
package readstate

import (
	"sync"

	"github.com/observer/saucer/internal/domain"
)

// Tracker owns every conversation's ReadState.
type Tracker struct {
	mu     sync.RWMutex
	states map[domain.ConversationID]*domain.ReadState
	selfID string
}

func New(selfID string) *Tracker {
	return &Tracker{
		states: make(map[domain.ConversationID]*domain.ReadState),
		selfID: selfID,
	}
}

func (t *Tracker) stateFor(conv domain.ConversationID) *domain.ReadState {
	st, ok := t.states[conv]
	if !ok {
		st = &domain.ReadState{}
		t.states[conv] = st
	}
	return st
}

// OnIncoming reacts to one delivered message. For the active conversation a
// foreign message advances the watermark immediately and the caller should
// propagate a read receipt; for inactive conversations the unread counter is
// bumped without moving the watermark. Own messages are counted nowhere.
func (t *Tracker) OnIncoming(conv domain.ConversationID, m domain.Message, active bool) (shouldReceipt bool) {
	if m.SenderID == t.selfID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateFor(conv)
	if active {
		if m.ID > st.LastReadID {
			st.LastReadID = m.ID
		}
		return true
	}
	st.Unread++
	return false
}

// MarkRead advances the watermark to uptoID and clears the unread counter.
// A smaller or equal id than the current watermark is a no-op; the watermark
// never regresses.
func (t *Tracker) MarkRead(conv domain.ConversationID, uptoID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stateFor(conv)
	if uptoID <= st.LastReadID {
		return false
	}
	st.LastReadID = uptoID
	st.Unread = 0
	return true
}

// ClearUnread zeroes the counter without touching the watermark, for the
// open-with-no-messages case.
func (t *Tracker) ClearUnread(conv domain.ConversationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFor(conv).Unread = 0
}

// Unread returns the derived unread count.
func (t *Tracker) Unread(conv domain.ConversationID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[conv]; ok {
		return st.Unread
	}
	return 0
}

// LastReadID returns the current watermark.
func (t *Tracker) LastReadID(conv domain.ConversationID) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[conv]; ok {
		return st.LastReadID
	}
	return 0
}

// ReconcileBadge overwrites the locally derived counter with the server's
// authoritative badge count. Local derivation is a fast-path approximation;
// the server wins whenever it reports.
func (t *Tracker) ReconcileBadge(conv domain.ConversationID, count int) {
	if count < 0 {
		count = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateFor(conv).Unread = count
}

// ReconcileWatermark adopts a server-supplied last-read id (history
// responses carry one). Still monotone.
func (t *Tracker) ReconcileWatermark(conv domain.ConversationID, lastReadID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateFor(conv)
	if lastReadID > st.LastReadID {
		st.LastReadID = lastReadID
	}
}

// Teardown drops state for a removed conversation.
func (t *Tracker) Teardown(conv domain.ConversationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, conv)
}
