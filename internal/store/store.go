// Package store keeps the per-conversation ordered message logs: dedup by
// server id, chronological insertion, pagination boundaries, edits, and
// tombstoning by removal.
package store

import (
	"sync"
	"time"

	"github.com/observer/saucer/internal/domain"
)

// InsertResult reports what Append did with a message.
type InsertResult int

const (
	Inserted InsertResult = iota
	DuplicateIgnored
)

// EditedMarker is appended to rendered provenance, kept out of the body so
// it never leaks into edit prefills.
const EditedMarker = "(edited)"

// log is one conversation's state. Messages stay ordered non-decreasing by
// CreatedAt, with insertion-stable ties.
type log struct {
	messages []*domain.Message

	// oldestLoaded / newestSeen bound the paged-in window. They only move
	// outward; teardown is the sole reset.
	oldestLoaded int64
	newestSeen   int64

	// backfilling guards backward pagination; forward live delivery is
	// never blocked by it.
	backfilling bool
}

// Store holds every conversation the session has touched. Messages for
// inactive conversations are retained so switching back needs no refetch.
type Store struct {
	mu     sync.RWMutex
	logs   map[domain.ConversationID]*log
	active domain.ConversationID
}

func New() *Store {
	return &Store{logs: make(map[domain.ConversationID]*log)}
}

func (s *Store) logFor(conv domain.ConversationID) *log {
	l, ok := s.logs[conv]
	if !ok {
		l = &log{}
		s.logs[conv] = l
	}
	return l
}

// Append ingests one message. If it carries a server id already present in
// the conversation the call is a no-op: the same message routinely arrives
// via live push and again via a history fetch. Optimistic messages (id 0)
// are never deduplicated against each other.
func (s *Store) Append(conv domain.ConversationID, m domain.Message) InsertResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logFor(conv)
	if m.ID != 0 && l.indexByID(m.ID) >= 0 {
		return DuplicateIgnored
	}
	m.Conversation = conv
	l.insert(&m)
	l.widenBounds(m.ID)
	return Inserted
}

// PrependOlder merges a backward-pagination page. Overlap with already
// loaded messages is absorbed by the same id dedup as Append.
func (s *Store) PrependOlder(conv domain.ConversationID, msgs []domain.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.logFor(conv)
	added := 0
	for i := range msgs {
		m := msgs[i]
		if m.ID != 0 && l.indexByID(m.ID) >= 0 {
			continue
		}
		m.Conversation = conv
		l.insert(&m)
		l.widenBounds(m.ID)
		added++
	}
	return added
}

// Remove deletes by id; unknown ids are tolerated so racing delete
// notifications stay harmless.
func (s *Store) Remove(conv domain.ConversationID, id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[conv]
	if !ok {
		return false
	}
	i := l.indexByID(id)
	if i < 0 {
		return false
	}
	l.messages = append(l.messages[:i], l.messages[i+1:]...)
	return true
}

// ApplyEdit swaps the body in place. ID and CreatedAt are untouched; the
// Edited flag carries provenance separately from the text.
func (s *Store) ApplyEdit(conv domain.ConversationID, id int64, newText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[conv]
	if !ok {
		return false
	}
	i := l.indexByID(id)
	if i < 0 {
		return false
	}
	l.messages[i].Body = newText
	l.messages[i].File = nil
	l.messages[i].Edited = true
	return true
}

// ReconcileEcho resolves an optimistic send against its server echo. The
// temp copy adopts the server id and timestamp; if the echo already arrived
// through another path the temp copy is dropped instead.
func (s *Store) ReconcileEcho(conv domain.ConversationID, tempID string, serverID int64, createdAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[conv]
	if !ok || tempID == "" {
		return false
	}
	ti := l.indexByTempID(tempID)
	if ti < 0 {
		return false
	}
	if serverID != 0 && l.indexByID(serverID) >= 0 {
		l.messages = append(l.messages[:ti], l.messages[ti+1:]...)
		return true
	}
	m := l.messages[ti]
	l.messages = append(l.messages[:ti], l.messages[ti+1:]...)
	m.ID = serverID
	if !createdAt.IsZero() {
		m.CreatedAt = createdAt
	}
	l.insert(m)
	l.widenBounds(serverID)
	return true
}

// Update applies fn to the message with the given id, if present.
func (s *Store) Update(conv domain.ConversationID, id int64, fn func(*domain.Message)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[conv]
	if !ok {
		return false
	}
	i := l.indexByID(id)
	if i < 0 {
		return false
	}
	fn(l.messages[i])
	return true
}

// MarkReadByPeer flips the delivery indicator on every message the local
// user sent in the conversation. This is the receipt direction about our own
// messages; it never touches the local unread counter.
func (s *Store) MarkReadByPeer(conv domain.ConversationID, localUserID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[conv]
	if !ok {
		return 0
	}
	flipped := 0
	for _, m := range l.messages {
		if m.SenderID == localUserID && !m.ReadByPeer {
			m.ReadByPeer = true
			flipped++
		}
	}
	return flipped
}

// Locate finds which conversation holds a message id. Some push types
// (deletes, reaction updates) may omit the conversation on older servers.
func (s *Store) Locate(id int64) (domain.ConversationID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for conv, l := range s.logs {
		if l.indexByID(id) >= 0 {
			return conv, true
		}
	}
	return domain.ConversationID{}, false
}

// Get returns a copy of one message.
func (s *Store) Get(conv domain.ConversationID, id int64) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[conv]
	if !ok {
		return domain.Message{}, false
	}
	i := l.indexByID(id)
	if i < 0 {
		return domain.Message{}, false
	}
	return *l.messages[i], true
}

// Messages returns a copy of the conversation's log in order.
func (s *Store) Messages(conv domain.ConversationID) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[conv]
	if !ok {
		return nil
	}
	out := make([]domain.Message, len(l.messages))
	for i, m := range l.messages {
		out[i] = *m
	}
	return out
}

// OldestLoadedID returns the backward pagination cursor (0 when nothing with
// a server id is loaded yet).
func (s *Store) OldestLoadedID(conv domain.ConversationID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.logs[conv]; ok {
		return l.oldestLoaded
	}
	return 0
}

// NewestSeenID returns the forward boundary of the loaded window.
func (s *Store) NewestSeenID(conv domain.ConversationID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.logs[conv]; ok {
		return l.newestSeen
	}
	return 0
}

// BeginBackfill claims the per-conversation backward fetch slot. It returns
// false while another fetch is outstanding; callers must drop the request,
// not queue it.
func (s *Store) BeginBackfill(conv domain.ConversationID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.logFor(conv)
	if l.backfilling {
		return false
	}
	l.backfilling = true
	return true
}

// EndBackfill releases the backward fetch slot.
func (s *Store) EndBackfill(conv domain.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[conv]; ok {
		l.backfilling = false
	}
}

// SetActive marks the single visible conversation.
func (s *Store) SetActive(conv domain.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = conv
}

// Active returns the currently visible conversation.
func (s *Store) Active() domain.ConversationID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// IsActive reports whether conv is the visible conversation.
func (s *Store) IsActive(conv domain.ConversationID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active == conv
}

// Teardown drops all state for a conversation (chat deleted or left). This
// is the only operation that resets the pagination boundaries.
func (s *Store) Teardown(conv domain.ConversationID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, conv)
	if s.active == conv {
		s.active = domain.ConversationID{}
	}
}

// ============================================================================
// log internals
// ============================================================================

func (l *log) indexByID(id int64) int {
	for i, m := range l.messages {
		if m.ID == id && m.ID != 0 {
			return i
		}
	}
	return -1
}

func (l *log) indexByTempID(tempID string) int {
	for i, m := range l.messages {
		if m.TempID == tempID && m.ID == 0 {
			return i
		}
	}
	return -1
}

// insert places m at the position preserving non-decreasing CreatedAt order.
// Scanning from the tail keeps the common case (live append) O(1) and makes
// ties insertion-stable.
func (l *log) insert(m *domain.Message) {
	i := len(l.messages)
	for i > 0 && l.messages[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	l.messages = append(l.messages, nil)
	copy(l.messages[i+1:], l.messages[i:])
	l.messages[i] = m
}

func (l *log) widenBounds(id int64) {
	if id == 0 {
		return
	}
	if l.oldestLoaded == 0 || id < l.oldestLoaded {
		l.oldestLoaded = id
	}
	if id > l.newestSeen {
		l.newestSeen = id
	}
}
