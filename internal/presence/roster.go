// Package presence reconciles the who's-online roster from two snapshot
// shapes: authoritative full rosters carrying user ids, and legacy
// online-only username lists. The merge rule is conservative exactly when
// the snapshot lacks id information, and wholesale otherwise — so a user
// removed by an authoritative update is never resurrected by a stale legacy
// snapshot.
package presence

import (
	"sort"
	"sync"

	"github.com/observer/saucer/internal/domain"
)

// Roster holds the current presence view, keyed by user id when known and
// by username for legacy-only entries.
type Roster struct {
	mu      sync.RWMutex
	entries map[string]*domain.PresenceEntry
}

func New() *Roster {
	return &Roster{entries: make(map[string]*domain.PresenceEntry)}
}

func key(e domain.PresenceEntry) string {
	if e.UserID != "" {
		return "id:" + e.UserID
	}
	return "name:" + e.Username
}

// ApplyFull replaces the roster wholesale with an authoritative snapshot.
// Members absent from the snapshot (banned, removed) are gone afterwards.
func (r *Roster) ApplyFull(entries []domain.PresenceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make(map[string]*domain.PresenceEntry, len(entries))
	for i := range entries {
		e := entries[i]
		fresh[key(e)] = &e
	}
	r.entries = fresh
}

// ApplyOnlineOnly merges a legacy snapshot that carries usernames but no
// ids. Listed users are marked online (created if unknown); everyone else is
// preserved untouched — absence from an online-only snapshot is not evidence
// of removal.
func (r *Roster) ApplyOnlineOnly(usernames []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range usernames {
		if existing := r.findByNameLocked(name); existing != nil {
			existing.Online = true
			continue
		}
		e := &domain.PresenceEntry{Username: name, Online: true}
		r.entries[key(*e)] = e
	}
}

// Upsert adds or refreshes a single member, for member_joined deltas.
func (r *Roster) Upsert(e domain.PresenceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// An id-bearing delta supersedes a legacy name-only entry for the same
	// user.
	if e.UserID != "" {
		if legacy := r.findByNameLocked(e.Username); legacy != nil && legacy.UserID == "" {
			delete(r.entries, "name:"+legacy.Username)
		}
	}
	r.entries[key(e)] = &e
}

// SetOnline toggles a single known member, for member_joined / member_left
// deltas.
func (r *Roster) SetOnline(userID string, online bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.UserID == userID {
			e.Online = online
			return true
		}
	}
	return false
}

// Remove drops a member explicitly (ban / removal delta).
func (r *Roster) Remove(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, e := range r.entries {
		if e.UserID == userID {
			delete(r.entries, k)
			return true
		}
	}
	return false
}

// Snapshot returns the roster sorted by username, online members first.
func (r *Roster) Snapshot() []domain.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.PresenceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return out[i].Username < out[j].Username
	})
	return out
}

func (r *Roster) findByNameLocked(username string) *domain.PresenceEntry {
	for _, e := range r.entries {
		if e.Username == username {
			return e
		}
	}
	return nil
}
