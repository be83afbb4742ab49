// Package reaction applies emoji toggles with XOR semantics and absorbs
// duplicate gesture events with a short per-message debounce window. The
// local toggle is an optimistic guess; the server's reaction_updated push
// replaces the whole set and is the point of convergence.
package reaction

import (
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/observer/saucer/internal/domain"
)

// DefaultWindow absorbs a double-tap firing both a gesture handler and a
// click handler.
const DefaultWindow = 500 * time.Millisecond

// Aggregator debounces toggles per message id.
type Aggregator struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	window   time.Duration
}

func New(window time.Duration) *Aggregator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Aggregator{
		limiters: make(map[int64]*rate.Limiter),
		window:   window,
	}
}

// Allow reports whether a toggle for this message may proceed. The first
// call in a window passes; repeats within the window are suppressed and
// must produce no local change and no outbound frame.
func (a *Aggregator) Allow(messageID int64) bool {
	a.mu.Lock()
	limiter, ok := a.limiters[messageID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(a.window), 1)
		a.limiters[messageID] = limiter
	}
	a.mu.Unlock()

	return limiter.Allow()
}

// Toggle applies the XOR semantics to a message's reaction set: the same
// user applying the same emoji again removes it. Returns true when the
// reaction is present after the call.
func Toggle(m *domain.Message, emoji, userID string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[emoji]
	if i := slices.Index(users, userID); i >= 0 {
		users = append(users[:i], users[i+1:]...)
		if len(users) == 0 {
			delete(m.Reactions, emoji)
		} else {
			m.Reactions[emoji] = users
		}
		return false
	}
	m.Reactions[emoji] = append(users, userID)
	return true
}

// ApplyServerUpdate replaces the message's reaction set wholesale. Last
// writer from the server wins even when the optimistic guess was wrong.
func ApplyServerUpdate(m *domain.Message, reactions map[string][]string) {
	if len(reactions) == 0 {
		m.Reactions = nil
		return
	}
	replaced := make(map[string][]string, len(reactions))
	for emoji, users := range reactions {
		replaced[emoji] = slices.Clone(users)
	}
	m.Reactions = replaced
}

// Cleanup drops limiters whose window has fully elapsed; the map otherwise
// grows with every reacted-to message. The engine calls this on each
// conversation switch.
func (a *Aggregator) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, limiter := range a.limiters {
		if limiter.Tokens() >= 1 {
			delete(a.limiters, id)
		}
	}
}
