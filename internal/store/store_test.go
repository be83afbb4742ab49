package store

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/saucer/internal/domain"
)

func msg(id int64, at time.Time, sender, body string) domain.Message {
	return domain.Message{ID: id, SenderID: sender, SenderName: sender, Body: body, CreatedAt: at}
}

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Idempotent Ingestion
// =============================================================================

func TestAppend_DuplicateServerIDIgnored(t *testing.T) {
	s := New()
	conv := domain.Global()

	m := msg(7, t0, "alice", "hi")
	assert.Equal(t, Inserted, s.Append(conv, m))
	assert.Equal(t, DuplicateIgnored, s.Append(conv, m))

	require.Len(t, s.Messages(conv), 1)
}

func TestAppend_PushThenHistoryFetchStoresOneCopy(t *testing.T) {
	s := New()
	conv := domain.Custom("g1")

	live := msg(10, t0.Add(time.Minute), "bob", "yo")
	assert.Equal(t, Inserted, s.Append(conv, live))

	// The same message arrives again inside a history page.
	page := []domain.Message{
		msg(9, t0, "alice", "earlier"),
		live,
	}
	assert.Equal(t, 1, s.PrependOlder(conv, page))
	assert.Len(t, s.Messages(conv), 2)
}

func TestAppend_OptimisticMessagesNeverDeduplicated(t *testing.T) {
	s := New()
	conv := domain.Private("u2")

	a := domain.Message{TempID: "t-1", SenderID: "me", Body: "one", CreatedAt: t0}
	b := domain.Message{TempID: "t-2", SenderID: "me", Body: "one", CreatedAt: t0}
	assert.Equal(t, Inserted, s.Append(conv, a))
	assert.Equal(t, Inserted, s.Append(conv, b))
	assert.Len(t, s.Messages(conv), 2)
}

// =============================================================================
// Chronological Invariant
// =============================================================================

func assertChronological(t *testing.T, msgs []domain.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
			"log out of order at index %d", i)
	}
}

func TestInsert_RandomInterleavingStaysSorted(t *testing.T) {
	s := New()
	conv := domain.Global()
	rng := rand.New(rand.NewSource(1))

	ids := rng.Perm(40)
	for _, n := range ids {
		m := msg(int64(n+1), t0.Add(time.Duration(n)*time.Second), "alice", "m")
		s.Append(conv, m)
		assertChronological(t, s.Messages(conv))
	}
	assert.Len(t, s.Messages(conv), 40)
}

func TestInsert_TiesAreInsertionStable(t *testing.T) {
	s := New()
	conv := domain.Global()

	s.Append(conv, msg(1, t0, "alice", "first"))
	s.Append(conv, msg(2, t0, "bob", "second"))
	s.Append(conv, msg(3, t0, "carol", "third"))

	got := s.Messages(conv)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Body)
	assert.Equal(t, "second", got[1].Body)
	assert.Equal(t, "third", got[2].Body)
}

func TestPrependOlder_MergesAtFront(t *testing.T) {
	s := New()
	conv := domain.Custom("g1")

	s.Append(conv, msg(20, t0.Add(20*time.Second), "alice", "newest"))
	s.PrependOlder(conv, []domain.Message{
		msg(11, t0.Add(11*time.Second), "bob", "older-b"),
		msg(10, t0.Add(10*time.Second), "bob", "older-a"),
	})

	got := s.Messages(conv)
	require.Len(t, got, 3)
	assert.Equal(t, int64(10), got[0].ID)
	assert.Equal(t, int64(11), got[1].ID)
	assert.Equal(t, int64(20), got[2].ID)
}

// =============================================================================
// Pagination Boundaries
// =============================================================================

func TestBounds_MoveOutwardOnly(t *testing.T) {
	s := New()
	conv := domain.Global()

	s.Append(conv, msg(50, t0.Add(50*time.Second), "a", "m"))
	assert.Equal(t, int64(50), s.OldestLoadedID(conv))
	assert.Equal(t, int64(50), s.NewestSeenID(conv))

	s.PrependOlder(conv, []domain.Message{msg(30, t0.Add(30*time.Second), "a", "m")})
	assert.Equal(t, int64(30), s.OldestLoadedID(conv))

	// A mid-window duplicate-free insert must not pull boundaries inward.
	s.Append(conv, msg(40, t0.Add(40*time.Second), "a", "m"))
	assert.Equal(t, int64(30), s.OldestLoadedID(conv))
	assert.Equal(t, int64(50), s.NewestSeenID(conv))

	s.Append(conv, msg(60, t0.Add(60*time.Second), "a", "m"))
	assert.Equal(t, int64(60), s.NewestSeenID(conv))
}

func TestTeardown_ResetsEverything(t *testing.T) {
	s := New()
	conv := domain.Custom("g1")

	s.Append(conv, msg(5, t0, "a", "m"))
	s.SetActive(conv)
	s.Teardown(conv)

	assert.Empty(t, s.Messages(conv))
	assert.Equal(t, int64(0), s.OldestLoadedID(conv))
	assert.True(t, s.Active().IsZero())
}

// =============================================================================
// Backfill Guard
// =============================================================================

func TestBeginBackfill_SuppressesConcurrentFetch(t *testing.T) {
	s := New()
	conv := domain.Global()

	require.True(t, s.BeginBackfill(conv))
	assert.False(t, s.BeginBackfill(conv), "second fetch must be suppressed")

	s.EndBackfill(conv)
	assert.True(t, s.BeginBackfill(conv))
}

func TestBackfill_DoesNotBlockLiveAppend(t *testing.T) {
	s := New()
	conv := domain.Global()

	require.True(t, s.BeginBackfill(conv))
	assert.Equal(t, Inserted, s.Append(conv, msg(99, t0, "a", "live")))
}

// =============================================================================
// Remove / Edit
// =============================================================================

func TestRemove_MissingIDIsNoOp(t *testing.T) {
	s := New()
	conv := domain.Global()

	assert.False(t, s.Remove(conv, 404))

	s.Append(conv, msg(1, t0, "a", "m"))
	assert.True(t, s.Remove(conv, 1))
	assert.False(t, s.Remove(conv, 1), "second delete notification is harmless")
	assert.Empty(t, s.Messages(conv))
}

func TestApplyEdit_ReplacesBodyOnly(t *testing.T) {
	s := New()
	conv := domain.Global()

	original := msg(3, t0, "alice", "tpyo")
	s.Append(conv, original)

	require.True(t, s.ApplyEdit(conv, 3, "typo"))

	got, ok := s.Get(conv, 3)
	require.True(t, ok)
	assert.Equal(t, "typo", got.Body)
	assert.True(t, got.Edited)
	assert.Equal(t, original.CreatedAt, got.CreatedAt)
	assert.Equal(t, original.ID, got.ID)
}

func TestApplyEdit_MissingTargetIsNoOp(t *testing.T) {
	s := New()
	assert.False(t, s.ApplyEdit(domain.Global(), 12, "whatever"))
}

// =============================================================================
// Echo Reconciliation
// =============================================================================

func TestReconcileEcho_AdoptsServerID(t *testing.T) {
	s := New()
	conv := domain.Private("u2")

	s.Append(conv, domain.Message{TempID: "t-1", SenderID: "me", Body: "hi", CreatedAt: t0})

	serverAt := t0.Add(200 * time.Millisecond)
	require.True(t, s.ReconcileEcho(conv, "t-1", 77, serverAt))

	got := s.Messages(conv)
	require.Len(t, got, 1)
	assert.Equal(t, int64(77), got[0].ID)
	assert.Equal(t, serverAt, got[0].CreatedAt)
}

func TestReconcileEcho_DropsTempWhenEchoAlreadyStored(t *testing.T) {
	s := New()
	conv := domain.Private("u2")

	s.Append(conv, domain.Message{TempID: "t-1", SenderID: "me", Body: "hi", CreatedAt: t0})
	// The confirmed copy arrived first through a history fetch.
	s.Append(conv, msg(77, t0, "me", "hi"))

	require.True(t, s.ReconcileEcho(conv, "t-1", 77, t0))
	require.Len(t, s.Messages(conv), 1)
	assert.Equal(t, int64(77), s.Messages(conv)[0].ID)
}

// =============================================================================
// Peer Receipt Direction
// =============================================================================

func TestMarkReadByPeer_FlipsOwnMessagesOnly(t *testing.T) {
	s := New()
	conv := domain.Private("u2")

	s.Append(conv, msg(1, t0, "me", "mine"))
	s.Append(conv, msg(2, t0.Add(time.Second), "u2", "theirs"))
	s.Append(conv, msg(3, t0.Add(2*time.Second), "me", "mine too"))

	assert.Equal(t, 2, s.MarkReadByPeer(conv, "me"))

	got := s.Messages(conv)
	assert.True(t, got[0].ReadByPeer)
	assert.False(t, got[1].ReadByPeer)
	assert.True(t, got[2].ReadByPeer)
}
