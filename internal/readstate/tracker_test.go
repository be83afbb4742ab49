package readstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/observer/saucer/internal/domain"
)

func incoming(id int64, sender string) domain.Message {
	return domain.Message{ID: id, SenderID: sender, CreatedAt: time.Now()}
}

func TestOnIncoming_ActiveForeignAdvancesWatermark(t *testing.T) {
	tr := New("me")
	conv := domain.Global()

	shouldReceipt := tr.OnIncoming(conv, incoming(10, "alice"), true)

	assert.True(t, shouldReceipt, "active conversation sends near-real-time receipts")
	assert.Equal(t, int64(10), tr.LastReadID(conv))
	assert.Equal(t, 0, tr.Unread(conv))
}

func TestOnIncoming_InactiveIncrementsUnread(t *testing.T) {
	tr := New("me")
	conv := domain.Private("alice")

	tr.OnIncoming(conv, incoming(10, "alice"), false)
	tr.OnIncoming(conv, incoming(11, "alice"), false)

	assert.Equal(t, 2, tr.Unread(conv))
	assert.Equal(t, int64(0), tr.LastReadID(conv), "watermark untouched while inactive")
}

func TestOnIncoming_OwnMessagesNeverCounted(t *testing.T) {
	tr := New("me")
	conv := domain.Custom("g1")

	shouldReceipt := tr.OnIncoming(conv, incoming(5, "me"), false)

	assert.False(t, shouldReceipt)
	assert.Equal(t, 0, tr.Unread(conv))
}

func TestMarkRead_Monotonic(t *testing.T) {
	tr := New("me")
	conv := domain.Global()

	assert.True(t, tr.MarkRead(conv, 20))
	assert.Equal(t, int64(20), tr.LastReadID(conv))

	// Smaller and equal ids are no-ops.
	assert.False(t, tr.MarkRead(conv, 10))
	assert.False(t, tr.MarkRead(conv, 20))
	assert.Equal(t, int64(20), tr.LastReadID(conv))

	assert.True(t, tr.MarkRead(conv, 21))
	assert.Equal(t, int64(21), tr.LastReadID(conv))
}

func TestMarkRead_ClearsUnread(t *testing.T) {
	tr := New("me")
	conv := domain.Private("bob")

	tr.OnIncoming(conv, incoming(1, "bob"), false)
	tr.OnIncoming(conv, incoming(2, "bob"), false)
	tr.MarkRead(conv, 2)

	assert.Equal(t, 0, tr.Unread(conv))
}

func TestReconcileBadge_ServerWins(t *testing.T) {
	tr := New("me")
	conv := domain.Custom("g1")

	tr.OnIncoming(conv, incoming(1, "bob"), false)
	assert.Equal(t, 1, tr.Unread(conv))

	// Server says 4 (messages arrived while we were offline).
	tr.ReconcileBadge(conv, 4)
	assert.Equal(t, 4, tr.Unread(conv))

	// Server says 0 even though we derived 1 locally.
	tr.ReconcileBadge(conv, 0)
	assert.Equal(t, 0, tr.Unread(conv))

	tr.ReconcileBadge(conv, -3)
	assert.Equal(t, 0, tr.Unread(conv), "badge never negative")
}

func TestReconcileWatermark_StillMonotone(t *testing.T) {
	tr := New("me")
	conv := domain.Global()

	tr.MarkRead(conv, 30)
	tr.ReconcileWatermark(conv, 25)
	assert.Equal(t, int64(30), tr.LastReadID(conv))

	tr.ReconcileWatermark(conv, 35)
	assert.Equal(t, int64(35), tr.LastReadID(conv))
}

func TestTeardown_DropsState(t *testing.T) {
	tr := New("me")
	conv := domain.Custom("g1")

	tr.OnIncoming(conv, incoming(1, "bob"), false)
	tr.Teardown(conv)

	assert.Equal(t, 0, tr.Unread(conv))
	assert.Equal(t, int64(0), tr.LastReadID(conv))
}
