package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/saucer/internal/domain"
)

func entry(id, name string, online bool) domain.PresenceEntry {
	return domain.PresenceEntry{UserID: id, Username: name, Online: online}
}

func find(entries []domain.PresenceEntry, name string) (domain.PresenceEntry, bool) {
	for _, e := range entries {
		if e.Username == name {
			return e, true
		}
	}
	return domain.PresenceEntry{}, false
}

func TestApplyOnlineOnly_PreservesOfflineMembers(t *testing.T) {
	r := New()
	r.ApplyFull([]domain.PresenceEntry{
		entry("1", "alice", true),
		entry("2", "bob", false),
	})

	// Legacy snapshot lists only who is online right now.
	r.ApplyOnlineOnly([]string{"alice"})

	got := r.Snapshot()
	require.Len(t, got, 2)

	bob, ok := find(got, "bob")
	require.True(t, ok, "offline member must be preserved")
	assert.False(t, bob.Online)

	alice, _ := find(got, "alice")
	assert.True(t, alice.Online)
}

func TestApplyFull_RemovalIsAuthoritative(t *testing.T) {
	r := New()
	r.ApplyFull([]domain.PresenceEntry{
		entry("1", "alice", true),
		entry("2", "bob", false),
	})

	// Bob was removed (banned); the authoritative roster no longer lists him.
	r.ApplyFull([]domain.PresenceEntry{
		entry("1", "alice", true),
	})

	// A stale legacy snapshot must not resurrect him.
	r.ApplyOnlineOnly([]string{"alice"})

	_, ok := find(r.Snapshot(), "bob")
	assert.False(t, ok, "removed member must not reappear from a legacy snapshot")
}

func TestApplyOnlineOnly_CreatesUnknownUsers(t *testing.T) {
	r := New()

	r.ApplyOnlineOnly([]string{"carol"})

	got := r.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "carol", got[0].Username)
	assert.Empty(t, got[0].UserID, "legacy entries carry no id")
	assert.True(t, got[0].Online)
}

func TestApplyFull_UpgradesLegacyEntry(t *testing.T) {
	r := New()
	r.ApplyOnlineOnly([]string{"carol"})

	r.ApplyFull([]domain.PresenceEntry{entry("3", "carol", true)})

	got := r.Snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].UserID)
}

func TestSetOnline_TogglesIndependently(t *testing.T) {
	r := New()
	r.ApplyFull([]domain.PresenceEntry{
		entry("1", "alice", true),
		entry("2", "bob", true),
	})

	require.True(t, r.SetOnline("2", false))

	bob, _ := find(r.Snapshot(), "bob")
	alice, _ := find(r.Snapshot(), "alice")
	assert.False(t, bob.Online)
	assert.True(t, alice.Online)

	assert.False(t, r.SetOnline("missing", true))
}

func TestRemove_DropsEntry(t *testing.T) {
	r := New()
	r.ApplyFull([]domain.PresenceEntry{entry("1", "alice", true)})

	require.True(t, r.Remove("1"))
	assert.Empty(t, r.Snapshot())
	assert.False(t, r.Remove("1"))
}

func TestSnapshot_SortsOnlineFirstThenName(t *testing.T) {
	r := New()
	r.ApplyFull([]domain.PresenceEntry{
		entry("1", "zoe", true),
		entry("2", "adam", false),
		entry("3", "mia", true),
	})

	got := r.Snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "mia", got[0].Username)
	assert.Equal(t, "zoe", got[1].Username)
	assert.Equal(t, "adam", got[2].Username)
}
