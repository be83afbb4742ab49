package domain

import "time"

// Identity is the locally authenticated user, derived from the access token.
// GlobalAdmin gates moderation affordances in the global room; per-group
// admin rights come from the REST admin list instead.
type Identity struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	GlobalAdmin bool      `json:"global_admin"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// PresenceEntry is one row of the who's-online roster.
//
// UserID may be empty when the entry originated from a legacy online-only
// snapshot, which carries usernames but no ids.
type PresenceEntry struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// Member is a user's membership row in a custom group.
type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}
