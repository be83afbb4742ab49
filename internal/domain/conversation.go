package domain

// ConversationKind discriminates the three chat surfaces the client tracks.
type ConversationKind string

const (
	KindGlobal  ConversationKind = "global"
	KindPrivate ConversationKind = "private"
	KindCustom  ConversationKind = "custom"
)

// ConversationID is the typed identity every per-conversation store is keyed
// by. It is a comparable value, safe to use as a map key. The wire-level
// prefix scheme ("group_...", "channel_...") lives in the protocol package;
// nothing above that layer inspects string prefixes.
type ConversationID struct {
	Kind ConversationKind
	// PeerID is set only for KindPrivate: the other user's id.
	PeerID string
	// GroupID is set only for KindCustom.
	GroupID string
}

// Global returns the identity of the shared global room.
func Global() ConversationID {
	return ConversationID{Kind: KindGlobal}
}

// Private returns the identity of the 1:1 chat with the given user.
func Private(peerID string) ConversationID {
	return ConversationID{Kind: KindPrivate, PeerID: peerID}
}

// Custom returns the identity of a custom group/channel.
func Custom(groupID string) ConversationID {
	return ConversationID{Kind: KindCustom, GroupID: groupID}
}

func (c ConversationID) IsZero() bool {
	return c.Kind == ""
}

// String is for logs only; the protocol package owns the wire encoding.
func (c ConversationID) String() string {
	switch c.Kind {
	case KindGlobal:
		return "global"
	case KindPrivate:
		return "private:" + c.PeerID
	case KindCustom:
		return "custom:" + c.GroupID
	default:
		return "unknown"
	}
}
