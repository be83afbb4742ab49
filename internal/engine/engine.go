// Package engine ties the sync components together: it classifies inbound
// transport frames, routes them to the stores in strict arrival order, and
// turns user intents into outbound frames or REST calls. All store mutations
// happen on the single Run goroutine; intents from other goroutines are
// posted onto the same loop.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/observer/saucer/internal/composer"
	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/presence"
	"github.com/observer/saucer/internal/protocol"
	"github.com/observer/saucer/internal/reaction"
	"github.com/observer/saucer/internal/readstate"
	"github.com/observer/saucer/internal/rest"
	"github.com/observer/saucer/internal/store"
	"github.com/observer/saucer/internal/transport"
)

const (
	eventBuffer  = 256
	intentBuffer = 64

	restTimeout = 10 * time.Second
)

// Transport is the connection manager surface the engine depends on.
type Transport interface {
	Connect(ctx context.Context, token string, profile transport.JoinProfile) error
	Send(frame *protocol.Frame) error
	Close() error
	Events() <-chan transport.Event
}

// API is the REST collaborator surface.
type API interface {
	FetchHistoryBefore(ctx context.Context, conv domain.ConversationID, beforeID int64, limit int) (*rest.HistoryPage, error)
	MarkRead(ctx context.Context, conv domain.ConversationID, uptoID int64) error
	FetchUnreadCounts(ctx context.Context) (map[domain.ConversationID]int, error)
	FetchGroupAdmins(ctx context.Context, groupID string) ([]string, error)
	PromoteAdmin(ctx context.Context, groupID, userID string) error
	DemoteAdmin(ctx context.Context, groupID, userID string) error
	BanMember(ctx context.Context, groupID, userID string) error
}

// SessionStore is the slice of persisted state the engine touches on auth
// failure.
type SessionStore interface {
	Clear() error
}

// Engine is the message synchronization core.
type Engine struct {
	logger *slog.Logger
	tr     Transport
	api    API
	sess   SessionStore

	store     *store.Store
	tracker   *readstate.Tracker
	reactions *reaction.Aggregator
	comp      *composer.Coordinator
	roster    *presence.Roster

	me       domain.Identity
	token    string
	pageSize int

	// groupAdmins caches REST admin lists per group id, owned by the loop.
	groupAdmins map[string]map[string]bool

	intents chan func()
	events  chan Event
}

// Options bundles the collaborators for New.
type Options struct {
	Logger   *slog.Logger
	Tr       Transport
	API      API
	Sess     SessionStore
	Me       domain.Identity
	Token    string
	PageSize int
}

func New(opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	return &Engine{
		logger:      opts.Logger,
		tr:          opts.Tr,
		api:         opts.API,
		sess:        opts.Sess,
		me:          opts.Me,
		token:       opts.Token,
		pageSize:    opts.PageSize,
		store:       store.New(),
		tracker:     readstate.New(opts.Me.UserID),
		reactions:   reaction.New(reaction.DefaultWindow),
		comp:        composer.New(),
		roster:      presence.New(),
		groupAdmins: make(map[string]map[string]bool),
		intents:     make(chan func(), intentBuffer),
		events:      make(chan Event, eventBuffer),
	}
}

// Events is the UI subscriber channel.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Connect opens the transport with the session token.
func (e *Engine) Connect(ctx context.Context) error {
	return e.tr.Connect(ctx, e.token, transport.JoinProfile{
		UserID:   e.me.UserID,
		Username: e.me.Username,
	})
}

// Run is the event loop. It returns when ctx is cancelled. Inbound frames
// are processed strictly in arrival order; intents interleave between them.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = e.tr.Close()
			return
		case ev := <-e.tr.Events():
			switch ev.Kind {
			case transport.EventFrame:
				e.handleFrame(ev.Frame)
			case transport.EventState:
				e.handleConnState(ev)
			}
		case fn := <-e.intents:
			fn()
		}
	}
}

// post schedules fn on the loop goroutine.
func (e *Engine) post(fn func()) {
	select {
	case e.intents <- fn:
	default:
		// Pathological backlog; dropping the intent beats blocking the UI.
		e.logger.Warn("intent queue full, dropping intent")
	}
}

// emit delivers a UI event, dropping on a full buffer rather than stalling
// the loop.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("ui event buffer full, dropping event", "kind", ev.Kind)
	}
}

// ============================================================================
// Read-side accessors (safe from any goroutine; stores lock internally)
// ============================================================================

// Messages returns the ordered log of one conversation.
func (e *Engine) Messages(conv domain.ConversationID) []domain.Message {
	return e.store.Messages(conv)
}

// Unread returns the derived unread counter.
func (e *Engine) Unread(conv domain.ConversationID) int {
	return e.tracker.Unread(conv)
}

// Roster returns the current presence snapshot.
func (e *Engine) Roster() []domain.PresenceEntry {
	return e.roster.Snapshot()
}

// Active returns the visible conversation.
func (e *Engine) Active() domain.ConversationID {
	return e.store.Active()
}

// ComposerState exposes the composer for rendering.
func (e *Engine) ComposerState() (composer.State, *composer.PendingEdit, *composer.ReplyDraft) {
	st := e.comp.State()
	var pe *composer.PendingEdit
	var rd *composer.ReplyDraft
	if edit, ok := e.comp.PendingEdit(); ok {
		pe = &edit
	}
	if reply, ok := e.comp.ReplyDraft(); ok {
		rd = &reply
	}
	return st, pe, rd
}

// Me returns the local identity.
func (e *Engine) Me() domain.Identity {
	return e.me
}

// ============================================================================
// Helpers shared by dispatch and intents
// ============================================================================

func (e *Engine) isGroupAdmin(conv domain.ConversationID) bool {
	if conv.Kind != domain.KindCustom {
		return false
	}
	admins, ok := e.groupAdmins[conv.GroupID]
	return ok && admins[e.me.UserID]
}

// markReadRemote is the fire-and-forget REST receipt. Failures are logged,
// never retried synchronously, never surfaced.
func (e *Engine) markReadRemote(conv domain.ConversationID, uptoID int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
		defer cancel()
		if err := e.api.MarkRead(ctx, conv, uptoID); err != nil {
			e.logger.Warn("mark read failed", "conversation", conv.String(), "error", err)
		}
	}()
}

// refreshGroupAdmins loads the admin list once per group, off-loop.
func (e *Engine) refreshGroupAdmins(groupID string) {
	if _, ok := e.groupAdmins[groupID]; ok {
		return
	}
	e.groupAdmins[groupID] = map[string]bool{} // placeholder until the fetch lands
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
		defer cancel()
		admins, err := e.api.FetchGroupAdmins(ctx, groupID)
		if err != nil {
			e.logger.Warn("fetch group admins failed", "group_id", groupID, "error", err)
			return
		}
		e.post(func() {
			set := make(map[string]bool, len(admins))
			for _, id := range admins {
				set[id] = true
			}
			e.groupAdmins[groupID] = set
		})
	}()
}

// refreshUnreadBadges reconciles local unread derivation against server
// truth, typically after (re)connecting.
func (e *Engine) refreshUnreadBadges() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
		defer cancel()
		counts, err := e.api.FetchUnreadCounts(ctx)
		if err != nil {
			e.logger.Warn("fetch unread counts failed", "error", err)
			return
		}
		e.post(func() {
			for conv, n := range counts {
				e.tracker.ReconcileBadge(conv, n)
				e.emit(Event{Kind: EventUnreadChanged, Conversation: conv, Unread: n})
			}
		})
	}()
}

func newTempID() string {
	return uuid.NewString()
}

func decodePayload(logger *slog.Logger, frameType string, raw json.RawMessage, out interface{}) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		// Malformed payloads are recovered locally; never crash the loop.
		logger.Warn("malformed payload", "type", frameType, "error", err)
		return false
	}
	return true
}
