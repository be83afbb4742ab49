// Package transport owns the single WebSocket connection to the chat server:
// the join handshake, read/write pumps, and the reconnection policy.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer (64KB covers bulk history)
	maxMessageSize = 65536

	// Outbound queue depth before Send starts reporting backpressure
	sendBuffer = 64

	eventBuffer = 256
)

// State is the connection lifecycle as seen by subscribers.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateUnreachable is terminal: the retry cap was exhausted. Only a new
	// explicit Connect leaves it.
	StateUnreachable
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateUnreachable:
		return "unreachable"
	default:
		return "disconnected"
	}
}

// EventKind discriminates the two event flavors on the subscriber channel.
type EventKind int

const (
	EventFrame EventKind = iota
	EventState
)

// Event is either a classified inbound frame or a connection state change,
// delivered strictly in arrival order.
type Event struct {
	Kind    EventKind
	Frame   *protocol.Frame
	State   State
	Attempt int           // set for StateReconnecting
	Delay   time.Duration // set for StateReconnecting
}

// JoinProfile carries the advisory identity hints sent with the join frame.
// The token is authoritative; the server may ignore these.
type JoinProfile struct {
	UserID   string
	Username string
}

// Manager maintains at most one live connection at a time.
type Manager struct {
	url        string
	base       time.Duration
	maxRetries int
	dialer     *websocket.Dialer
	logger     *slog.Logger
	events     chan Event

	mu       sync.Mutex
	conn     *websocket.Conn
	send     chan []byte
	cancel   context.CancelFunc
	retry    *time.Timer
	backoff  *backoff.ExponentialBackOff
	attempts int
	token    string
	profile  JoinProfile
	closed   bool
	// unreachable latches once the retry cap is exhausted; only an
	// explicit Connect clears it.
	unreachable bool
}

// NewManager creates a manager for the given ws:// or wss:// URL. base is the
// first reconnect delay; maxRetries caps consecutive failed attempts before
// the terminal unreachable state.
func NewManager(url string, base time.Duration, maxRetries int, logger *slog.Logger) *Manager {
	return &Manager{
		url:        url,
		base:       base,
		maxRetries: maxRetries,
		dialer:     websocket.DefaultDialer,
		logger:     logger,
		events:     make(chan Event, eventBuffer),
		backoff:    newBackoff(base, maxRetries),
		closed:     true,
	}
}

// newBackoff builds the reconnect schedule: base, base*2, base*4, ... with
// no jitter, so attempt n sleeps base*2^(n-1).
func newBackoff(base time.Duration, maxRetries int) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	// The schedule must not clip before the retry cap does.
	b.MaxInterval = base << uint(maxRetries)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Events returns the subscriber channel. Frames and state changes are
// interleaved in the order they occurred.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect opens a fresh connection. A missing token fails fast with no dial
// attempt. Any existing connection is closed first, and the retry counter
// starts from zero.
func (m *Manager) Connect(ctx context.Context, token string, profile JoinProfile) error {
	if token == "" {
		return domain.ErrTokenMissing
	}

	m.mu.Lock()
	m.token = token
	m.profile = profile
	m.closed = false
	m.unreachable = false
	m.attempts = 0
	m.backoff.Reset()
	m.stopRetryLocked()
	m.dropConnLocked()
	m.mu.Unlock()

	return m.dial(ctx)
}

// dial performs one connection attempt. Failures schedule a retry unless the
// manager was closed or the cap is exhausted.
func (m *Manager) dial(ctx context.Context) error {
	m.emit(ctx, Event{Kind: EventState, State: StateConnecting})

	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.logger.Warn("websocket dial failed", "url", m.url, "error", err)
		m.scheduleRetry(ctx)
		return fmt.Errorf("dial %s: %w", m.url, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return domain.ErrNotConnected
	}
	m.dropConnLocked()
	m.stopRetryLocked()
	m.conn = conn
	m.send = make(chan []byte, sendBuffer)
	m.attempts = 0
	m.backoff.Reset()
	pumpCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	sendCh := m.send
	token, profile := m.token, m.profile
	m.mu.Unlock()

	go m.writePump(pumpCtx, conn, sendCh)

	join, err := protocol.NewFrame(protocol.TypeJoin, protocol.JoinPayload{
		Token:    token,
		Username: profile.Username,
		UserID:   profile.UserID,
	})
	if err != nil {
		return fmt.Errorf("build join frame: %w", err)
	}
	if err := m.Send(join); err != nil {
		return err
	}

	// Emit the state change before the read pump can deliver any frame, so
	// subscribers always observe connected -> frames in that order.
	m.emit(ctx, Event{Kind: EventState, State: StateConnected})
	go m.readPump(pumpCtx, conn)
	return nil
}

// Send serializes a frame onto the outbound queue.
func (m *Manager) Send(frame *protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	m.mu.Lock()
	sendCh := m.send
	connected := m.conn != nil && !m.closed
	unreachable := m.unreachable
	m.mu.Unlock()

	if unreachable {
		return domain.ErrUnreachable
	}
	if !connected {
		return domain.ErrNotConnected
	}
	select {
	case sendCh <- data:
		return nil
	default:
		m.logger.Warn("send buffer full, dropping frame", "type", frame.Type)
		return fmt.Errorf("send %s: buffer full", frame.Type)
	}
}

// Close tears the connection down and cancels any pending retry. The manager
// emits no further events until the next Connect.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopRetryLocked()
	m.dropConnLocked()
	return nil
}

// dropConnLocked closes the live connection, if any. Caller holds mu.
func (m *Manager) dropConnLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.send = nil
}

// stopRetryLocked clears a pending reconnect timer. Caller holds mu.
func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

// scheduleRetry arms the next backoff timer. At most one timer is pending at
// any moment; exhausting the cap emits the terminal unreachable state.
func (m *Manager) scheduleRetry(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.retry != nil {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	if attempt > m.maxRetries {
		m.unreachable = true
		m.mu.Unlock()
		m.logger.Error("reconnect retries exhausted", "attempts", attempt-1)
		m.emit(ctx, Event{Kind: EventState, State: StateUnreachable})
		return
	}
	delay := m.backoff.NextBackOff()
	m.retry = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.retry = nil
		m.mu.Unlock()
		_ = m.dial(ctx)
	})
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	m.emit(ctx, Event{Kind: EventState, State: StateReconnecting, Attempt: attempt, Delay: delay})
}

// readPump pumps inbound frames to the subscriber channel until the
// connection drops, then hands off to the reconnection policy.
func (m *Manager) readPump(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("websocket read error", "error", err)
			}
			m.handleDisconnect(ctx, conn)
			return
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			// Never crash the dispatch loop on a malformed payload.
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		m.emit(ctx, Event{Kind: EventFrame, Frame: frame})
	}
}

// handleDisconnect starts the retry schedule unless this connection was
// already superseded or the manager deliberately closed.
func (m *Manager) handleDisconnect(ctx context.Context, conn *websocket.Conn) {
	m.mu.Lock()
	stale := m.conn != conn
	if !stale {
		m.dropConnLocked()
	}
	closed := m.closed
	m.mu.Unlock()

	if stale || closed {
		return
	}
	m.scheduleRetry(ctx)
}

// writePump drains the outbound queue and keeps the connection alive with
// pings.
func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// emit delivers an event unless the subscriber is gone.
func (m *Manager) emit(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}
