package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// =============================================================================
// Backoff Schedule Tests
// =============================================================================

func TestBackoff_ExponentialSchedule(t *testing.T) {
	b := newBackoff(2*time.Second, 5)

	expected := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for i, want := range expected {
		assert.Equal(t, want, b.NextBackOff(), "attempt %d", i+1)
	}
}

func TestBackoff_ResetRestartsSchedule(t *testing.T) {
	b := newBackoff(500*time.Millisecond, 3)

	assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 1*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 500*time.Millisecond, b.NextBackOff())
}

// =============================================================================
// Connect Preconditions
// =============================================================================

func TestConnect_MissingTokenFailsFast(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", time.Second, 3, testLogger())

	err := m.Connect(context.Background(), "", JoinProfile{})
	require.ErrorIs(t, err, domain.ErrTokenMissing)

	// No dial attempt means no events.
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// =============================================================================
// Retry Cap Tests
// =============================================================================

func TestConnect_RetriesThenUnreachable(t *testing.T) {
	// Port 1 refuses connections immediately, so the whole schedule runs in
	// a few milliseconds with a 1ms base.
	m := NewManager("ws://127.0.0.1:1/ws", time.Millisecond, 2, testLogger())
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.Connect(ctx, "token", JoinProfile{})
	require.Error(t, err)

	var attempts []int
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind != EventState {
				continue
			}
			switch ev.State {
			case StateReconnecting:
				attempts = append(attempts, ev.Attempt)
			case StateUnreachable:
				assert.Equal(t, []int{1, 2}, attempts)

				// Terminal state: sends now fail with the dedicated
				// sentinel until an explicit Connect.
				frame, ferr := protocol.NewFrame(protocol.TypeMessage, protocol.SendPayload{Text: "x"})
				require.NoError(t, ferr)
				assert.ErrorIs(t, m.Send(frame), domain.ErrUnreachable)
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for unreachable state")
		}
	}
}

// =============================================================================
// Live Connection Tests
// =============================================================================

// echoServer upgrades the request, captures the first (join) frame, then
// pushes a single message frame to the client.
func echoServer(t *testing.T, gotJoin chan<- protocol.JoinPayload) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.Decode(data)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeJoin, frame.Type)

		var join protocol.JoinPayload
		require.NoError(t, json.Unmarshal(frame.Payload, &join))
		gotJoin <- join

		push, err := protocol.NewFrame(protocol.TypeMessage, protocol.MessagePayload{
			ID:   42,
			From: "u-2",
			Text: "hello",
		})
		require.NoError(t, err)
		data, err = json.Marshal(push)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestConnect_SendsJoinAndDeliversFrames(t *testing.T) {
	gotJoin := make(chan protocol.JoinPayload, 1)
	srv := echoServer(t, gotJoin)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m := NewManager(url, time.Second, 3, testLogger())
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, m.Connect(ctx, "secret-token", JoinProfile{UserID: "u-1", Username: "alice"}))

	select {
	case join := <-gotJoin:
		assert.Equal(t, "secret-token", join.Token)
		assert.Equal(t, "alice", join.Username)
	case <-ctx.Done():
		t.Fatal("server never received join frame")
	}

	sawConnected := false
	for {
		select {
		case ev := <-m.Events():
			if ev.Kind == EventState && ev.State == StateConnected {
				sawConnected = true
				continue
			}
			if ev.Kind == EventFrame {
				assert.True(t, sawConnected, "frame delivered before connected state")
				assert.Equal(t, protocol.TypeMessage, ev.Frame.Type)
				var p protocol.MessagePayload
				require.NoError(t, json.Unmarshal(ev.Frame.Payload, &p))
				assert.Equal(t, int64(42), p.ID)
				return
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for pushed frame")
		}
	}
}

func TestSend_NotConnected(t *testing.T) {
	m := NewManager("ws://127.0.0.1:1/ws", time.Second, 3, testLogger())

	frame, err := protocol.NewFrame(protocol.TypeMessage, protocol.SendPayload{Text: "hi"})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Send(frame), domain.ErrNotConnected)
}
