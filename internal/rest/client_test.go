package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/saucer/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFetchHistoryBefore_BuildsKeysetQuery(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"messages": []map[string]interface{}{
				{"id": 8, "from": "u2", "text": "older", "created_at": time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)},
				{"id": 9, "from": "u2", "text": "old", "created_at": time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)},
			},
			"last_read_message_id": 9,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tkn", testLogger())
	page, err := c.FetchHistoryBefore(context.Background(), domain.Custom("g1"), 10, 50)
	require.NoError(t, err)

	assert.Equal(t, "/groups/g1/messages?before_id=10&limit=50", gotPath)
	assert.Equal(t, "Bearer tkn", gotAuth)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, int64(8), page.Messages[0].ID)
	assert.Equal(t, domain.Custom("g1"), page.Messages[0].Conversation)
	assert.Equal(t, int64(9), page.LastReadID)
}

func TestFetchHistoryBefore_ZeroCursorOmitted(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"messages": []interface{}{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tkn", testLogger())
	_, err := c.FetchHistoryBefore(context.Background(), domain.Global(), 0, 25)
	require.NoError(t, err)
	assert.Equal(t, "/global/messages?limit=25", gotPath)
}

func TestMarkRead_PostsWatermark(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/private/u2/read", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tkn", testLogger())
	require.NoError(t, c.MarkRead(context.Background(), domain.Private("u2"), 42))

	assert.Equal(t, "private", gotBody["chat_type"])
	assert.Equal(t, float64(42), gotBody["last_read_id"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrForbidden},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewClient(srv.URL, "tkn", testLogger())
		err := c.MarkRead(context.Background(), domain.Global(), 1)
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		srv.Close()
	}
}

func TestFetchUnreadCounts_KeyedByConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/unread", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"counts": []map[string]interface{}{
				{"chat": "global", "count": 3},
				{"chat": "user_u2", "count": 1},
				{"chat": "group_g1", "count": 7},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tkn", testLogger())
	counts, err := c.FetchUnreadCounts(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, counts[domain.Global()])
	assert.Equal(t, 1, counts[domain.Private("u2")])
	assert.Equal(t, 7, counts[domain.Custom("g1")])
}

func TestFetchGroupAdmins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups/g1/admins", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"admins": []string{"u1", "u9"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tkn", testLogger())
	admins, err := c.FetchGroupAdmins(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u9"}, admins)
}
