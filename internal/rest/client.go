// Package rest consumes the server's REST side-channels: history pagination,
// mark-as-read, unread badges, and group moderation. Every call is
// idempotent from the engine's perspective; retrying a fetch or a mark-read
// cannot corrupt state because ingestion dedups by id.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/observer/saucer/internal/domain"
	"github.com/observer/saucer/internal/protocol"
)

const requestTimeout = 15 * time.Second

// Client talks to the REST API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// HistoryPage is one backward-pagination result.
type HistoryPage struct {
	Messages []domain.Message
	// LastReadID is the server's read watermark for this conversation,
	// reconciled into the tracker on arrival.
	LastReadID int64
}

// historyResponse mirrors the wire shape; messages reuse the protocol
// payload type.
type historyResponse struct {
	Messages          []protocol.MessagePayload `json:"messages"`
	LastReadMessageID int64                     `json:"last_read_message_id"`
}

type unreadResponse struct {
	Counts []struct {
		Chat  string `json:"chat"`
		Count int    `json:"count"`
	} `json:"counts"`
}

type adminsResponse struct {
	Admins []string `json:"admins"`
}

// convPath maps a conversation to its REST path segment.
func convPath(conv domain.ConversationID) string {
	switch conv.Kind {
	case domain.KindPrivate:
		return "/private/" + url.PathEscape(conv.PeerID)
	case domain.KindCustom:
		return "/groups/" + url.PathEscape(conv.GroupID)
	default:
		return "/global"
	}
}

// FetchHistoryBefore fetches up to limit messages older than beforeID.
// beforeID 0 means "newest page".
func (c *Client) FetchHistoryBefore(ctx context.Context, conv domain.ConversationID, beforeID int64, limit int) (*HistoryPage, error) {
	q := url.Values{}
	if beforeID > 0 {
		q.Set("before_id", strconv.FormatInt(beforeID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp historyResponse
	if err := c.get(ctx, convPath(conv)+"/messages?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", conv, err)
	}

	page := &HistoryPage{LastReadID: resp.LastReadMessageID}
	for i := range resp.Messages {
		p := &resp.Messages[i]
		page.Messages = append(page.Messages, p.ToDomain(conv))
	}
	return page, nil
}

// MarkRead reports the watermark to the server. Best-effort: callers treat
// failures as log-only.
func (c *Client) MarkRead(ctx context.Context, conv domain.ConversationID, uptoID int64) error {
	body := map[string]interface{}{
		"chat_type":     protocol.ChatType(conv),
		"last_read_id":  uptoID,
		"group_id":      conv.GroupID,
		"other_user_id": conv.PeerID,
	}
	if err := c.post(ctx, convPath(conv)+"/read", body, nil); err != nil {
		return fmt.Errorf("mark read %s: %w", conv, err)
	}
	return nil
}

// FetchUnreadCounts returns the authoritative badge counters, keyed by
// conversation.
func (c *Client) FetchUnreadCounts(ctx context.Context) (map[domain.ConversationID]int, error) {
	var resp unreadResponse
	if err := c.get(ctx, "/unread", &resp); err != nil {
		return nil, fmt.Errorf("fetch unread counts: %w", err)
	}
	counts := make(map[domain.ConversationID]int, len(resp.Counts))
	for _, row := range resp.Counts {
		counts[protocol.ParseConversationID(row.Chat)] = row.Count
	}
	return counts, nil
}

// FetchGroupAdmins returns the user ids holding admin rights in a group.
func (c *Client) FetchGroupAdmins(ctx context.Context, groupID string) ([]string, error) {
	var resp adminsResponse
	if err := c.get(ctx, "/groups/"+url.PathEscape(groupID)+"/admins", &resp); err != nil {
		return nil, fmt.Errorf("fetch group admins: %w", err)
	}
	return resp.Admins, nil
}

// PromoteAdmin grants group admin rights.
func (c *Client) PromoteAdmin(ctx context.Context, groupID, userID string) error {
	return c.post(ctx, "/groups/"+url.PathEscape(groupID)+"/admins", map[string]string{"user_id": userID}, nil)
}

// DemoteAdmin revokes group admin rights.
func (c *Client) DemoteAdmin(ctx context.Context, groupID, userID string) error {
	return c.del(ctx, "/groups/"+url.PathEscape(groupID)+"/admins/"+url.PathEscape(userID))
}

// BanMember removes a user from a group.
func (c *Client) BanMember(ctx context.Context, groupID, userID string) error {
	return c.del(ctx, "/groups/"+url.PathEscape(groupID)+"/members/"+url.PathEscape(userID))
}

// ============================================================================
// HTTP plumbing
// ============================================================================

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) del(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return domain.ErrForbidden
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
