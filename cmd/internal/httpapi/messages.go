package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	v1 "mergemeet/shared/contracts/realtime/v1"
)

// DefaultHistoryLimit is the page size used when the caller passes 0.
const DefaultHistoryLimit = 50

// Conversation is one row of the conversation list, ordered most recent
// first by the server.
type Conversation struct {
	MatchID         string      `json:"match_id"`
	OtherUserID     string      `json:"other_user_id"`
	OtherUserName   string      `json:"other_user_name"`
	OtherUserAvatar string      `json:"other_user_avatar"`
	LastMessage     *v1.Message `json:"last_message"`
	UnreadCount     int         `json:"unread_count"`
}

// HistoryPage is one page of chat history. Messages are ascending by
// sent time; NextCursor is the id to pass as beforeID for the next
// (older) page when HasMore is set.
type HistoryPage struct {
	Messages   []v1.Message `json:"messages"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
	Total      int          `json:"total"`
}

// Conversations fetches the caller's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/api/messages/conversations", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatHistory fetches one page of messages for a match. beforeID of ""
// requests the newest page.
func (c *Client) ChatHistory(ctx context.Context, matchID, beforeID string, limit int) (HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	if beforeID != "" {
		query.Set("before_id", beforeID)
	}
	var out HistoryPage
	path := fmt.Sprintf("/api/messages/matches/%s/messages", url.PathEscape(matchID))
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return HistoryPage{}, err
	}
	return out, nil
}

// DeleteMessage removes one of the caller's own messages.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/api/messages/messages/%s", url.PathEscape(messageID))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// MarkConversationRead zeroes the unread counter for a match on the
// server. Per-message read receipts travel over the realtime channel,
// not this endpoint.
func (c *Client) MarkConversationRead(ctx context.Context, matchID string) error {
	path := fmt.Sprintf("/api/messages/matches/%s/read", url.PathEscape(matchID))
	return c.doJSON(ctx, http.MethodPost, path, nil, nil, nil)
}
