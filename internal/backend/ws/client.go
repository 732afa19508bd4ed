// Package ws implements the backend contract against a hosted wirechat
// service: REST for the durable surface, a WebSocket per subscription for
// the notification stream and ephemeral membership channels.
package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/backend"
	"github.com/vovakirdan/wirechat-client/internal/chat"
	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// Client talks to a remote wirechat backend.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     *zerolog.Logger
}

// NewClient constructs a backend client for baseURL, authenticating every
// call with the session token.
func NewClient(baseURL, token string, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		log:     logger,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpc.CloseIdleConnections()
	return nil
}

// EnsureConversation creates the conversation row if it does not exist.
func (c *Client) EnsureConversation(ctx context.Context, conversationID, createdBy string) error {
	body := map[string]string{"id": conversationID, "created_by": createdBy}
	return c.doJSON(ctx, http.MethodPost, "/api/conversations", body, nil)
}

// Insert persists a message and returns the authoritative id.
func (c *Client) Insert(ctx context.Context, msg *chat.Message) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	path := "/api/conversations/" + url.PathEscape(msg.ConversationID) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, proto.ToWire(msg), &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return msg.ID, nil
	}
	return resp.ID, nil
}

// partialBody is the PATCH shape for message mutations. A null reactions
// field means no change; an empty object clears every reaction.
type partialBody struct {
	Content   *string             `json:"content,omitempty"`
	DeletedAt *time.Time          `json:"deleted_at,omitempty"`
	DeletedBy *string             `json:"deleted_by,omitempty"`
	ReadBy    []string            `json:"read_by,omitempty"`
	Reactions map[string][]string `json:"reactions"`
}

// Update applies a partial mutation to the message.
func (c *Client) Update(ctx context.Context, id string, fields backend.Partial) error {
	body := partialBody{
		Content:   fields.Content,
		DeletedAt: fields.DeletedAt,
		DeletedBy: fields.DeletedBy,
	}
	for u := range fields.ReadBy {
		body.ReadBy = append(body.ReadBy, u)
	}
	if fields.Reactions != nil {
		body.Reactions = make(map[string][]string, len(fields.Reactions))
		for emoji, users := range fields.Reactions {
			for u := range users {
				body.Reactions[emoji] = append(body.Reactions[emoji], u)
			}
		}
	}
	return c.doJSON(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(id), body, nil)
}

// Query returns the conversation's messages ordered by created_at ascending,
// excluding tombstoned rows.
func (c *Client) Query(ctx context.Context, conversationID string, f backend.Filter) ([]*chat.Message, error) {
	q := url.Values{}
	if !f.After.IsZero() {
		q.Set("after", f.After.Format(time.RFC3339Nano))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var wire []*proto.WireMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	out := make([]*chat.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.ToDomain())
	}
	return out, nil
}

// UpsertStatus writes the presence record keyed by its user id.
func (c *Client) UpsertStatus(ctx context.Context, rec chat.PresenceRecord) error {
	body := proto.WireStatus{UserID: rec.UserID, IsOnline: rec.IsOnline, LastSeen: rec.LastSeen}
	return c.doJSON(ctx, http.MethodPut, "/api/status/"+url.PathEscape(rec.UserID), body, nil)
}

// GetStatus reads the current presence record for userID.
func (c *Client) GetStatus(ctx context.Context, userID string) (chat.PresenceRecord, error) {
	var w proto.WireStatus
	if err := c.doJSON(ctx, http.MethodGet, "/api/status/"+url.PathEscape(userID), nil, &w); err != nil {
		return chat.PresenceRecord{}, err
	}
	return chat.PresenceRecord{UserID: w.UserID, IsOnline: w.IsOnline, LastSeen: w.LastSeen}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, data)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
