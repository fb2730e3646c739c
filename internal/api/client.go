// Package api is the HTTP client for the chat REST backend. It covers the
// room, message and profile endpoints the chat session needs and tolerates
// the several response envelopes the backend produces.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/marketdesk/chat-session/internal/chat"
)

// TokenSource yields the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the REST backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.SugaredLogger
}

// New creates a Client.
func New(cfg Config, tokens TokenSource, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger,
	}
}

// ListRooms returns one page of the viewer's rooms as raw provider records.
func (c *Client) ListRooms(ctx context.Context, role chat.Role, page, pageSize int, filter string) ([]chat.Raw, error) {
	p := NormalizePage(page, pageSize)
	q := url.Values{}
	q.Set("role", string(role))
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("pageSize", strconv.Itoa(p.PageSize))
	if filter != "" {
		q.Set("search", filter)
	}

	body, err := c.do(ctx, http.MethodGet, "/api/chat/rooms", q, nil)
	if err != nil {
		return nil, err
	}
	return listItems(body), nil
}

// JoinRoom registers the viewer as an active participant of roomID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, http.MethodPost, roomPath(roomID, "join"), nil, nil)
	return err
}

// GetMessages returns one page of roomID's history as raw provider records.
func (c *Client) GetMessages(ctx context.Context, roomID string, page, pageSize int) ([]chat.Raw, error) {
	p := NormalizePage(page, pageSize)
	q := url.Values{}
	q.Set("page", strconv.Itoa(p.Page))
	q.Set("pageSize", strconv.Itoa(p.PageSize))

	body, err := c.do(ctx, http.MethodGet, roomPath(roomID, "messages"), q, nil)
	if err != nil {
		return nil, err
	}
	return listItems(body), nil
}

type sendRequest struct {
	Content     string           `json:"content"`
	MessageType chat.MessageType `json:"messageType"`
}

// SendMessage posts a message to roomID. The stored record is returned when
// the backend echoes it, nil otherwise.
func (c *Client) SendMessage(ctx context.Context, roomID, content string, messageType chat.MessageType) (chat.Raw, error) {
	body, err := c.do(ctx, http.MethodPost, roomPath(roomID, "messages"), nil, sendRequest{
		Content:     content,
		MessageType: messageType,
	})
	if err != nil {
		return nil, err
	}
	return detail(body), nil
}

// MarkRead marks roomID read for the viewer.
func (c *Client) MarkRead(ctx context.Context, roomID string) error {
	_, err := c.do(ctx, http.MethodPost, roomPath(roomID, "read"), nil, nil)
	return err
}

// GetShopDetail returns the shop profile record.
func (c *Client) GetShopDetail(ctx context.Context, shopID string) (chat.Raw, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/shops/"+url.PathEscape(shopID), nil, nil)
	if err != nil {
		return nil, err
	}
	return detail(body), nil
}

// GetUserByID returns the user profile record.
func (c *Client) GetUserByID(ctx context.Context, userID string) (chat.Raw, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(userID), nil, nil)
	if err != nil {
		return nil, err
	}
	return detail(body), nil
}

func roomPath(roomID, action string) string {
	return "/api/chat/rooms/" + url.PathEscape(roomID) + "/" + action
}

// do performs one request and decodes the JSON response. An empty response
// body decodes to nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) (any, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &Error{Code: CodeUnauthorized, Message: "no access token", Err: err}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("api: build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeTransport, Message: fmt.Sprintf("%s %s failed", method, path), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Code: CodeTransport, Message: "read response", Status: resp.StatusCode, Err: err}
	}

	c.logger.Debugw("request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp.StatusCode, data)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return nil, &Error{Code: CodeDecode, Message: "invalid JSON response", Status: resp.StatusCode, Err: err}
	}
	return body, nil
}

// responseError builds an *Error from a non-2xx response, using the
// backend's message when the body carries one.
func responseError(status int, data []byte) *Error {
	e := &Error{
		Code:    codeForStatus(status),
		Message: http.StatusText(status),
		Status:  status,
	}

	var body map[string]any
	if json.Unmarshal(data, &body) != nil {
		return e
	}
	for _, k := range []string{"message", "error", "title", "detail"} {
		if s, ok := body[k].(string); ok && s != "" {
			e.Message = s
			break
		}
	}
	return e
}

// listKeys are the envelope keys that may hold a list of records.
var listKeys = []string{"items", "Items", "data", "results", "rooms", "messages"}

// listItems unwraps {items}, {data:{items}}, {data:[...]} and bare arrays.
func listItems(body any) []chat.Raw {
	switch v := body.(type) {
	case []any:
		out := make([]chat.Raw, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		for _, k := range listKeys {
			inner, ok := v[k]
			if !ok {
				continue
			}
			switch inner.(type) {
			case []any, map[string]any:
				return listItems(inner)
			}
		}
	}
	return []chat.Raw{}
}

// detail unwraps {data:{...}} or returns the bare object.
func detail(body any) chat.Raw {
	m, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := m["data"].(map[string]any); ok {
		return inner
	}
	return m
}
