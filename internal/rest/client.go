// Package rest is the HTTP client for the chat backend's REST endpoints.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/auth"
)

// ErrUnauthorized is returned for HTTP 401 responses.
var ErrUnauthorized = errors.New("rest: unauthorized")

// APIError is a non-2xx response other than 401.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: http %d: %s", e.Status, e.Message)
}

// Direction selects the side of the cursor a history page is taken from.
type Direction string

const (
	Older Direction = "older"
	Newer Direction = "newer"
)

// DefaultLimit is the history page size when none is given.
const DefaultLimit = 20

// Client calls the REST endpoints with the provider's bearer token.
type Client struct {
	BaseURL string
	Tokens  auth.TokenProvider
	HTTP    *http.Client
	Logger  *zap.Logger
	// OnUnauthorized runs whenever a request is answered with 401.
	OnUnauthorized func()
}

// NewClient creates a client with a 15s request timeout.
func NewClient(baseURL string, tokens auth.TokenProvider, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
		Logger:  logger.Named("rest"),
	}
}

// ListChats returns the chats of the authenticated user.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	if err := c.get(ctx, "/chat/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatMessages fetches one page of a chat's history. An empty cursor starts
// from the newest message.
func (c *Client) ChatMessages(ctx context.Context, chatID int64, cursor string, limit int, dir Direction) (MessagesPage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if dir == "" {
		dir = Older
	}
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("direction", string(dir))

	var out MessagesPage
	err := c.get(ctx, "/chat/"+strconv.FormatInt(chatID, 10)+"/messages", q, &out)
	return out, err
}

// User fetches one user by id.
func (c *Client) User(ctx context.Context, id int64) (User, error) {
	var out User
	err := c.get(ctx, "/user/"+strconv.FormatInt(id, 10), nil, &out)
	return out, err
}

// SearchUsers finds users by partial username.
func (c *Client) SearchUsers(ctx context.Context, prompt string) ([]User, error) {
	var out []User
	if err := c.get(ctx, "/search/"+url.PathEscape(prompt), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.get(ctx, "/me", nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		tok, err := c.Tokens.Token(ctx)
		if err != nil && !errors.Is(err, auth.ErrNoToken) {
			return err
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.Logger.Warn("request unauthorized", zap.String("path", path))
		if c.OnUnauthorized != nil {
			c.OnUnauthorized()
		}
		return fmt.Errorf("GET %s: %w", path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) != nil || e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: e.Message}
}
