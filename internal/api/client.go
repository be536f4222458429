// Package api is the HTTP client for the remote forum service. The wire
// contract is fixed; nothing here invents endpoints or fields.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/parleychat/parley/internal/model"
)

// APIError is a server-reported failure: a non-2xx status with a JSON error
// body. The message is surfaced to the user verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client rooted at baseURL. The http.Client timeout bounds
// every request; the push channel does not go through here.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// do issues one request and decodes the response into out when out is
// non-nil. Non-2xx responses become an *APIError carrying the server's
// error text.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("internal/api: encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("internal/api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("internal/api: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		// A malformed error body still yields a usable APIError.
		_ = json.NewDecoder(res.Body).Decode(&errBody)
		return &APIError{Status: res.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("internal/api: decode %s %s response: %w", method, path, err)
	}

	return nil
}

// CreateSession registers a new participant identity.
func (c *Client) CreateSession(ctx context.Context, displayName, aboutMe string, interests []string) (model.User, error) {
	body := map[string]any{
		"displayName": displayName,
		"aboutMe":     aboutMe,
		"interests":   interests,
	}
	var user model.User
	err := c.do(ctx, http.MethodPost, "/api/auth", nil, body, &user)
	return user, err
}

// FetchSession restores the profile for a persisted identity.
func (c *Client) FetchSession(ctx context.Context, userID string) (model.User, error) {
	q := url.Values{"userId": {userID}}
	var user model.User
	err := c.do(ctx, http.MethodGet, "/api/auth", q, nil, &user)
	return user, err
}

// DestroySession signs the participant out server-side.
func (c *Client) DestroySession(ctx context.Context, userID string) error {
	q := url.Values{"userId": {userID}}
	return c.do(ctx, http.MethodDelete, "/api/auth", q, nil, nil)
}

// ListForums returns the forum directory, optionally filtered by topic or
// sorted by trending.
func (c *Client) ListForums(ctx context.Context, topic string, trending bool) ([]model.Forum, error) {
	q := url.Values{}
	if topic != "" {
		q.Set("topic", topic)
	}
	if trending {
		q.Set("trending", "true")
	}
	var forums []model.Forum
	err := c.do(ctx, http.MethodGet, "/api/forums", q, nil, &forums)
	return forums, err
}

func (c *Client) CreateForum(ctx context.Context, title, topic, hostID string) (model.Forum, error) {
	body := map[string]string{"title": title, "topic": topic, "hostId": hostID}
	var forum model.Forum
	err := c.do(ctx, http.MethodPost, "/api/forums", nil, body, &forum)
	return forum, err
}

func (c *Client) JoinForum(ctx context.Context, forumID, userID string) (model.Forum, error) {
	body := map[string]string{"userId": userID}
	var forum model.Forum
	err := c.do(ctx, http.MethodPost, "/api/forums/"+forumID+"/join", nil, body, &forum)
	return forum, err
}

func (c *Client) LeaveForum(ctx context.Context, forumID, userID string) error {
	body := map[string]string{"userId": userID}
	return c.do(ctx, http.MethodPost, "/api/forums/"+forumID+"/leave", nil, body, nil)
}

// ListMessages loads the full history for a forum. The service has shipped
// both `{"messages": [...]}` and a bare array over time; accept either.
func (c *Client) ListMessages(ctx context.Context, forumID string) ([]model.Message, error) {
	q := url.Values{"forumId": {forumID}}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/messages", q, nil, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Messages, nil
	}

	var bare []model.Message
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("internal/api: decode message list: %w", err)
	}
	return bare, nil
}

func (c *Client) SendMessage(ctx context.Context, forumID, userID, text string) (model.Message, error) {
	body := map[string]string{"forumId": forumID, "userId": userID, "text": text}
	var msg model.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", nil, body, &msg)
	return msg, err
}

func (c *Client) EditMessage(ctx context.Context, messageID, userID, text string) (model.Message, error) {
	body := map[string]string{"messageId": messageID, "userId": userID, "text": text}
	var msg model.Message
	err := c.do(ctx, http.MethodPut, "/api/messages", nil, body, &msg)
	return msg, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID, userID string) error {
	body := map[string]string{"messageId": messageID, "userId": userID}
	return c.do(ctx, http.MethodDelete, "/api/messages", nil, body, nil)
}

func (c *Client) StartTyping(ctx context.Context, forumID, userID string) error {
	body := map[string]string{"forumId": forumID, "userId": userID}
	return c.do(ctx, http.MethodPost, "/api/messages/typing", nil, body, nil)
}

func (c *Client) StopTyping(ctx context.Context, forumID, userID string) error {
	body := map[string]string{"forumId": forumID, "userId": userID}
	return c.do(ctx, http.MethodDelete, "/api/messages/typing", nil, body, nil)
}
