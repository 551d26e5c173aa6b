// Package client is a Go client for the sessions REST API, plus an Editor
// that auto-saves drafts through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"wellness-sessions/internal/model"
)

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx reply decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api error %d: %s (%s)", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type User struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// SaveRequest is the body of save-draft and publish. An empty ID creates a
// new session.
type SaveRequest struct {
	ID string `json:"_id,omitempty"`
	model.SessionContent
}

// ListedSession is a public listing entry with its author.
type ListedSession struct {
	model.Session
	LikeCount int           `json:"likeCount"`
	Author    *model.Author `json:"author"`
}

type ListPage struct {
	Sessions   []ListedSession  `json:"sessions"`
	Pagination model.Pagination `json:"pagination"`
}

type ListOptions struct {
	Page     int
	Limit    int
	Category string
	Tags     []string
	Search   string
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Register creates an account and keeps the returned token for later calls.
func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	var out AuthResult
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &out); err != nil {
		return nil, err
	}
	c.SetToken(out.Token)
	return &out, nil
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) ListPublished(ctx context.Context, opts ListOptions) (*ListPage, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Category != "" {
		q.Set("category", opts.Category)
	}
	if len(opts.Tags) > 0 {
		q.Set("tags", strings.Join(opts.Tags, ","))
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}

	var out ListPage
	if err := c.do(ctx, http.MethodGet, "/api/sessions", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMine(ctx context.Context, status string) ([]model.Session, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var out struct {
		Sessions []model.Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/my-sessions", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) Get(ctx context.Context, id string) (*model.Session, error) {
	var out struct {
		Session *model.Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions/my-sessions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Session, nil
}

func (c *Client) SaveDraft(ctx context.Context, req SaveRequest) (*model.Session, error) {
	return c.save(ctx, "/api/sessions/my-sessions/save-draft", req)
}

func (c *Client) Publish(ctx context.Context, req SaveRequest) (*model.Session, error) {
	return c.save(ctx, "/api/sessions/my-sessions/publish", req)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/my-sessions/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) save(ctx context.Context, path string, req SaveRequest) (*model.Session, error) {
	var out struct {
		Session *model.Session `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, req, &out); err != nil {
		return nil, err
	}
	if out.Session == nil {
		return nil, errors.New("save response has no session")
	}
	return out.Session, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response failed: %w", err)
		}
	}
	if resp.StatusCode >= 300 || (len(raw) > 0 && !env.Success) {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    msg,
			Detail:     env.Error,
		}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}
