// Package api is the HTTP client for the widget backend's request/response
// surface: visitor bootstrap, sessions, history pages and the non-streaming
// send fallback.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chatlift/widget-core/internal/model"
	"github.com/chatlift/widget-core/pkg/logger"
)

// ErrUnauthorized indicates the visitor token was rejected. The session
// layer treats this as a forced conversation close.
var ErrUnauthorized = errors.New("visitor token rejected")

// APIError carries a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client talks to the widget backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logger.Logger

	mu        sync.RWMutex
	visitorID string
	token     string
}

// NewClient creates an API client for the given base URL and widget API key.
func NewClient(baseURL, apiKey string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  log,
	}
}

// VisitorID returns the bootstrapped visitor id, empty before bootstrap.
func (c *Client) VisitorID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visitorID
}

// Token returns the current visitor token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetIdentity installs a previously stored visitor identity.
func (c *Client) SetIdentity(visitorID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visitorID = visitorID
	c.token = token
}

// Bootstrap ensures a valid visitor identity: an existing token is
// validated, otherwise a new visitor is created.
func (c *Client) Bootstrap(ctx context.Context) error {
	if c.Token() != "" {
		err := c.ValidateVisitor(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnauthorized) {
			return err
		}
		c.logger.Warn("stored visitor token rejected, creating a new visitor")
	}

	resp, err := c.CreateVisitor(ctx)
	if err != nil {
		return err
	}
	c.SetIdentity(resp.VisitorID, resp.Token)
	return nil
}

// CreateVisitor registers a new visitor with the backend.
func (c *Client) CreateVisitor(ctx context.Context) (*model.CreateVisitorResponse, error) {
	var resp model.CreateVisitorResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/visitors", nil, &resp); err != nil {
		return nil, fmt.Errorf("create visitor: %w", err)
	}
	return &resp, nil
}

// ValidateVisitor checks the current visitor token.
func (c *Client) ValidateVisitor(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/api/v1/visitors/me", nil, nil); err != nil {
		return fmt.Errorf("validate visitor: %w", err)
	}
	return nil
}

// CreateSession creates a canonical conversation for this visitor.
func (c *Client) CreateSession(ctx context.Context) (*model.CreateSessionResponse, error) {
	req := model.CreateSessionRequest{VisitorID: c.VisitorID()}
	var resp model.CreateSessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions", req, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &resp, nil
}

// ListSessions returns a page of the visitor's conversations.
func (c *Client) ListSessions(ctx context.Context, limit, offset int) (*model.ListSessionsResponse, error) {
	path := "/api/v1/sessions?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	var resp model.ListSessionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return &resp, nil
}

// FetchHistory returns a page of persisted messages for a conversation.
func (c *Client) FetchHistory(ctx context.Context, sessionID string, limit, offset int) (*model.HistoryResponse, error) {
	path := "/api/v1/sessions/" + sessionID + "/messages?limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
	var resp model.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return &resp, nil
}

// SendMessage is the non-streaming fallback send.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) (*model.SendMessageResponse, error) {
	req := model.SendMessageRequest{
		Message:   message,
		SessionID: sessionID,
		VisitorID: c.VisitorID(),
	}
	var resp model.SendMessageResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages", req, &resp); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &resp, nil
}

// DeleteSession deletes a conversation wholesale.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+sessionID, nil, nil); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// WidgetConfig fetches the presentation configuration.
func (c *Client) WidgetConfig(ctx context.Context) (*model.WidgetConfig, error) {
	var resp model.WidgetConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/widget/config", nil, &resp); err != nil {
		return nil, fmt.Errorf("widget config: %w", err)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
