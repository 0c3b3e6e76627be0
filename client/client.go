// Package client talks to the board API: a REST client, a Server-Sent Events
// reader and a Sync loop that keeps a board.Cache converged with the server.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/shuvam773/kanban/domain"
)

const (
	headerBoardVersion   = "X-Board-Version"
	headerIdempotencyKey = "Idempotency-Key"

	defaultRetries = 3
	defaultBackoff = 200 * time.Millisecond
)

// Client wraps http.Client with helpers for the board API.
type Client struct {
	BaseURL string
	Bearer  string
	BoardID string
	HTTP    *http.Client

	// Retries bounds how often a mutation is resent after a transient
	// failure. Every attempt carries the same idempotency key.
	Retries int
	Backoff time.Duration
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{},
		Retries: defaultRetries,
		Backoff: defaultBackoff,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Temporary reports whether resending the request may succeed.
func (e *APIError) Temporary() bool {
	switch e.Status {
	case http.StatusConflict, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type taskEnvelope struct {
	Message     string         `json:"message"`
	Task        domain.Task    `json:"task"`
	Destination domain.Section `json:"destination"`
}

type deleteSectionEnvelope struct {
	Message string   `json:"message"`
	TaskIDs []string `json:"taskIds"`
}

// User is the caller as the server resolved it from the bearer token.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Anonymous bool   `json:"anonymous"`
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	_, err := c.send(ctx, http.MethodGet, "/api/auth/me", "", nil, &out)
	return out, err
}

// Sections fetches the whole board and the version it is at least as new as.
func (c *Client) Sections(ctx context.Context) ([]domain.BoardSection, int64, error) {
	var out []domain.BoardSection
	resp, err := c.send(ctx, http.MethodGet, "/api/section", "", nil, &out)
	if err != nil {
		return nil, 0, err
	}
	version, _ := strconv.ParseInt(resp.Header.Get(headerBoardVersion), 10, 64)
	return out, version, nil
}

func (c *Client) Tasks(ctx context.Context, sectionID string) ([]domain.Task, error) {
	var out []domain.Task
	_, err := c.send(ctx, http.MethodGet, "/api/task/"+url.PathEscape(sectionID), "", nil, &out)
	return out, err
}

func (c *Client) CreateSection(ctx context.Context, in domain.SectionInput) (domain.Section, error) {
	var out domain.Section
	err := c.mutate(ctx, http.MethodPost, "/api/section", in, &out)
	return out, err
}

func (c *Client) UpdateSection(ctx context.Context, id, name string) (domain.Section, error) {
	var out domain.Section
	err := c.mutate(ctx, http.MethodPut, "/api/section/"+url.PathEscape(id), map[string]string{"name": name}, &out)
	return out, err
}

// DeleteSection deletes a section and returns the ids of the tasks deleted with it.
func (c *Client) DeleteSection(ctx context.Context, id string) ([]string, error) {
	var out deleteSectionEnvelope
	err := c.mutate(ctx, http.MethodDelete, "/api/section/"+url.PathEscape(id), nil, &out)
	return out.TaskIDs, err
}

func (c *Client) CreateTask(ctx context.Context, in domain.TaskInput) (domain.Task, error) {
	var out taskEnvelope
	err := c.mutate(ctx, http.MethodPost, "/api/task", in, &out)
	return out.Task, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	var out taskEnvelope
	err := c.mutate(ctx, http.MethodPut, "/api/task/"+url.PathEscape(id), patch, &out)
	return out.Task, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.mutate(ctx, http.MethodDelete, "/api/task/"+url.PathEscape(id), nil, nil)
}

// MoveTask returns the moved task and the destination section as committed.
func (c *Client) MoveTask(ctx context.Context, in domain.MoveInput) (domain.Task, domain.Section, error) {
	var out taskEnvelope
	err := c.mutate(ctx, http.MethodPatch, "/api/task/move", in, &out)
	return out.Task, out.Destination, err
}

// mutate sends a state-changing request under a fresh idempotency key and
// resends it on transient failures.
func (c *Client) mutate(ctx context.Context, method, path string, body, out any) error {
	key := uuid.NewString()
	backoff := c.Backoff
	var err error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		_, err = c.send(ctx, method, path, key, body, out)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) send(ctx context.Context, method, path, idempotencyKey string, body, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}
	c.authorize(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		if sonic.Unmarshal(data, &msg) == nil {
			apiErr.Message = msg.Message
		}
		return resp, apiErr
	}
	if out != nil {
		if err := sonic.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
}
