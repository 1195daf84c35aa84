// Package client is a typed HTTP client for the coordinator API. Error
// responses are decoded back into the coordinator's error types so callers
// can branch with errors.Is and errors.As.
package client

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

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
)

// Client talks to a coordinator at a base URL.
type Client struct {
	base string
	http *http.Client
}

// New creates a client. A zero timeout leaves requests unbounded.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the coordinator address.
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr api.Error
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
		}
		return apiErr.Err(resp.StatusCode)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func taskPath(id string, action ...string) string {
	p := "/tasks/" + url.PathEscape(id)
	for _, a := range action {
		p += "/" + a
	}
	return p
}

// Health pings the coordinator.
func (c *Client) Health(ctx context.Context) (api.Health, error) {
	var h api.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Client) ListTasks(ctx context.Context, filter task.ListFilter) ([]task.Task, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.File != "" {
		q.Set("file", filter.File)
	}

	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []task.Task
	err := c.do(ctx, http.MethodGet, path, nil, &tasks)
	return tasks, err
}

func (c *Client) GetTask(ctx context.Context, id string) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodGet, taskPath(id), nil, &t)
	return t, err
}

func (c *Client) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	var created task.Task
	err := c.do(ctx, http.MethodPost, "/tasks", t, &created)
	return created, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, p task.Patch) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPatch, taskPath(id), p, &t)
	return t, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// Claim takes the lease on a task for workerID.
func (c *Client) Claim(ctx context.Context, taskID, workerID string) (api.ClaimResponse, error) {
	var out api.ClaimResponse
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "claim"), api.WorkerRequest{WorkerID: workerID}, &out)
	return out, err
}

// Next claims the highest priority available task.
func (c *Client) Next(ctx context.Context, req api.NextRequest) (api.ClaimResponse, error) {
	var out api.ClaimResponse
	err := c.do(ctx, http.MethodPost, "/tasks/next", req, &out)
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, taskID, workerID string) (lease.Lease, error) {
	var l lease.Lease
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "heartbeat"), api.WorkerRequest{WorkerID: workerID}, &l)
	return l, err
}

func (c *Client) Release(ctx context.Context, taskID, workerID string) error {
	return c.do(ctx, http.MethodPost, taskPath(taskID, "release"), api.WorkerRequest{WorkerID: workerID}, nil)
}

func (c *Client) Block(ctx context.Context, taskID, workerID, reason string) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "block"), api.BlockRequest{WorkerID: workerID, Reason: reason}, &t)
	return t, err
}

func (c *Client) Approve(ctx context.Context, taskID string, req api.ApproveRequest) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "approve"), req, &t)
	return t, err
}

func (c *Client) Complete(ctx context.Context, taskID, workerID string) (api.CompleteResponse, error) {
	var out api.CompleteResponse
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "complete"), api.WorkerRequest{WorkerID: workerID}, &out)
	return out, err
}

func (c *Client) Reset(ctx context.Context, taskID string, force bool) (task.Task, error) {
	var t task.Task
	err := c.do(ctx, http.MethodPost, taskPath(taskID, "reset"), api.ResetRequest{Force: force}, &t)
	return t, err
}

func (c *Client) Queue(ctx context.Context) (coordinator.Queue, error) {
	var q coordinator.Queue
	err := c.do(ctx, http.MethodGet, "/queue", nil, &q)
	return q, err
}

func (c *Client) Workers(ctx context.Context) ([]coordinator.WorkerSession, error) {
	var out []coordinator.WorkerSession
	err := c.do(ctx, http.MethodGet, "/workers", nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (coordinator.Stats, error) {
	var out coordinator.Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, limit int) ([]task.Task, error) {
	path := "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []task.Task
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Messages lists a session's history. An empty session lists everything.
func (c *Client) Messages(ctx context.Context, sessionKey string, limit int) ([]messaging.Message, error) {
	q := url.Values{}
	if sessionKey != "" {
		q.Set("session", sessionKey)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []messaging.Message
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) PendingMessages(ctx context.Context, filter messaging.PendingFilter) ([]messaging.Message, error) {
	q := url.Values{}
	if filter.Recipient != "" {
		q.Set("recipient", string(filter.Recipient))
	}
	if filter.SessionKey != "" {
		q.Set("session", filter.SessionKey)
	}
	if filter.TaskID != "" {
		q.Set("task", filter.TaskID)
	}

	path := "/messages/pending"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []messaging.Message
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) GetMessage(ctx context.Context, id string) (messaging.Message, error) {
	var m messaging.Message
	err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, &m)
	return m, err
}

func (c *Client) Publish(ctx context.Context, req api.PublishRequest) (messaging.Message, error) {
	var m messaging.Message
	err := c.do(ctx, http.MethodPost, "/messages", req, &m)
	return m, err
}

// SetMessageStatus advances a message. A response is only recorded when
// moving to delivered.
func (c *Client) SetMessageStatus(ctx context.Context, id string, status messaging.Status, response string) (api.MessageStatusResponse, error) {
	var out api.MessageStatusResponse
	err := c.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(id), api.MessageStatusRequest{
		Status:          status,
		ResponseContent: response,
	}, &out)
	return out, err
}
