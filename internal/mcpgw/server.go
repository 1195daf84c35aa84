// Package mcpgw exposes the coordinator to coding agents as MCP tools over
// stdio. Every tool acts as the worker the gateway was started for.
package mcpgw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// Coordinator is the subset of the coordinator client the tools call.
type Coordinator interface {
	ListTasks(ctx context.Context, filter task.ListFilter) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (task.Task, error)
	Claim(ctx context.Context, taskID, workerID string) (api.ClaimResponse, error)
	Next(ctx context.Context, req api.NextRequest) (api.ClaimResponse, error)
	Heartbeat(ctx context.Context, taskID, workerID string) (lease.Lease, error)
	Block(ctx context.Context, taskID, workerID, reason string) (task.Task, error)
	Complete(ctx context.Context, taskID, workerID string) (api.CompleteResponse, error)
	Release(ctx context.Context, taskID, workerID string) error
	PendingMessages(ctx context.Context, filter messaging.PendingFilter) ([]messaging.Message, error)
	SetMessageStatus(ctx context.Context, id string, status messaging.Status, response string) (api.MessageStatusResponse, error)
}

// Server wraps the MCP server and the worker identity it acts for.
type Server struct {
	server *gomcp.Server
	coord  Coordinator
	worker string
	log    zerolog.Logger
}

// New creates a gateway acting as workerID.
func New(coord Coordinator, workerID, version string, log zerolog.Logger) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{coord: coord, worker: workerID, log: log}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "crew", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves MCP over stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying server for tests and custom transports.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// WorkerID returns the identity tools act as.
func (s *Server) WorkerID() string {
	return s.worker
}

type taskOutput struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Category      string   `json:"category,omitempty"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	Effort        string   `json:"estimated_effort,omitempty"`
	Dependencies  []string `json:"dependencies,omitempty"`
	Files         []string `json:"files_involved,omitempty"`
	ClaimedBy     string   `json:"claimed_by,omitempty"`
	ClaimedAt     string   `json:"claimed_at,omitempty"`
	BlockedReason string   `json:"blocked_reason,omitempty"`
}

func toOutput(t task.Task) taskOutput {
	out := taskOutput{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Category:      t.Category,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		Effort:        string(t.EstimatedEffort),
		Dependencies:  t.Dependencies,
		Files:         t.FilesInvolved,
		ClaimedBy:     t.ClaimedBy,
		BlockedReason: t.BlockedReason,
	}
	if t.ClaimedAt != nil {
		out.ClaimedAt = t.ClaimedAt.Format(time.RFC3339)
	}
	return out
}

type messageOutput struct {
	ID         string `json:"id"`
	SessionKey string `json:"session_key"`
	TaskID     string `json:"task_id,omitempty"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

func toMessageOutput(m messaging.Message) messageOutput {
	return messageOutput{
		ID:         m.ID,
		SessionKey: m.SessionKey,
		TaskID:     m.TaskID,
		Sender:     string(m.Sender),
		Content:    m.Content,
		Status:     string(m.Status),
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// failure renders a coordinator error into a tool error the agent can act on.
func failure(action string, err error) *gomcp.CallToolResult {
	var (
		claimed *task.AlreadyClaimedError
		deps    *task.DependencyNotSatisfiedError
	)
	switch {
	case errors.As(err, &claimed):
		return errorResult(fmt.Sprintf("%s: task %s is held by %s; pick another task", action, claimed.TaskID, claimed.Holder))
	case errors.As(err, &deps):
		return errorResult(fmt.Sprintf("%s: task %s is waiting on %s", action, deps.TaskID, strings.Join(deps.Pending, ", ")))
	case errors.Is(err, task.ErrNotOwner):
		return errorResult(fmt.Sprintf("%s: you no longer hold this task; its lease may have expired", action))
	case errors.Is(err, task.ErrNoneAvailable):
		return errorResult(fmt.Sprintf("%s: no task is available right now", action))
	}
	return errorResult(fmt.Sprintf("%s: %s", action, err))
}
