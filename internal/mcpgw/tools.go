package mcpgw

import (
	"context"
	"time"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/core/messaging"
	"github.com/colonyops/crew/internal/core/task"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type listTasksInput struct {
	Status   string `json:"status,omitempty" jsonschema:"filter by status (todo, in_progress, blocked, done)"`
	Category string `json:"category,omitempty" jsonschema:"filter by category"`
	File     string `json:"file,omitempty" jsonschema:"glob matched against files involved, e.g. internal/**/*.go"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
}

type nextTaskInput struct {
	Category string `json:"category,omitempty" jsonschema:"only consider tasks in this category"`
	File     string `json:"file,omitempty" jsonschema:"only consider tasks touching files matching this glob"`
}

type claimOutput struct {
	Task        taskOutput `json:"task"`
	HeartbeatAt string     `json:"heartbeat_at"`
}

type heartbeatOutput struct {
	TaskID      string `json:"task_id"`
	HeartbeatAt string `json:"heartbeat_at"`
}

type blockInput struct {
	TaskID string `json:"task_id" jsonschema:"the task identifier"`
	Reason string `json:"reason" jsonschema:"what you need from a human before you can continue"`
}

type completeOutput struct {
	Task      taskOutput   `json:"task"`
	Unblocked []taskOutput `json:"unblocked"`
}

type statusOutput struct {
	Message string `json:"message"`
}

type pendingInput struct {
	TaskID string `json:"task_id,omitempty" jsonschema:"only messages for this task"`
}

type pendingOutput struct {
	Messages []messageOutput `json:"messages"`
	Count    int             `json:"count"`
}

type ackInput struct {
	MessageID string `json:"message_id" jsonschema:"the message to mark as read"`
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks in priority order, optionally filtered by status, category or file glob.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get a task by id.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "claim_task",
		Description: "Claim a todo task whose dependencies are done. Fails if another worker holds it.",
	}, s.handleClaim)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "next_task",
		Description: "Claim the highest priority task that is available right now.",
	}, s.handleNext)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "heartbeat",
		Description: "Renew your lease on a claimed task. Call this regularly while working or the task is reclaimed.",
	}, s.handleHeartbeat)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "block_task",
		Description: "Pause a task you hold and ask a human for input. Keep sending heartbeats while you wait.",
	}, s.handleBlock)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "complete_task",
		Description: "Mark a task you hold as done and release its lease.",
	}, s.handleComplete)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "release_task",
		Description: "Give up your lease on a task without completing it.",
	}, s.handleRelease)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "pending_messages",
		Description: "List messages from humans waiting for you, oldest first.",
	}, s.handlePending)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "ack_message",
		Description: "Mark a message as read so it is not returned again.",
	}, s.handleAck)
}

func (s *Server) handleListTasks(ctx context.Context, _ *gomcp.CallToolRequest, in listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	filter := task.ListFilter{Category: in.Category, File: in.File}
	if in.Status != "" {
		st, err := task.ParseStatus(in.Status)
		if err != nil {
			return errorResult(err.Error()), listTasksOutput{}, nil
		}
		filter.Status = st
	}

	tasks, err := s.coord.ListTasks(ctx, filter)
	if err != nil {
		return failure("listing tasks", err), listTasksOutput{}, nil
	}

	out := listTasksOutput{Tasks: make([]taskOutput, len(tasks)), Count: len(tasks)}
	for i, t := range tasks {
		out.Tasks[i] = toOutput(t)
	}
	return nil, out, nil
}

func (s *Server) handleGetTask(ctx context.Context, _ *gomcp.CallToolRequest, in taskIDInput) (*gomcp.CallToolResult, taskOutput, error) {
	if in.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	t, err := s.coord.GetTask(ctx, in.TaskID)
	if err != nil {
		return failure("getting task "+in.TaskID, err), taskOutput{}, nil
	}
	return nil, toOutput(t), nil
}

func (s *Server) handleClaim(ctx context.Context, _ *gomcp.CallToolRequest, in taskIDInput) (*gomcp.CallToolResult, claimOutput, error) {
	if in.TaskID == "" {
		return errorResult("task_id is required"), claimOutput{}, nil
	}

	res, err := s.coord.Claim(ctx, in.TaskID, s.worker)
	if err != nil {
		return failure("claiming task "+in.TaskID, err), claimOutput{}, nil
	}
	s.log.Info().Str("task", in.TaskID).Msg("claimed via mcp")
	return nil, claimOutput{Task: toOutput(res.Task), HeartbeatAt: res.Lease.HeartbeatAt.Format(time.RFC3339)}, nil
}

func (s *Server) handleNext(ctx context.Context, _ *gomcp.CallToolRequest, in nextTaskInput) (*gomcp.CallToolResult, claimOutput, error) {
	res, err := s.coord.Next(ctx, api.NextRequest{WorkerID: s.worker, Category: in.Category, File: in.File})
	if err != nil {
		return failure("claiming next task", err), claimOutput{}, nil
	}
	s.log.Info().Str("task", res.Task.ID).Msg("claimed via mcp")
	return nil, claimOutput{Task: toOutput(res.Task), HeartbeatAt: res.Lease.HeartbeatAt.Format(time.RFC3339)}, nil
}

func (s *Server) handleHeartbeat(ctx context.Context, _ *gomcp.CallToolRequest, in taskIDInput) (*gomcp.CallToolResult, heartbeatOutput, error) {
	if in.TaskID == "" {
		return errorResult("task_id is required"), heartbeatOutput{}, nil
	}

	l, err := s.coord.Heartbeat(ctx, in.TaskID, s.worker)
	if err != nil {
		return failure("heartbeat for "+in.TaskID, err), heartbeatOutput{}, nil
	}
	return nil, heartbeatOutput{TaskID: in.TaskID, HeartbeatAt: l.HeartbeatAt.Format(time.RFC3339)}, nil
}

func (s *Server) handleBlock(ctx context.Context, _ *gomcp.CallToolRequest, in blockInput) (*gomcp.CallToolResult, taskOutput, error) {
	if in.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}

	t, err := s.coord.Block(ctx, in.TaskID, s.worker, in.Reason)
	if err != nil {
		return failure("blocking task "+in.TaskID, err), taskOutput{}, nil
	}
	return nil, toOutput(t), nil
}

func (s *Server) handleComplete(ctx context.Context, _ *gomcp.CallToolRequest, in taskIDInput) (*gomcp.CallToolResult, completeOutput, error) {
	if in.TaskID == "" {
		return errorResult("task_id is required"), completeOutput{}, nil
	}

	res, err := s.coord.Complete(ctx, in.TaskID, s.worker)
	if err != nil {
		return failure("completing task "+in.TaskID, err), completeOutput{}, nil
	}

	out := completeOutput{Task: toOutput(res.Task), Unblocked: make([]taskOutput, len(res.Unblocked))}
	for i, t := range res.Unblocked {
		out.Unblocked[i] = toOutput(t)
	}
	return nil, out, nil
}

func (s *Server) handleRelease(ctx context.Context, _ *gomcp.CallToolRequest, in taskIDInput) (*gomcp.CallToolResult, statusOutput, error) {
	if in.TaskID == "" {
		return errorResult("task_id is required"), statusOutput{}, nil
	}

	if err := s.coord.Release(ctx, in.TaskID, s.worker); err != nil {
		return failure("releasing task "+in.TaskID, err), statusOutput{}, nil
	}
	return nil, statusOutput{Message: "released " + in.TaskID}, nil
}

func (s *Server) handlePending(ctx context.Context, _ *gomcp.CallToolRequest, in pendingInput) (*gomcp.CallToolResult, pendingOutput, error) {
	msgs, err := s.coord.PendingMessages(ctx, messaging.PendingFilter{
		Recipient: messaging.RecipientWorker,
		TaskID:    in.TaskID,
	})
	if err != nil {
		return failure("listing messages", err), pendingOutput{}, nil
	}

	out := pendingOutput{Messages: make([]messageOutput, len(msgs)), Count: len(msgs)}
	for i, m := range msgs {
		out.Messages[i] = toMessageOutput(m)
	}
	return nil, out, nil
}

func (s *Server) handleAck(ctx context.Context, _ *gomcp.CallToolRequest, in ackInput) (*gomcp.CallToolResult, statusOutput, error) {
	if in.MessageID == "" {
		return errorResult("message_id is required"), statusOutput{}, nil
	}

	if _, err := s.coord.SetMessageStatus(ctx, in.MessageID, messaging.StatusRead, ""); err != nil {
		return failure("acknowledging message", err), statusOutput{}, nil
	}
	return nil, statusOutput{Message: "read " + in.MessageID}, nil
}
