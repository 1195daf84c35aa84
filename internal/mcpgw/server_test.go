package mcpgw

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/colonyops/crew/internal/client"
	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/data/db"
	"github.com/colonyops/crew/internal/data/stores"
	"github.com/colonyops/crew/internal/server"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *coordinator.Service
	session *gomcp.ClientSession
}

func newFixture(t *testing.T, worker string) *fixture {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	svc := coordinator.New(stores.NewRepo(database, stores.RepoOptions{}), nil, coordinator.Options{}, zerolog.Nop())
	srv := httptest.NewServer(server.New(svc, server.Options{}, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)

	gw := New(client.New(srv.URL, 5*time.Second), worker, "test", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverT, clientT := gomcp.NewInMemoryTransports()
	go func() { _ = gw.MCPServer().Run(ctx, serverT) }()

	mc := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := mc.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return &fixture{svc: svc, session: session}
}

func (f *fixture) call(t *testing.T, tool string, args map[string]any, out any) *gomcp.CallToolResult {
	t.Helper()

	res, err := f.session.CallTool(context.Background(), &gomcp.CallToolParams{Name: tool, Arguments: args})
	require.NoError(t, err)

	if out != nil && !res.IsError {
		require.NotNil(t, res.StructuredContent)
		data, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, out))
	}
	return res
}

func text(res *gomcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestTools_ListTools(t *testing.T) {
	f := newFixture(t, "agent-1")

	res, err := f.session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"list_tasks", "get_task", "claim_task", "next_task", "heartbeat",
		"block_task", "complete_task", "release_task", "pending_messages", "ack_message",
	}, names)
}

func TestTools_WorkerLoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "agent-1")

	_, err := f.svc.CreateTask(ctx, task.Task{ID: "a", Title: "write docs", Priority: task.PriorityHigh})
	require.NoError(t, err)
	_, err = f.svc.CreateTask(ctx, task.Task{ID: "b", Title: "ship", Dependencies: []string{"a"}})
	require.NoError(t, err)

	var listed listTasksOutput
	f.call(t, "list_tasks", map[string]any{"status": "todo"}, &listed)
	assert.Equal(t, 2, listed.Count)

	var claimed claimOutput
	res := f.call(t, "next_task", map[string]any{}, &claimed)
	require.False(t, res.IsError, text(res))
	assert.Equal(t, "a", claimed.Task.ID)
	assert.Equal(t, "agent-1", claimed.Task.ClaimedBy)

	res = f.call(t, "claim_task", map[string]any{"task_id": "b"}, nil)
	require.True(t, res.IsError)
	assert.Contains(t, text(res), "waiting on a")

	var hb heartbeatOutput
	res = f.call(t, "heartbeat", map[string]any{"task_id": "a"}, &hb)
	require.False(t, res.IsError, text(res))
	assert.Equal(t, "a", hb.TaskID)

	var blocked taskOutput
	res = f.call(t, "block_task", map[string]any{"task_id": "a", "reason": "which style guide?"}, &blocked)
	require.False(t, res.IsError, text(res))
	assert.Equal(t, "blocked", blocked.Status)

	_, err = f.svc.Approve(ctx, "a", coordinator.ApproveOptions{Response: "use the house style"})
	require.NoError(t, err)

	var pending pendingOutput
	f.call(t, "pending_messages", map[string]any{"task_id": "a"}, &pending)
	require.Equal(t, 1, pending.Count)
	assert.Equal(t, "use the house style", pending.Messages[0].Content)

	res = f.call(t, "ack_message", map[string]any{"message_id": pending.Messages[0].ID}, nil)
	require.False(t, res.IsError, text(res))

	f.call(t, "pending_messages", map[string]any{}, &pending)
	assert.Equal(t, 0, pending.Count)

	var done completeOutput
	res = f.call(t, "complete_task", map[string]any{"task_id": "a"}, &done)
	require.False(t, res.IsError, text(res))
	assert.Equal(t, "done", done.Task.Status)
	require.Len(t, done.Unblocked, 1)
	assert.Equal(t, "b", done.Unblocked[0].ID)

	res = f.call(t, "claim_task", map[string]any{"task_id": "b"}, nil)
	require.False(t, res.IsError, text(res))
	res = f.call(t, "release_task", map[string]any{"task_id": "b"}, nil)
	require.False(t, res.IsError, text(res))
}

func TestTools_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "agent-2")

	_, err := f.svc.CreateTask(ctx, task.Task{ID: "a", Title: "taken"})
	require.NoError(t, err)
	_, _, err = f.svc.Claim(ctx, "a", "someone-else")
	require.NoError(t, err)

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"held by another", "claim_task", map[string]any{"task_id": "a"}, "held by someone-else"},
		{"not owner", "heartbeat", map[string]any{"task_id": "a"}, "no longer hold"},
		{"none available", "next_task", map[string]any{}, "no task is available"},
		{"empty id", "get_task", map[string]any{"task_id": ""}, "task_id is required"},
		{"unknown task", "get_task", map[string]any{"task_id": "zzz"}, "not found"},
		{"bad status", "list_tasks", map[string]any{"status": "later"}, "unknown status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.call(t, tt.tool, tt.args, nil)
			require.True(t, res.IsError)
			assert.Contains(t, text(res), tt.want)
		})
	}

	t.Run("missing id fails input validation", func(t *testing.T) {
		_, err := f.session.CallTool(ctx, &gomcp.CallToolParams{Name: "get_task", Arguments: map[string]any{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "task_id")
	})
}
