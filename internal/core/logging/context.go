package logging

import "context"

type contextKey string

const (
	workerIDKey contextKey = "worker_id"
	taskIDKey   contextKey = "task_id"
)

// WithWorkerID attaches the acting worker to the context.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// WithTaskID attaches the task being operated on to the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// GetWorkerID returns the worker ID stored in ctx, or "" if none.
func GetWorkerID(ctx context.Context) string {
	if id, ok := ctx.Value(workerIDKey).(string); ok {
		return id
	}
	return ""
}

// GetTaskID returns the task ID stored in ctx, or "" if none.
func GetTaskID(ctx context.Context) string {
	if id, ok := ctx.Value(taskIDKey).(string); ok {
		return id
	}
	return ""
}
