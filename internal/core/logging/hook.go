package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies worker_id and task_id from the event context onto the
// log line.
type ContextHook struct{}

// Run implements zerolog.Hook.
func (h ContextHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}

	if workerID := GetWorkerID(ctx); workerID != "" {
		e.Str("worker_id", workerID)
	}

	if taskID := GetTaskID(ctx); taskID != "" {
		e.Str("task_id", taskID)
	}
}
