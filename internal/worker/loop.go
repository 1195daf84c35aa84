// Package worker runs an agent command against a claimed task: it keeps the
// lease alive while the command runs and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/core/lease"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/pkg/executil"
	"github.com/rs/zerolog"
)

// ErrLeaseLost is returned when heartbeats start failing because another
// worker or the sweep took the task.
var ErrLeaseLost = errors.New("lease lost while running")

// Coordinator is the part of the coordinator client the loop uses.
type Coordinator interface {
	Claim(ctx context.Context, taskID, workerID string) (api.ClaimResponse, error)
	Next(ctx context.Context, req api.NextRequest) (api.ClaimResponse, error)
	Heartbeat(ctx context.Context, taskID, workerID string) (lease.Lease, error)
	Block(ctx context.Context, taskID, workerID, reason string) (task.Task, error)
	Complete(ctx context.Context, taskID, workerID string) (api.CompleteResponse, error)
}

// Loop ties a worker identity to a command runner.
type Loop struct {
	coord     Coordinator
	runner    executil.Runner
	workerID  string
	heartbeat time.Duration
	log       zerolog.Logger
}

// New creates a loop that heartbeats every interval.
func New(coord Coordinator, runner executil.Runner, workerID string, interval time.Duration, log zerolog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Loop{coord: coord, runner: runner, workerID: workerID, heartbeat: interval, log: log}
}

// RunOptions selects the task and the command.
type RunOptions struct {
	// TaskID claims a specific task. When empty the next available task
	// matching Category and File is claimed.
	TaskID   string
	Category string
	File     string

	Command executil.Command
	Stdout  io.Writer
	Stderr  io.Writer
}

// Outcome reports what happened to the task.
type Outcome struct {
	Task      task.Task
	Result    executil.Result
	Completed bool
	Unblocked []task.Task
}

// Run claims a task, runs the command with CREW_* variables set, then
// completes the task on exit 0 or blocks it with the last output line.
func (l *Loop) Run(ctx context.Context, opts RunOptions) (Outcome, error) {
	claimed, err := l.claim(ctx, opts)
	if err != nil {
		return Outcome{}, err
	}
	t := claimed.Task
	log := l.log.With().Str("task", t.ID).Logger()
	log.Info().Str("cmd", opts.Command.String()).Msg("claimed task, starting command")

	cmd := opts.Command
	cmd.Env = append(append([]string(nil), cmd.Env...),
		"CREW_TASK_ID="+t.ID,
		"CREW_TASK_TITLE="+t.Title,
		"CREW_WORKER_ID="+l.workerID,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		lostErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		lostErr = l.keepAlive(runCtx, t.ID, cancel)
	}()

	res, runErr := l.runner.Run(runCtx, cmd, opts.Stdout, opts.Stderr)
	cancel()
	wg.Wait()

	out := Outcome{Task: t, Result: res}
	if lostErr != nil {
		return out, lostErr
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	// Fresh context: the run context is already cancelled.
	finishCtx := context.WithoutCancel(ctx)

	if runErr == nil && res.ExitCode == 0 {
		done, err := l.coord.Complete(finishCtx, t.ID, l.workerID)
		if err != nil {
			return out, fmt.Errorf("complete %s: %w", t.ID, err)
		}
		out.Task = done.Task
		out.Completed = true
		out.Unblocked = done.Unblocked
		log.Info().Int("unblocked", len(done.Unblocked)).Msg("task completed")
		return out, nil
	}

	reason := blockReason(res, runErr)
	blocked, err := l.coord.Block(finishCtx, t.ID, l.workerID, reason)
	if err != nil {
		return out, fmt.Errorf("block %s: %w", t.ID, err)
	}
	out.Task = blocked
	log.Warn().Int("exit", res.ExitCode).Str("reason", reason).Msg("task blocked")
	return out, nil
}

func (l *Loop) claim(ctx context.Context, opts RunOptions) (api.ClaimResponse, error) {
	if opts.TaskID != "" {
		return l.coord.Claim(ctx, opts.TaskID, l.workerID)
	}
	return l.coord.Next(ctx, api.NextRequest{WorkerID: l.workerID, Category: opts.Category, File: opts.File})
}

// keepAlive heartbeats until ctx ends. Losing ownership stops the command.
func (l *Loop) keepAlive(ctx context.Context, taskID string, stop context.CancelFunc) error {
	ticker := time.NewTicker(l.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, err := l.coord.Heartbeat(ctx, taskID, l.workerID)
			switch {
			case err == nil:
			case errors.Is(err, task.ErrNotOwner) || errors.Is(err, task.ErrNotFound):
				l.log.Error().Err(err).Str("task", taskID).Msg("lease lost, stopping command")
				stop()
				return fmt.Errorf("%w: %w", ErrLeaseLost, err)
			case ctx.Err() != nil:
				return nil
			default:
				l.log.Warn().Err(err).Str("task", taskID).Msg("heartbeat failed")
			}
		}
	}
}

func blockReason(res executil.Result, err error) string {
	if res.LastLine != "" {
		return fmt.Sprintf("command exited with code %d: %s", res.ExitCode, res.LastLine)
	}
	if err != nil {
		return fmt.Sprintf("command failed: %v", err)
	}
	return fmt.Sprintf("command exited with code %d", res.ExitCode)
}
