package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/api"
	"github.com/colonyops/crew/internal/core/logging"
	"github.com/colonyops/crew/internal/worker"
	"github.com/colonyops/crew/pkg/executil"
)

type WorkerCmd struct {
	flags *Flags

	workerID   string
	reason     string
	category   string
	fileGlob   string
	taskID     string
	next       bool
	interval   time.Duration
	jsonOutput bool
}

// NewWorkerCmd creates a new worker command.
func NewWorkerCmd(flags *Flags) *WorkerCmd {
	return &WorkerCmd{flags: flags}
}

// Register adds the worker command to the application.
func (cmd *WorkerCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "worker",
		Usage: "Claim and work on tasks as an agent",
		Description: `Worker commands act on behalf of one worker identity, taken from --worker,
then worker.id in the config, then the hostname.

A claimed task must be kept alive with 'crew worker heartbeat' or it is
reclaimed by the coordinator's stale sweep. 'crew worker run' does this for
you while it runs a command.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "worker",
				Aliases:     []string{"w"},
				Usage:       "worker id",
				Sources:     cli.EnvVars("CREW_WORKER_ID"),
				Destination: &cmd.workerID,
			},
		},
		Commands: []*cli.Command{
			cmd.claimCmd(),
			cmd.nextCmd(),
			cmd.simpleCmd("heartbeat", "Refresh the lease on a claimed task", cmd.runHeartbeat),
			cmd.simpleCmd("release", "Give a claimed task back to the queue", cmd.runRelease),
			cmd.blockCmd(),
			cmd.simpleCmd("complete", "Mark a claimed task done", cmd.runComplete),
			cmd.lsCmd(),
			cmd.runCmd(),
		},
	})

	return app
}

func (cmd *WorkerCmd) id() (string, error) {
	return cmd.flags.WorkerID(cmd.workerID)
}

func (cmd *WorkerCmd) jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "output as JSON", Destination: &cmd.jsonOutput}
}

func (cmd *WorkerCmd) simpleCmd(name, usage string, action func(ctx context.Context, c *cli.Command, taskID, workerID string) error) *cli.Command {
	return &cli.Command{
		Name:          name,
		Usage:         usage,
		UsageText:     "crew worker " + name + " <task-id>",
		ShellComplete: TaskIDCompleter(cmd.flags),
		Flags:         []cli.Flag{cmd.jsonFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			taskID, err := taskArg(c)
			if err != nil {
				return err
			}
			workerID, err := cmd.id()
			if err != nil {
				return err
			}
			return action(logging.WithWorkerID(ctx, workerID), c, taskID, workerID)
		},
	}
}

func (cmd *WorkerCmd) claimCmd() *cli.Command {
	c := cmd.simpleCmd("claim", "Claim a task", cmd.runClaim)
	c.Description = `Claims a todo task whose dependencies are all done and starts a lease.

Fails when another worker holds a live lease, or with the ids of the
dependencies that are not done yet.`
	return c
}

func (cmd *WorkerCmd) runClaim(ctx context.Context, c *cli.Command, taskID, workerID string) error {
	res, err := cmd.flags.Client().Claim(ctx, taskID, workerID)
	if err != nil {
		return err
	}
	return cmd.printClaim(c, res)
}

func (cmd *WorkerCmd) nextCmd() *cli.Command {
	return &cli.Command{
		Name:      "next",
		Usage:     "Claim the highest priority available task",
		UsageText: "crew worker next [--category C] [--file GLOB]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Usage: "only this category", Destination: &cmd.category},
			&cli.StringFlag{Name: "file", Usage: "only tasks touching files matching this glob", Destination: &cmd.fileGlob},
			cmd.jsonFlag(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			workerID, err := cmd.id()
			if err != nil {
				return err
			}
			res, err := cmd.flags.Client().Next(ctx, api.NextRequest{
				WorkerID: workerID,
				Category: cmd.category,
				File:     cmd.fileGlob,
			})
			if err != nil {
				return err
			}
			return cmd.printClaim(c, res)
		},
	}
}

func (cmd *WorkerCmd) printClaim(c *cli.Command, res api.ClaimResponse) error {
	w := c.Root().Writer
	if cmd.jsonOutput {
		return writeJSON(w, res)
	}
	_, err := fmt.Fprintf(w, "claimed %s %q\n", res.Task.ID, res.Task.Title)
	return err
}

func (cmd *WorkerCmd) runHeartbeat(ctx context.Context, c *cli.Command, taskID, workerID string) error {
	l, err := cmd.flags.Client().Heartbeat(ctx, taskID, workerID)
	if err != nil {
		return err
	}
	if cmd.jsonOutput {
		return writeJSON(c.Root().Writer, l)
	}
	_, err = fmt.Fprintf(c.Root().Writer, "lease on %s refreshed\n", taskID)
	return err
}

// runRelease drops the lease and then resets the task so it is claimable
// again right away instead of after the stale sweep.
func (cmd *WorkerCmd) runRelease(ctx context.Context, c *cli.Command, taskID, workerID string) error {
	cl := cmd.flags.Client()
	if err := cl.Release(ctx, taskID, workerID); err != nil {
		return err
	}
	t, err := cl.Reset(ctx, taskID, false)
	if err != nil {
		return fmt.Errorf("released %s but could not return it to the queue: %w", taskID, err)
	}
	_, err = fmt.Fprintf(c.Root().Writer, "released %s (%s)\n", taskID, t.Status)
	return err
}

func (cmd *WorkerCmd) blockCmd() *cli.Command {
	return &cli.Command{
		Name:      "block",
		Usage:     "Stop on a task until a human approves it",
		UsageText: "crew worker block <task-id> --reason TEXT",
		Description: `Blocks a claimed task and sends the reason to the humans watching the task's
session. The worker keeps its claim; after approval the task is back in
progress for the same worker.`,
		ShellComplete: TaskIDCompleter(cmd.flags),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "what is needed to continue", Required: true, Destination: &cmd.reason},
			cmd.jsonFlag(),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			taskID, err := taskArg(c)
			if err != nil {
				return err
			}
			workerID, err := cmd.id()
			if err != nil {
				return err
			}
			t, err := cmd.flags.Client().Block(ctx, taskID, workerID, cmd.reason)
			if err != nil {
				return err
			}
			if cmd.jsonOutput {
				return writeJSON(c.Root().Writer, t)
			}
			_, err = fmt.Fprintf(c.Root().Writer, "blocked %s: %s\n", t.ID, t.BlockedReason)
			return err
		},
	}
}

func (cmd *WorkerCmd) runComplete(ctx context.Context, c *cli.Command, taskID, workerID string) error {
	res, err := cmd.flags.Client().Complete(ctx, taskID, workerID)
	if err != nil {
		return err
	}

	w := c.Root().Writer
	if cmd.jsonOutput {
		return writeJSON(w, res)
	}
	_, _ = fmt.Fprintf(w, "completed %s\n", res.Task.ID)
	for _, t := range res.Unblocked {
		_, _ = fmt.Fprintf(w, "  now available: %s %q\n", t.ID, t.Title)
	}
	return nil
}

func (cmd *WorkerCmd) lsCmd() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List active worker sessions",
		UsageText: "crew worker ls [--json]",
		Flags:     []cli.Flag{cmd.jsonFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			workers, err := cmd.flags.Client().Workers(ctx)
			if err != nil {
				return err
			}
			if cmd.jsonOutput {
				return writeJSON(c.Root().Writer, workers)
			}
			return printWorkers(c.Root().Writer, workers)
		},
	}
}

func (cmd *WorkerCmd) runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Claim a task and run a command for it",
		UsageText: "crew worker run (--task ID | --next) [--heartbeat 1m] -- command [args...]",
		Description: `Claims a task, then runs the command with CREW_TASK_ID, CREW_TASK_TITLE and
CREW_WORKER_ID set, heartbeating the lease while it runs.

Exit code 0 completes the task. Any other exit blocks it with the last line
the command printed as the reason. If the lease is lost while the command
runs, the command is stopped.

Examples:
  crew worker run --next -- claude -p "work on $CREW_TASK_ID"
  crew worker run --task api-auth --heartbeat 30s -- ./scripts/agent.sh`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Usage: "claim this task", Destination: &cmd.taskID},
			&cli.BoolFlag{Name: "next", Usage: "claim the next available task", Destination: &cmd.next},
			&cli.StringFlag{Name: "category", Usage: "with --next, only this category", Destination: &cmd.category},
			&cli.StringFlag{Name: "file", Usage: "with --next, only tasks touching files matching this glob", Destination: &cmd.fileGlob},
			&cli.DurationFlag{Name: "heartbeat", Usage: "heartbeat interval (defaults to worker.heartbeat_interval)", Destination: &cmd.interval},
		},
		Action: cmd.runRun,
	}
}

func (cmd *WorkerCmd) runRun(ctx context.Context, c *cli.Command) error {
	if (cmd.taskID == "") == !cmd.next {
		return fmt.Errorf("pass exactly one of --task or --next")
	}
	if c.Args().Len() == 0 {
		return fmt.Errorf("missing command to run after --")
	}

	workerID, err := cmd.id()
	if err != nil {
		return err
	}

	interval := cmd.interval
	if interval <= 0 {
		interval = cmd.flags.config().Worker.HeartbeatInterval
	}

	args := c.Args().Slice()
	loop := worker.New(cmd.flags.Client(), executil.RealRunner{}, workerID, interval, logging.Component("worker"))

	out, err := loop.Run(logging.WithWorkerID(ctx, workerID), worker.RunOptions{
		TaskID:   cmd.taskID,
		Category: cmd.category,
		File:     cmd.fileGlob,
		Command:  executil.Command{Name: args[0], Args: args[1:], Env: os.Environ()},
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	})
	if err != nil {
		return err
	}

	w := c.Root().ErrWriter
	if out.Completed {
		_, _ = fmt.Fprintf(w, "completed %s\n", out.Task.ID)
		for _, t := range out.Unblocked {
			_, _ = fmt.Fprintf(w, "  now available: %s %q\n", t.ID, t.Title)
		}
		return nil
	}
	return fmt.Errorf("task %s blocked: %s", out.Task.ID, out.Task.BlockedReason)
}
