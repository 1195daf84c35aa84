package commands

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/tui"
)

type WatchCmd struct {
	flags *Flags

	taskID string
}

// NewWatchCmd creates a new watch command.
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application.
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Live view of tasks, workers and activity",
		UsageText: "crew watch [--task ID]",
		Description: `Connects to the coordinator's event stream and keeps a live view of open
tasks, who holds them and recent activity. With --task only that task's
session messages are streamed.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "task", Usage: "only stream this task's session", Destination: &cmd.taskID},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, _ *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := ""
	if cmd.taskID != "" {
		session = task.SessionKey(cmd.taskID)
	}

	stream, err := cmd.flags.Client().Stream(ctx, session)
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	if console := cmd.flags.Console; console != nil {
		console.Hold()
		defer func() { _ = console.Release() }()
	}

	p := tea.NewProgram(tui.NewWatchModel(ctx, stream), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
