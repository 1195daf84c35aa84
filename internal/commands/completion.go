package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/core/task"
)

// TaskIDCompleter returns a ShellCompleteFunc that suggests ids of tasks
// that are not done yet. Set this as the ShellComplete field on any
// cli.Command that accepts a task id as its argument.
//
// When the user's last typed argument starts with "-", it falls back to the
// default flag completion behavior.
func TaskIDCompleter(flags *Flags) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		if args := cmd.Args(); args.Present() {
			last := args.Slice()[args.Len()-1]
			if len(last) > 0 && last[0] == '-' {
				cli.DefaultCompleteWithFlags(ctx, cmd)
				return
			}
		}

		tasks, err := flags.Client().ListTasks(ctx, task.ListFilter{})
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, t := range tasks {
			if t.Status == task.StatusDone {
				continue
			}
			_, _ = fmt.Fprintf(w, "%s:%s\n", t.ID, t.Title)
		}
	}
}
