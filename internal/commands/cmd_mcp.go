package commands

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/core/logging"
	"github.com/colonyops/crew/internal/mcpgw"
)

type McpCmd struct {
	flags *Flags

	workerID string
}

// NewMcpCmd creates a new mcp command.
func NewMcpCmd(flags *Flags) *McpCmd {
	return &McpCmd{flags: flags}
}

// Register adds the mcp command to the application.
func (cmd *McpCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "mcp",
		Usage:     "Serve worker tools to an agent over MCP (stdio)",
		UsageText: "crew mcp --worker ID",
		Description: `Runs a Model Context Protocol server on stdin/stdout so an agent can list,
claim, heartbeat, block, complete and release tasks and read its messages.
Every tool acts as the --worker identity.

Example agent config:
  {"command": "crew", "args": ["mcp", "--worker", "agent-1"]}`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "worker",
				Aliases:     []string{"w"},
				Usage:       "worker id the tools act as",
				Sources:     cli.EnvVars("CREW_WORKER_ID"),
				Destination: &cmd.workerID,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *McpCmd) run(ctx context.Context, _ *cli.Command) error {
	workerID, err := cmd.flags.WorkerID(cmd.workerID)
	if err != nil {
		return err
	}

	srv := mcpgw.New(cmd.flags.Client(), workerID, cmd.flags.Version, logging.Component("mcp"))
	if err := srv.Run(logging.WithWorkerID(ctx, workerID)); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
