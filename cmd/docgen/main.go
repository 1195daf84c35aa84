// Command docgen generates CLI reference documentation from the crew command
// definitions. Output is written to docs/cli-reference.md.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	docs "github.com/urfave/cli-docs/v3"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/commands"
)

func main() {
	flags := &commands.Flags{}

	root := &cli.Command{
		Name:      "crew",
		Usage:     "Coordinate AI agents working on a shared task list",
		UsageText: "crew [global options] command [command options]",
		Description: `Crew hands out tasks to agent workers one at a time, keeps each claim alive
with a heartbeat lease, and routes questions between blocked workers and
the humans who unblock them.

Run 'crew serve' to start the coordinator, then point workers at it with
'crew worker ...', 'crew worker run' or 'crew mcp'.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error, fatal, panic)",
				Sources: cli.EnvVars("CREW_LOG_LEVEL"),
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "path to log file (defaults to <data-dir>/crew.log)",
				Sources: cli.EnvVars("CREW_LOG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("CREW_CONFIG"),
				Value:   commands.DefaultConfigPath(),
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "path to data directory",
				Sources: cli.EnvVars("CREW_DATA_DIR"),
				Value:   commands.DefaultDataDir(),
			},
			&cli.StringFlag{
				Name:    "coordinator",
				Usage:   "coordinator base URL (defaults to worker.coordinator_url)",
				Sources: cli.EnvVars("CREW_COORDINATOR_URL"),
			},
			&cli.StringFlag{
				Name:    "theme",
				Usage:   "color theme for terminal output",
				Sources: cli.EnvVars("CREW_THEME"),
			},
		},
	}

	root = commands.RegisterAll(root, flags)

	md, err := docs.ToMarkdown(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating docs: %v\n", err)
		os.Exit(1)
	}

	outPath := "docs/cli-reference.md"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating %s: %v\n", filepath.Dir(outPath), err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, []byte(md), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing %s: %v\n", outPath, err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s\n", outPath)
}
