package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/commands"
	"github.com/colonyops/crew/internal/core/config"
	"github.com/colonyops/crew/internal/core/styles"
	"github.com/colonyops/crew/pkg/logutils"
	"github.com/colonyops/crew/pkg/utils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var logCloser func()

	flags := &commands.Flags{
		Version: version,
		Console: utils.NewDeferredWriter(os.Stderr),
	}

	app := &cli.Command{
		Name:      "crew",
		Usage:     "Coordinate AI agents working on a shared task list",
		UsageText: "crew [global options] command [command options]",
		Description: `Crew hands out tasks to agent workers one at a time, keeps each claim alive
with a heartbeat lease, and routes questions between blocked workers and
the humans who unblock them.

Run 'crew serve' to start the coordinator, then point workers at it with
'crew worker ...', 'crew worker run' or 'crew mcp'.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("CREW_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/crew.log)",
				Sources:     cli.EnvVars("CREW_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("CREW_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("CREW_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "coordinator",
				Usage:       "coordinator base URL (defaults to worker.coordinator_url)",
				Sources:     cli.EnvVars("CREW_COORDINATOR_URL"),
				Destination: &flags.CoordinatorURL,
			},
			&cli.StringFlag{
				Name:        "theme",
				Usage:       "color theme for terminal output",
				Sources:     cli.EnvVars("CREW_THEME"),
				Value:       styles.DefaultTheme,
				Destination: &flags.Theme,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Always log to a file; use explicit path or default to <datadir>/crew.log
			logFile := flags.LogFile
			if logFile == "" {
				logFile = filepath.Join(flags.DataDir, "crew.log")
			}

			logger, closer, err := logutils.New(logutils.Options{
				Level:      flags.LogLevel,
				File:       logFile,
				Console:    true,
				ConsoleOut: flags.Console,
			})
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg

			palette, ok := styles.GetPalette(flags.Theme)
			if !ok {
				return ctx, fmt.Errorf("unknown theme %q (available: %v)", flags.Theme, styles.ThemeNames())
			}
			styles.SetTheme(palette)

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.RegisterAll(app, flags)

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		fmt.Println()
		fmt.Println(runErr.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}
