package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/logging"
	"github.com/colonyops/crew/internal/core/task"
	"github.com/colonyops/crew/internal/server"
	"github.com/colonyops/crew/internal/store/jsonfile"
)

type ServeCmd struct {
	flags *Flags

	addr      string
	tasksFile string
	pprof     bool
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the coordinator",
		UsageText: "crew serve [--addr host:port] [--tasks-file TASKS.json]",
		Description: `Runs the coordinator: the HTTP API, the /events WebSocket stream and the
stale lease sweep.

With --tasks-file, tasks are imported from a JSON or YAML file at startup and
again whenever the file changes. Only ids that do not exist yet are created.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address (overrides server.addr)",
				Sources:     cli.EnvVars("CREW_ADDR"),
				Destination: &cmd.addr,
			},
			&cli.StringFlag{
				Name:        "tasks-file",
				Usage:       "JSON or YAML tasks file to import and watch",
				Destination: &cmd.tasksFile,
			},
			&cli.BoolFlag{
				Name:        "pprof",
				Usage:       "expose /debug/pprof (overrides server.pprof)",
				Destination: &cmd.pprof,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	cfg := cmd.flags.config()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.New(cfg.Events.Buffer)
	eventbus.RegisterDebugLogger(bus, logging.Component("events"))
	eventbus.NewNotificationRouter(bus).Register()

	svc, closeDB, err := cmd.flags.OpenService(bus)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDB(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	bus.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		svc.BroadcastNotification(p.Notification)
	})

	opts := server.Options{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		OriginPatterns:    cfg.Server.OriginPatterns,
		Pprof:             cfg.Server.Pprof || cmd.pprof,
		Version:           cmd.flags.Version,
	}
	if cmd.addr != "" {
		opts.Addr = cmd.addr
	}
	srv := server.New(svc, opts, logging.Component("server"))

	var watcher *jsonfile.TaskFileWatcher
	if cmd.tasksFile != "" {
		if err := syncTasksFile(ctx, svc, cmd.tasksFile); err != nil {
			return err
		}
		watcher, err = jsonfile.NewTaskFileWatcher(cmd.tasksFile, logging.Component("tasksfile"))
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bus.Start(ctx)
		return nil
	})

	g.Go(func() error {
		svc.RunSweeper(ctx, cfg.Locks.SweepInterval)
		return nil
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(ctx, func(ctx context.Context, tasks []task.Task) {
				importTasks(ctx, svc, tasks)
			})
		})
	}

	errCh, err := srv.Start(ctx)
	if err != nil {
		return err
	}

	g.Go(func() error {
		select {
		case err, ok := <-errCh:
			if ok && err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func syncTasksFile(ctx context.Context, svc *coordinator.Service, path string) error {
	tasks, err := jsonfile.LoadTaskFile(path)
	if err != nil {
		return fmt.Errorf("load tasks file: %w", err)
	}
	importTasks(ctx, svc, tasks)
	return nil
}

func importTasks(ctx context.Context, svc *coordinator.Service, tasks []task.Task) {
	res, err := svc.ImportTasks(ctx, tasks)
	if err != nil {
		log.Error().Err(err).Msg("import tasks file")
		return
	}
	if len(res.Created) > 0 {
		log.Info().Int("created", len(res.Created)).Int("skipped", len(res.Skipped)).Msg("tasks file imported")
	}
}
