package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/crew/internal/bot"
	"github.com/colonyops/crew/internal/core/logging"
	"github.com/colonyops/crew/internal/core/notify"
	"github.com/colonyops/crew/internal/notifier"
	"github.com/colonyops/crew/internal/singleton"
)

type BotCmd struct {
	flags *Flags

	identity   string
	webhookURL string
}

// NewBotCmd creates a new bot command.
func NewBotCmd(flags *Flags) *BotCmd {
	return &BotCmd{flags: flags}
}

// Register adds the bot command to the application.
func (cmd *BotCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "bot",
		Usage:     "Relay messages for humans to a chat webhook",
		UsageText: "crew bot [--identity NAME] [--webhook URL]",
		Description: `Polls the coordinator for pending messages addressed to humans, posts each
one to the webhook as {"text": ...} JSON and marks it delivered. Without a
webhook the messages are printed to stdout.

Only one bot per identity runs at a time. A second instance exits quietly
while the first one holds the lock; a crashed bot's lock is taken over once
its process is gone or its heartbeat is older than bot.stale_ttl.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "identity", Usage: "bot identity (overrides bot.identity)", Destination: &cmd.identity},
			&cli.StringFlag{Name: "webhook", Usage: "webhook URL (overrides bot.webhook_url)", Sources: cli.EnvVars("CREW_BOT_WEBHOOK"), Destination: &cmd.webhookURL},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *BotCmd) run(ctx context.Context, _ *cli.Command) error {
	cfg := cmd.flags.config().Bot
	if cmd.identity != "" {
		cfg.Identity = cmd.identity
	}
	if cmd.webhookURL != "" {
		cfg.WebhookURL = cmd.webhookURL
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var n notify.Notifier = notifier.NewWriter(os.Stdout)
	if cfg.WebhookURL != "" {
		n = notifier.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout)
	}

	logger := logging.Component("bot")
	guard := singleton.New(singleton.Options{
		Dir:               cmd.flags.config().LocksDir(),
		Identity:          cfg.Identity,
		TTL:               cfg.StaleTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, logger)

	relay := bot.New(cmd.flags.Client(), n, cfg.PollInterval, logger)

	err := guard.Run(ctx, relay.Run)
	switch {
	case errors.Is(err, singleton.ErrAlreadyRunning):
		log.Info().Str("identity", cfg.Identity).Msg("another bot is already running, exiting")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}
