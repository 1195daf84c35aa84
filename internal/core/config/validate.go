package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/colonyops/crew/pkg/tmpl"
	"github.com/hay-kot/criterio"
)

// BlockNoticeData defines the fields available to templates.block_notice.
type BlockNoticeData struct {
	ID       string
	Title    string
	Category string
	Reason   string
	Worker   string
	Vars     map[string]any
}

// ReclaimNoticeData defines the fields available to templates.reclaim_notice.
type ReclaimNoticeData struct {
	ID     string
	Title  string
	Holder string
	Idle   time.Duration
	Vars   map[string]any
}

// Validate checks that the configuration is structurally valid.
func (c *Config) Validate() error {
	var errs criterio.FieldErrorsBuilder

	check := func(field string, err error) {
		if err != nil {
			errs = errs.Append(field, err)
		}
	}

	check("server.shutdown_timeout", nonNegative(c.Server.ShutdownTimeout))
	check("database.max_open_conns", nonNegativeInt(c.Database.MaxOpenConns))
	check("database.max_idle_conns", nonNegativeInt(c.Database.MaxIdleConns))
	check("database.busy_timeout", nonNegativeInt(c.Database.BusyTimeout))
	check("locks.stale_ttl", positive(c.Locks.StaleTTL))
	check("locks.sweep_interval", positive(c.Locks.SweepInterval))
	check("messages.retention_per_session", nonNegativeInt(c.Messages.RetentionPerSession))
	check("events.buffer", positiveInt(c.Events.Buffer))
	check("worker.heartbeat_interval", positive(c.Worker.HeartbeatInterval))

	return criterio.ValidateStruct(
		criterio.Run("data_dir", c.DataDir, required),
		criterio.Run("server.addr", c.Server.Addr, required),
		errs.ToError(),
		c.validateBot(),
		criterio.Run("templates.block_notice", c.Templates.BlockNotice, tmpl.Validate),
		criterio.Run("templates.reclaim_notice", c.Templates.ReclaimNotice, tmpl.Validate),
		criterio.Run("worker.coordinator_url", c.Worker.CoordinatorURL, httpURL),
	)
}

func (c *Config) validateBot() error {
	var errs criterio.FieldErrorsBuilder

	if c.Bot.Identity == "" {
		errs = errs.Append("bot.identity", errors.New("is required"))
	}
	if err := positive(c.Bot.HeartbeatInterval); err != nil {
		errs = errs.Append("bot.heartbeat_interval", err)
	}
	if err := positive(c.Bot.PollInterval); err != nil {
		errs = errs.Append("bot.poll_interval", err)
	}
	if c.Bot.StaleTTL <= c.Bot.HeartbeatInterval {
		errs = errs.Append("bot.stale_ttl", fmt.Errorf("must be longer than heartbeat_interval (%s)", c.Bot.HeartbeatInterval))
	}
	if c.Bot.WebhookURL != "" {
		if err := httpURL(c.Bot.WebhookURL); err != nil {
			errs = errs.Append("bot.webhook_url", err)
		}
	}

	return errs.ToError()
}

// ValidateDeep performs comprehensive validation of the configuration including
// template rendering and file accessibility. The configPath argument
// specifies the config file location to validate (empty string skips config file check).
// This calls Validate() first for basic structural validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
		c.validateVarsFiles(configPath),
		c.validateTemplates(),
	)
}

// validateTemplates renders each notice template with sample data so
// references to unknown fields are caught before the first notice is sent.
func (c *Config) validateTemplates() error {
	var errs criterio.FieldErrorsBuilder

	block := BlockNoticeData{ID: "abc12345", Title: "Example", Reason: "needs input", Worker: "worker-1", Vars: c.Vars}
	if _, err := tmpl.Render(c.Templates.BlockNotice, block); err != nil {
		errs = errs.Append("templates.block_notice", err)
	}

	reclaim := ReclaimNoticeData{ID: "abc12345", Title: "Example", Holder: "worker-1", Idle: time.Hour, Vars: c.Vars}
	if _, err := tmpl.Render(c.Templates.ReclaimNotice, reclaim); err != nil {
		errs = errs.Append("templates.reclaim_notice", err)
	}

	return errs.ToError()
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

func (c *Config) validateVarsFiles(configPath string) error {
	if len(c.VarsFiles) == 0 {
		return nil
	}

	configDir := filepath.Dir(configPath)
	var errs criterio.FieldErrorsBuilder

	for i, file := range c.VarsFiles {
		if _, err := os.Stat(resolveVarsPath(configDir, file)); err != nil {
			errs = errs.Append(fmt.Sprintf("vars_files[%d]", i), fmt.Errorf("file not found: %s", file))
		}
	}

	return errs.ToError()
}

func required(s string) error {
	if s == "" {
		return errors.New("is required")
	}
	return nil
}

func positive(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	return nil
}

func nonNegative(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("must not be negative, got %s", d)
	}
	return nil
}

func positiveInt(n int) error {
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func nonNegativeInt(n int) error {
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func httpURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
