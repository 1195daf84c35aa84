// Package config handles configuration loading and validation for crew.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default templates for the notices the coordinator writes into task
// sessions.
const (
	DefaultBlockNotice   = "Task {{ .ID }} ({{ .Title }}) is blocked: {{ .Reason }}"
	DefaultReclaimNotice = "Task {{ .ID }} ({{ .Title }}) was returned to the queue: lease held by {{ .Holder }} went stale after {{ .Idle }}"
)

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Locks     LocksConfig     `yaml:"locks"`
	Messages  MessagesConfig  `yaml:"messages"`
	Events    EventsConfig    `yaml:"events"`
	Bot       BotConfig       `yaml:"bot"`
	Templates TemplatesConfig `yaml:"templates"`
	Worker    WorkerConfig    `yaml:"worker"`

	// VarsFiles are YAML files merged into Vars, exposed to notice templates
	// as .Vars.
	VarsFiles []string       `yaml:"vars_files"`
	Vars      map[string]any `yaml:"vars"`

	DataDir string `yaml:"-"` // set by caller, not from config file
}

// ServerConfig configures the coordinator HTTP listener.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	// OriginPatterns lists extra browser origins allowed to open the event
	// stream. The request host is always allowed.
	OriginPatterns []string `yaml:"origin_patterns"`
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool `yaml:"pprof"`
}

// DatabaseConfig holds SQLite connection pool settings.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// LocksConfig controls task lease expiry.
type LocksConfig struct {
	StaleTTL      time.Duration `yaml:"stale_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// MessagesConfig controls the message log.
type MessagesConfig struct {
	// RetentionPerSession caps stored messages per session. 0 keeps all.
	RetentionPerSession int `yaml:"retention_per_session"`
}

// EventsConfig sizes the in-process event bus.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// BotConfig configures the approval channel bot.
type BotConfig struct {
	Identity          string        `yaml:"identity"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleTTL          time.Duration `yaml:"stale_ttl"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	WebhookURL        string        `yaml:"webhook_url"`
	WebhookTimeout    time.Duration `yaml:"webhook_timeout"`
}

// TemplatesConfig holds the text/template sources for coordinator notices.
type TemplatesConfig struct {
	BlockNotice   string `yaml:"block_notice"`
	ReclaimNotice string `yaml:"reclaim_notice"`
}

// WorkerConfig holds defaults for the worker-side commands.
type WorkerConfig struct {
	ID                string        `yaml:"id"`
	CoordinatorURL    string        `yaml:"coordinator_url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:3600",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5000,
		},
		Locks: LocksConfig{
			StaleTTL:      30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Messages: MessagesConfig{
			RetentionPerSession: 500,
		},
		Events: EventsConfig{
			Buffer: 256,
		},
		Bot: BotConfig{
			Identity:          "default",
			HeartbeatInterval: 30 * time.Second,
			StaleTTL:          2 * time.Minute,
			PollInterval:      5 * time.Second,
			WebhookTimeout:    10 * time.Second,
		},
		Templates: TemplatesConfig{
			BlockNotice:   DefaultBlockNotice,
			ReclaimNotice: DefaultReclaimNotice,
		},
		Worker: WorkerConfig{
			CoordinatorURL:    "http://127.0.0.1:3600",
			HeartbeatInterval: time.Minute,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	if len(cfg.VarsFiles) > 0 {
		fileVars, err := loadVarsFiles(filepath.Dir(configPath), cfg.VarsFiles)
		if err != nil {
			return nil, err
		}
		// Inline vars win over file vars.
		mergeMaps(fileVars, cfg.Vars)
		cfg.Vars = fileVars
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills options a config file blanked out and for which the
// zero value is never meaningful.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = defaults.Events.Buffer
	}
	if c.Bot.Identity == "" {
		c.Bot.Identity = defaults.Bot.Identity
	}
	if c.Templates.BlockNotice == "" {
		c.Templates.BlockNotice = defaults.Templates.BlockNotice
	}
	if c.Templates.ReclaimNotice == "" {
		c.Templates.ReclaimNotice = defaults.Templates.ReclaimNotice
	}
	if c.Worker.CoordinatorURL == "" {
		c.Worker.CoordinatorURL = defaults.Worker.CoordinatorURL
	}
}

// LocksDir holds the bot singleton marker files.
func (c *Config) LocksDir() string {
	return filepath.Join(c.DataDir, "locks")
}
