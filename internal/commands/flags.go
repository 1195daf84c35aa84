package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/colonyops/crew/internal/client"
	"github.com/colonyops/crew/internal/coordinator"
	"github.com/colonyops/crew/internal/core/config"
	"github.com/colonyops/crew/internal/core/eventbus"
	"github.com/colonyops/crew/internal/core/logging"
	"github.com/colonyops/crew/internal/data/db"
	"github.com/colonyops/crew/internal/data/stores"
	"github.com/colonyops/crew/pkg/utils"
)

// clientTimeout bounds every coordinator API call made by the CLI.
const clientTimeout = 30 * time.Second

type Flags struct {
	LogLevel       string
	LogFile        string
	ConfigPath     string
	DataDir        string
	CoordinatorURL string
	Theme          string

	// Version is the build version reported by the coordinator.
	Version string

	// Console carries console log output. Full screen commands hold it
	// while they own the terminal.
	Console *utils.DeferredWriter

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

// Client returns an API client for the coordinator. The --coordinator flag
// wins over worker.coordinator_url.
func (f *Flags) Client() *client.Client {
	url := f.CoordinatorURL
	if url == "" && f.Config != nil {
		url = f.Config.Worker.CoordinatorURL
	}
	if url == "" {
		url = config.DefaultConfig().Worker.CoordinatorURL
	}
	return client.New(url, clientTimeout)
}

// config returns the loaded config, falling back to defaults for commands
// run without the root Before hook (tests, docgen).
func (f *Flags) config() *config.Config {
	if f.Config == nil {
		cfg := config.DefaultConfig()
		cfg.DataDir = f.DataDir
		f.Config = &cfg
	}
	return f.Config
}

// OpenService opens the database in the data dir and builds the coordinator
// on top of it. The returned closer closes the database.
func (f *Flags) OpenService(bus *eventbus.EventBus) (*coordinator.Service, func() error, error) {
	cfg := f.config()

	database, err := db.Open(cfg.DataDir, db.OpenOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	repo := stores.NewRepo(database, stores.RepoOptions{MessageRetention: cfg.Messages.RetentionPerSession})
	svc := coordinator.New(repo, bus, coordinator.Options{
		StaleTTL:      cfg.Locks.StaleTTL,
		BlockNotice:   cfg.Templates.BlockNotice,
		ReclaimNotice: cfg.Templates.ReclaimNotice,
		Vars:          cfg.Vars,
		HubBuffer:     cfg.Events.Buffer,
	}, logging.Component("coordinator"))

	return svc, database.Close, nil
}

// WorkerID resolves the acting worker: explicit flag, then worker.id, then
// the hostname.
func (f *Flags) WorkerID(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if id := f.config().Worker.ID; id != "" {
		return id, nil
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "", fmt.Errorf("worker id required: pass --worker or set worker.id")
	}
	return host, nil
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "crew", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "crew")
}
