package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), dataDir)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, def.Server.Addr, cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Locks.StaleTTL)
	assert.Equal(t, time.Minute, cfg.Locks.SweepInterval)
	assert.Equal(t, 500, cfg.Messages.RetentionPerSession)
	assert.Equal(t, DefaultBlockNotice, cfg.Templates.BlockNotice)
	assert.Equal(t, filepath.Join(dataDir, "locks"), cfg.LocksDir())
}

func TestLoad_OverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, writeTestFile(path, `
server:
  addr: 0.0.0.0:9000
locks:
  stale_ttl: 10m
  sweep_interval: 15s
messages:
  retention_per_session: 0
bot:
  identity: ops
  webhook_url: https://hooks.example.com/T000
templates:
  block_notice: "BLOCKED {{ .ID }}: {{ .Reason }}"
`))

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Locks.StaleTTL)
	assert.Equal(t, 15*time.Second, cfg.Locks.SweepInterval)
	assert.Equal(t, 0, cfg.Messages.RetentionPerSession, "explicit zero means unlimited")
	assert.Equal(t, "ops", cfg.Bot.Identity)
	assert.Equal(t, "https://hooks.example.com/T000", cfg.Bot.WebhookURL)
	assert.Equal(t, "BLOCKED {{ .ID }}: {{ .Reason }}", cfg.Templates.BlockNotice)
	assert.Equal(t, DefaultReclaimNotice, cfg.Templates.ReclaimNotice, "unset sections keep defaults")
}

func TestLoad_BlankedFieldsFallBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, writeTestFile(path, "server:\n  addr: \"\"\nbot:\n  identity: \"\"\n"))

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, "default", cfg.Bot.Identity)
}

func TestLoad_VarsFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeTestFile(filepath.Join(dir, "team.yaml"), "team: platform\nchannel: ops\n"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, writeTestFile(path, "vars_files: [team.yaml]\nvars:\n  channel: incidents\n"))

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "platform", cfg.Vars["team"])
	assert.Equal(t, "incidents", cfg.Vars["channel"], "inline vars override files")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"zero ttl", "locks:\n  stale_ttl: 0s\n", "locks.stale_ttl"},
		{"negative retention", "messages:\n  retention_per_session: -1\n", "messages.retention_per_session"},
		{"bad template", "templates:\n  block_notice: \"{{ .ID\"\n", "templates.block_notice"},
		{"bad webhook", "bot:\n  webhook_url: ftp://example.com\n", "bot.webhook_url"},
		{"bot ttl shorter than heartbeat", "bot:\n  heartbeat_interval: 1m\n  stale_ttl: 30s\n", "bot.stale_ttl"},
		{"bad coordinator url", "worker:\n  coordinator_url: localhost\n", "worker.coordinator_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, writeTestFile(path, tt.yaml))

			_, err := Load(path, t.TempDir())
			require.Error(t, err)

			var fieldErrs criterio.FieldErrors
			require.ErrorAs(t, err, &fieldErrs)

			var fields []string
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidate_RequiresDataDir(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.DataDir = t.TempDir()
	assert.NoError(t, cfg.Validate())
}
