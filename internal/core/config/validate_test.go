package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config with all required fields set for testing.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	return &cfg
}

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)

	names := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		names = append(names, fe.Field)
	}
	return names
}

func TestValidateDeep_ValidConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Templates.BlockNotice = "{{ .ID }} blocked by {{ .Worker }}: {{ .Reason | truncate 80 }}"
	cfg.Vars = map[string]any{"channel": "ops"}

	assert.NoError(t, cfg.ValidateDeep(""))
}

func TestValidateDeep_UnknownTemplateField(t *testing.T) {
	cfg := validConfig(t)
	cfg.Templates.ReclaimNotice = "{{ .ID }} reclaimed from {{ .Worker }}"

	err := cfg.ValidateDeep("")
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "templates.reclaim_notice")
}

func TestValidateDeep_DataDirIsFile(t *testing.T) {
	cfg := validConfig(t)
	file := filepath.Join(t.TempDir(), "data")
	require.NoError(t, writeTestFile(file, "x"))
	cfg.DataDir = file

	err := cfg.ValidateDeep("")
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "data_dir")
}

func TestValidateDeep_ConfigPathIsDirectory(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.ValidateDeep(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "config_file")
}

func TestValidateDeep_MissingVarsFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.VarsFiles = []string{"missing.yaml"}
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	err := cfg.ValidateDeep(configPath)
	require.Error(t, err)
	assert.Contains(t, fieldNames(t, err), "vars_files[0]")
}

func TestIsDirectoryOrNotExist(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.NoError(t, isDirectoryOrNotExist(""))
	assert.NoError(t, isDirectoryOrNotExist(dir))
	assert.NoError(t, isDirectoryOrNotExist(filepath.Join(dir, "later")))
	assert.Error(t, isDirectoryOrNotExist(file))
}
