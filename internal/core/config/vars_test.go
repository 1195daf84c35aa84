package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadVarsFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"team.yaml":     "team: platform\nchannel: ops\nslack:\n  workspace: acme\n  channel: crew\n",
		"override.yaml": "channel: incidents\nslack:\n  channel: approvals\n",
		"bad.yaml":      "team: [\n",
	}
	for name, content := range files {
		require.NoError(t, writeTestFile(filepath.Join(dir, name), content))
	}
	t.Setenv("CREW_TEST_VARS_DIR", dir)

	tests := []struct {
		name    string
		files   []string
		want    map[string]any
		wantErr string
	}{
		{
			name:  "single file",
			files: []string{"team.yaml"},
			want: map[string]any{
				"team":    "platform",
				"channel": "ops",
				"slack":   map[string]any{"workspace": "acme", "channel": "crew"},
			},
		},
		{
			name:  "later file wins and nested maps merge",
			files: []string{"team.yaml", "override.yaml"},
			want: map[string]any{
				"team":    "platform",
				"channel": "incidents",
				"slack":   map[string]any{"workspace": "acme", "channel": "approvals"},
			},
		},
		{
			name:  "absolute path",
			files: []string{filepath.Join(dir, "override.yaml")},
			want: map[string]any{
				"channel": "incidents",
				"slack":   map[string]any{"channel": "approvals"},
			},
		},
		{
			name:  "environment variable in path",
			files: []string{"$CREW_TEST_VARS_DIR/override.yaml"},
			want: map[string]any{
				"channel": "incidents",
				"slack":   map[string]any{"channel": "approvals"},
			},
		},
		{name: "missing file", files: []string{"missing.yaml"}, wantErr: "read vars file"},
		{name: "invalid yaml", files: []string{"bad.yaml"}, wantErr: "parse vars file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loadVarsFiles(dir, tt.files)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveVarsPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/etc/crew", "vars.yaml"), resolveVarsPath("/etc/crew", "vars.yaml"))
	assert.Equal(t, filepath.Join(home, "crew/vars.yaml"), resolveVarsPath("/etc/crew", "~/crew/vars.yaml"))
}

func TestMergeMaps_InlineOverridesFiles(t *testing.T) {
	fileVars := map[string]any{
		"channel": "ops",
		"slack":   map[string]any{"workspace": "acme", "channel": "crew"},
	}

	mergeMaps(fileVars, map[string]any{
		"channel": "incidents",
		"slack":   map[string]any{"channel": "approvals"},
	})

	assert.Equal(t, "incidents", fileVars["channel"])
	assert.Equal(t, map[string]any{"workspace": "acme", "channel": "approvals"}, fileVars["slack"])
}

func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
