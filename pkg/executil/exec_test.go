package executil

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealRunner_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("success streams output", func(t *testing.T) {
		var out bytes.Buffer
		res, err := RealRunner{}.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo one; echo two"}}, &out, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, res.ExitCode)
		assert.Equal(t, "two", res.LastLine)
		assert.Equal(t, "one\ntwo\n", out.String())
	})

	t.Run("failure keeps exit code and last stderr line", func(t *testing.T) {
		res, err := RealRunner{}.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo working; echo 'missing API key' >&2; exit 3"}}, nil, nil)
		require.Error(t, err)

		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, 3, res.ExitCode)
		assert.Equal(t, "missing API key", res.LastLine)
	})

	t.Run("failure prefers stderr over later stdout", func(t *testing.T) {
		var out, errOut bytes.Buffer
		res, err := RealRunner{}.Run(ctx, Command{
			Name: "sh",
			Args: []string{"-c", "echo 'missing API key' >&2; sleep 0.05; echo still working; printf partial; exit 2"},
		}, &out, &errOut)
		require.Error(t, err)
		assert.Equal(t, 2, res.ExitCode)
		assert.Equal(t, "missing API key", res.LastLine)
		assert.Equal(t, "still working\npartial", out.String())
		assert.Equal(t, "missing API key\n", errOut.String())
	})

	t.Run("failure without stderr uses stdout", func(t *testing.T) {
		res, err := RealRunner{}.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo gave up; exit 1"}}, nil, nil)
		require.Error(t, err)
		assert.Equal(t, "gave up", res.LastLine)
	})

	t.Run("success prefers stdout", func(t *testing.T) {
		res, err := RealRunner{}.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo done; echo 'warning: slow' >&2"}}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "done", res.LastLine)
	})

	t.Run("env is passed through", func(t *testing.T) {
		res, err := RealRunner{}.Run(ctx, Command{
			Name: "sh",
			Args: []string{"-c", "echo $CREW_TASK_ID"},
			Env:  []string{"CREW_TASK_ID=T1"},
		}, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "T1", res.LastLine)
	})

	t.Run("missing binary", func(t *testing.T) {
		res, err := RealRunner{}.Run(ctx, Command{Name: "crew-definitely-not-a-binary"}, nil, nil)
		require.Error(t, err)
		assert.Equal(t, -1, res.ExitCode)
	})
}

func TestTailWriter(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"empty", nil, ""},
		{"trailing blank lines", []string{"a\n", "b\n\n  \n"}, "b"},
		{"partial line wins", []string{"a\nb"}, "b"},
		{"split writes", []string{"hel", "lo\n"}, "hello"},
		{"long line capped", []string{strings.Repeat("x", maxLineLen*2) + "\n"}, strings.Repeat("x", maxLineLen)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &tailWriter{}
			for _, s := range tt.writes {
				_, err := w.Write([]byte(s))
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, w.Last())
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "claude -p fix", Command{Name: "claude", Args: []string{"-p", "fix"}}.String())
}
