package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/colonyops/crew/internal/core/task"
)

func TestThemes(t *testing.T) {
	names := ThemeNames()
	assert.Contains(t, names, DefaultTheme)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			p, ok := GetPalette(name)
			assert.True(t, ok)
			assert.NotEmpty(t, p.Primary)
		})
	}

	_, ok := GetPalette("nope")
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	for _, s := range []task.Status{task.StatusTodo, task.StatusInProgress, task.StatusBlocked, task.StatusDone} {
		assert.Contains(t, Status(s), string(s))
	}
	assert.Equal(t, "weird", Status("weird"))
}
