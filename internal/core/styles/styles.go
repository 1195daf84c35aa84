// Package styles provides shared lipgloss styles for CLI and TUI output.
package styles

import (
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/colonyops/crew/internal/core/task"
)

// Palette defines a minimal semantic theme palette.
type Palette struct {
	Primary    lipgloss.Color
	Secondary  lipgloss.Color
	Foreground lipgloss.Color
	Muted      lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
}

// DefaultTheme is the name of the default theme.
const DefaultTheme = "tokyo-night"

var themes = map[string]Palette{
	"tokyo-night": {
		Primary:    lipgloss.Color("#7aa2f7"),
		Secondary:  lipgloss.Color("#7dcfff"),
		Foreground: lipgloss.Color("#c0caf5"),
		Muted:      lipgloss.Color("#565f89"),
		Success:    lipgloss.Color("#9ece6a"),
		Warning:    lipgloss.Color("#e0af68"),
		Error:      lipgloss.Color("#f7768e"),
	},
	"gruvbox": {
		Primary:    lipgloss.Color("#83a598"),
		Secondary:  lipgloss.Color("#8ec07c"),
		Foreground: lipgloss.Color("#ebdbb2"),
		Muted:      lipgloss.Color("#665c54"),
		Success:    lipgloss.Color("#b8bb26"),
		Warning:    lipgloss.Color("#fabd2f"),
		Error:      lipgloss.Color("#fb4934"),
	},
	"ansi": {
		Primary:    lipgloss.Color("12"),
		Secondary:  lipgloss.Color("14"),
		Foreground: lipgloss.Color("15"),
		Muted:      lipgloss.Color("240"),
		Success:    lipgloss.Color("10"),
		Warning:    lipgloss.Color("11"),
		Error:      lipgloss.Color("9"),
	},
}

// ThemeNames returns sorted names of all built-in themes.
func ThemeNames() []string {
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPalette returns the palette for the given theme name.
func GetPalette(name string) (Palette, bool) {
	p, ok := themes[name]
	return p, ok
}

var (
	HeaderStyle  lipgloss.Style
	TitleStyle   lipgloss.Style
	MutedStyle   lipgloss.Style
	LabelStyle   lipgloss.Style
	ErrorStyle   lipgloss.Style
	SuccessStyle lipgloss.Style
	WarningStyle lipgloss.Style
	BoxStyle     lipgloss.Style

	statusStyles map[task.Status]lipgloss.Style
)

func init() {
	SetTheme(themes[DefaultTheme])
}

// SetTheme rebuilds all global styles from p.
func SetTheme(p Palette) {
	HeaderStyle = lipgloss.NewStyle().Foreground(p.Primary).Bold(true)
	TitleStyle = lipgloss.NewStyle().Foreground(p.Foreground)
	MutedStyle = lipgloss.NewStyle().Foreground(p.Muted)
	LabelStyle = lipgloss.NewStyle().Foreground(p.Secondary)
	ErrorStyle = lipgloss.NewStyle().Foreground(p.Error).Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(p.Success)
	WarningStyle = lipgloss.NewStyle().Foreground(p.Warning)
	BoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(p.Muted).
		Padding(0, 1)

	statusStyles = map[task.Status]lipgloss.Style{
		task.StatusTodo:       lipgloss.NewStyle().Foreground(p.Foreground),
		task.StatusInProgress: lipgloss.NewStyle().Foreground(p.Primary),
		task.StatusBlocked:    lipgloss.NewStyle().Foreground(p.Warning).Bold(true),
		task.StatusDone:       lipgloss.NewStyle().Foreground(p.Success),
	}
}

// Status renders a task status in its color.
func Status(s task.Status) string {
	st, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return st.Render(string(s))
}

// Worker renders a worker session status: active, stale or invalid.
func Worker(status string) string {
	switch status {
	case "active":
		return SuccessStyle.Render(status)
	case "stale":
		return WarningStyle.Render(status)
	default:
		return ErrorStyle.Render(status)
	}
}
