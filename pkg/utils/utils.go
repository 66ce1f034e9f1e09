package utils

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levelBadge = lipgloss.NewStyle().
	Padding(0, 1, 0, 1).
	Bold(true).
	MaxWidth(80)

// levels maps charmbracelet/log level markers to badge colours.
var levels = []struct {
	marker string
	bg, fg lipgloss.Color
}{
	{"INFO", "87", "16"},
	{"WARN", "192", "0"},
	{"ERRO", "204", "0"},
	{"DEBU", "63", "0"},
}

// ColorizeLogs highlights the level marker of each plain log line in place
// and returns the slice.
func ColorizeLogs(logs []string) []string {
	for i, line := range logs {
		// Only style if not already styled (check for ANSI codes)
		if strings.Contains(line, "\x1b[") {
			continue
		}
		for _, lvl := range levels {
			if strings.Contains(line, lvl.marker) {
				badge := levelBadge.Background(lvl.bg).Foreground(lvl.fg).Render(lvl.marker)
				logs[i] = strings.Replace(line, lvl.marker, badge, 1)
				break
			}
		}
	}
	return logs
}
