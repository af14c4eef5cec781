package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/goccy/go-yaml"
)

// Output formats.
const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

var (
	accent     = lipgloss.Color("#00ff9f")
	dim        = lipgloss.Color("#6e7681")
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	labelStyle = lipgloss.NewStyle().Foreground(dim)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
)

// writeResult renders v in format; table uses render.
func writeResult(w io.Writer, format string, v any, render func() string) error {
	switch format {
	case formatTable, "":
		_, err := fmt.Fprintln(w, render())
		return err
	case formatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// box renders a titled key/value panel.
func box(title string, rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r[0]))
	}
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		key := r[0] + strings.Repeat(" ", width-lipgloss.Width(r[0]))
		lines = append(lines, labelStyle.Render(key)+"  "+r[1])
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
