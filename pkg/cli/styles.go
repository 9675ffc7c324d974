// Package cli provides the terminal styling for the culprit commands.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color scheme for command output.
type Theme struct {
	Primary lipgloss.Color // accent color
	Dim     lipgloss.Color // help and secondary text
	Alert   lipgloss.Color // errors and warnings
}

// DefaultTheme is the default crimson theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#ff4f6e"),
	Dim:     lipgloss.Color("#6e7681"),
	Alert:   lipgloss.Color("#ffb000"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Border lipgloss.Style
	Help   lipgloss.Style
	Alert  lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Value:  lipgloss.NewStyle(),
		Border: lipgloss.NewStyle().Foreground(t.Dim),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
		Alert:  lipgloss.NewStyle().Bold(true).Foreground(t.Alert),
	}
}

// Field is one labeled line in a Banner.
type Field struct {
	Label string
	Value string
}

// Banner renders a bordered startup panel with a title and field lines.
type Banner struct {
	Styles Styles
	Title  string
	Fields []Field
}

// Render renders the banner to a string.
func (b Banner) Render() string {
	labelWidth := 0
	for _, f := range b.Fields {
		if len(f.Label) > labelWidth {
			labelWidth = len(f.Label)
		}
	}

	var rows []string
	for _, f := range b.Fields {
		label := b.Styles.Label.Render(fmt.Sprintf("%-*s", labelWidth, f.Label))
		rows = append(rows, label+"  "+b.Styles.Value.Render(f.Value))
	}
	body := strings.Join(rows, "\n")

	width := lipgloss.Width(body)
	title := b.Styles.Title.Render(b.Title)
	if w := lipgloss.Width(title); w > width {
		width = w
	}

	bc := b.Styles.Border
	var out strings.Builder
	out.WriteString(bc.Render("╭"+strings.Repeat("─", width+2)+"╮") + "\n")
	out.WriteString(renderRow(bc, title, width) + "\n")
	if len(b.Fields) > 0 {
		out.WriteString(bc.Render("├"+strings.Repeat("─", width+2)+"┤") + "\n")
		for _, row := range strings.Split(body, "\n") {
			out.WriteString(renderRow(bc, row, width) + "\n")
		}
	}
	out.WriteString(bc.Render("╰" + strings.Repeat("─", width+2) + "╯"))
	return out.String()
}

func renderRow(bc lipgloss.Style, content string, width int) string {
	pad := width - lipgloss.Width(content)
	if pad < 0 {
		pad = 0
	}
	return bc.Render("│") + " " + content + strings.Repeat(" ", pad) + " " + bc.Render("│")
}
