// Package ui renders cycle reports and status output for the
// terminal.
package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/taskdav/taskdav/internal/sync"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// DetectColor reports whether the environment wants color output,
// honoring NO_COLOR and the terminal's profile.
func DetectColor() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

// Renderer writes styled lines to one output.
type Renderer struct {
	out   io.Writer
	color bool
}

// NewRenderer builds a renderer. Pass DetectColor() for color unless
// the output is not a terminal.
func NewRenderer(out io.Writer, color bool) *Renderer {
	return &Renderer{out: out, color: color}
}

// Report prints a cycle report: one marked summary line, then a line
// per failed task.
func (r *Renderer) Report(rep *sync.Report) {
	mark, style := "✓", okStyle
	switch {
	case len(rep.Failures) > 0:
		mark, style = "✗", failStyle
	case rep.Orphaned > 0:
		mark, style = "⚠", warnStyle
	}
	fmt.Fprintf(r.out, "%s %s\n", r.paint(style, mark), rep.Summary())

	for _, f := range rep.Failures {
		fmt.Fprintf(r.out, "  %s %s (%s): %v\n", r.paint(failStyle, "✗"), f.Task, f.File, f.Err)
	}
}

// Header prints a bold section title.
func (r *Renderer) Header(title string) {
	fmt.Fprintf(r.out, "%s\n", r.paint(lipgloss.NewStyle().Bold(true), title))
}

// Field prints one aligned name/value line under a header.
func (r *Renderer) Field(name, value string) {
	padded := fmt.Sprintf("%-10s", name)
	fmt.Fprintf(r.out, "  %s %s\n", r.paint(dimStyle, padded), value)
}

// Successf prints a ✓-marked line.
func (r *Renderer) Successf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, "%s %s\n", r.paint(okStyle, "✓"), fmt.Sprintf(format, args...))
}

// Warnf prints a ⚠-marked line.
func (r *Renderer) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, "%s %s\n", r.paint(warnStyle, "⚠"), fmt.Sprintf(format, args...))
}

// Failf prints a ✗-marked line.
func (r *Renderer) Failf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, "%s %s\n", r.paint(failStyle, "✗"), fmt.Sprintf(format, args...))
}

// paint styles s when color is on. Inputs are padded before painting
// so escape codes never break column alignment.
func (r *Renderer) paint(style lipgloss.Style, s string) string {
	if !r.color {
		return s
	}
	return style.Render(s)
}
