// Package report renders per-stage diagnostics for the operator.
package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Reporter writes one line per pipeline stage. A nil *Reporter discards.
type Reporter struct {
	w     io.Writer
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	stage lipgloss.Style
}

// New returns a Reporter writing to w. Colors are used only when w is a
// terminal that supports them.
func New(w io.Writer) *Reporter {
	r := lipgloss.NewRenderer(w)
	tag := r.NewStyle().Width(5).Bold(true)
	return &Reporter{
		w:     w,
		ok:    tag.Foreground(lipgloss.Color("2")),
		warn:  tag.Foreground(lipgloss.Color("3")),
		fail:  tag.Foreground(lipgloss.Color("1")),
		stage: r.NewStyle().Width(9).Faint(true),
	}
}

func (r *Reporter) line(tag lipgloss.Style, label, stage, msg string) {
	fmt.Fprintf(r.w, "%s %s %s\n", tag.Render(label), r.stage.Render(stage), msg)
}

// OK reports a stage that completed.
func (r *Reporter) OK(stage, format string, args ...any) {
	if r == nil {
		return
	}
	r.line(r.ok, "ok", stage, fmt.Sprintf(format, args...))
}

// Warn reports a non-fatal condition.
func (r *Reporter) Warn(stage, format string, args ...any) {
	if r == nil {
		return
	}
	r.line(r.warn, "warn", stage, fmt.Sprintf(format, args...))
}

// Fail reports the stage that ended the run.
func (r *Reporter) Fail(stage string, err error) {
	if r == nil {
		return
	}
	r.line(r.fail, "FAIL", stage, err.Error())
}
