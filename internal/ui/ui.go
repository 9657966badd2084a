// Package ui renders user-facing terminal output: status glyphs, tables,
// panels and prefixed log lines.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
)

// Glyph is a one-character status marker.
type Glyph string

const (
	GlyphOK      Glyph = "✓"
	GlyphFail    Glyph = "✗"
	GlyphPending Glyph = "○"
	GlyphRunning Glyph = "●"
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorFail  = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#6C7A89")

	// prefix colours cycle across services in attached log output
	prefixPalette = []lipgloss.Color{"#20B9B4", "#F39C12", "#9B59B6", "#3498DB", "#E67E22", "#1ABC9C", "#E84393"}
)

// Printer writes styled output. Colour is dropped when the destination is
// not a terminal or NO_COLOR is set.
type Printer struct {
	out   io.Writer
	err   io.Writer
	color bool
	quiet bool

	ok, warn, fail, muted, bold lipgloss.Style
	box                         lipgloss.Style
}

// New returns a Printer for out/errOut, detecting colour support on out.
func New(out, errOut io.Writer) *Printer {
	return NewWithColor(out, errOut, colorEnabled(out))
}

// NewWithColor returns a Printer with colour forced on or off.
func NewWithColor(out, errOut io.Writer, color bool) *Printer {
	p := &Printer{out: out, err: errOut, color: color}
	p.ok = lipgloss.NewStyle().Foreground(colorOK)
	p.warn = lipgloss.NewStyle().Foreground(colorWarn)
	p.fail = lipgloss.NewStyle().Foreground(colorFail)
	p.muted = lipgloss.NewStyle().Foreground(colorMuted)
	p.bold = lipgloss.NewStyle().Bold(true)
	p.box = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorFail).Padding(0, 1)
	return p
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SetQuiet suppresses informational lines; results and errors still print.
func (p *Printer) SetQuiet(q bool) { p.quiet = q }

// Out is the underlying stdout writer.
func (p *Printer) Out() io.Writer { return p.out }

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// Glyph renders g in its colour.
func (p *Printer) Glyph(g Glyph) string {
	switch g {
	case GlyphOK, GlyphRunning:
		return p.style(p.ok, string(g))
	case GlyphFail:
		return p.style(p.fail, string(g))
	default:
		return p.style(p.muted, string(g))
	}
}

// Line prints "<glyph> <name>  <detail>".
func (p *Printer) Line(g Glyph, name, detail string) {
	if detail != "" {
		detail = "  " + p.style(p.muted, detail)
	}
	fmt.Fprintf(p.out, "%s %s%s\n", p.Glyph(g), name, detail)
}

// Title prints a bold heading.
func (p *Printer) Title(text string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.style(p.bold, text))
}

// Info prints a plain informational line.
func (p *Printer) Info(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Muted prints a dimmed line.
func (p *Printer) Muted(format string, args ...any) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.out, p.style(p.muted, fmt.Sprintf(format, args...)))
}

// Warn prints a warning to stderr.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.err, p.style(p.warn, "warning: "+fmt.Sprintf(format, args...)))
}

// Panel prints a boxed error panel with a title and hint lines to stderr.
func (p *Printer) Panel(title string, lines ...string) {
	body := p.style(p.fail.Bold(true), title)
	if len(lines) > 0 {
		body += "\n" + strings.Join(lines, "\n")
	}
	if !p.color {
		fmt.Fprintln(p.err, body)
		return
	}
	fmt.Fprintln(p.err, p.box.Render(body))
}

// Summary prints the succeeded/skipped/failed counts of a batch.
func (p *Printer) Summary(succeeded, skipped, failed int) {
	parts := []string{
		p.style(p.ok, fmt.Sprintf("%d succeeded", succeeded)),
		p.style(p.muted, fmt.Sprintf("%d skipped", skipped)),
	}
	failedText := fmt.Sprintf("%d failed", failed)
	if failed > 0 {
		failedText = p.style(p.fail, failedText)
	}
	parts = append(parts, failedText)
	fmt.Fprintf(p.out, "\n%s\n", strings.Join(parts, ", "))
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table renders rows under header.
func (p *Printer) Table(header []string, rows [][]string) {
	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	if !p.color {
		w.Style().Options.DrawBorder = false
		w.Style().Options.SeparateColumns = false
		w.Style().Options.SeparateHeader = false
	}
	h := make(table.Row, len(header))
	for i, c := range header {
		h[i] = c
	}
	w.AppendHeader(h)
	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		w.AppendRow(row)
	}
	fmt.Fprintln(p.out, w.Render())
}

// Prefixer colours a per-service prefix for interleaved log lines.
type Prefixer struct {
	p      *Printer
	width  int
	styles map[string]lipgloss.Style
}

// NewPrefixer assigns each name a stable colour from the palette.
func (p *Printer) NewPrefixer(names []string) *Prefixer {
	px := &Prefixer{p: p, styles: make(map[string]lipgloss.Style, len(names))}
	for i, n := range names {
		if len(n) > px.width {
			px.width = len(n)
		}
		px.styles[n] = lipgloss.NewStyle().Foreground(prefixPalette[i%len(prefixPalette)])
	}
	return px
}

// Print writes "name | line".
func (px *Prefixer) Print(name, line string) {
	prefix := fmt.Sprintf("%-*s |", px.width, name)
	fmt.Fprintf(px.p.out, "%s %s\n", px.p.style(px.styles[name], prefix), line)
}

// Uptime renders a duration the way status shows it, e.g. "3 minutes".
func Uptime(started, now time.Time) string {
	if started.IsZero() {
		return "-"
	}
	return strings.TrimSpace(humanize.RelTime(started, now, "", ""))
}

// Ago renders a timestamp relative to now, e.g. "5 minutes ago".
func Ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// Bytes renders a size, e.g. "1.2 MB".
func Bytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// Dash returns "-" for empty values.
func Dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
