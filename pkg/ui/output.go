package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"
)

// Printer writes user-facing messages, degrading to plain text when
// stdout is not a terminal.
type Printer struct {
	out   io.Writer
	icons Icons
	tty   bool
}

func NewPrinter(icons Icons) *Printer {
	return &Printer{
		out:   os.Stdout,
		icons: icons,
		tty:   isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
}

func (p *Printer) Icons() Icons { return p.icons }

func (p *Printer) Println(a ...interface{}) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Printf(format string, a ...interface{}) {
	fmt.Fprintf(p.out, format, a...)
}

func (p *Printer) Success(msg string) {
	p.status(p.icons.Success(), SuccessStyle, msg)
}

func (p *Printer) Warning(msg string) {
	p.status(p.icons.Warning(), WarningStyle, msg)
}

func (p *Printer) Error(msg string) {
	p.status(p.icons.Error(), ErrorStyle, msg)
}

func (p *Printer) Info(msg string) {
	p.status(p.icons.Info(), MutedStyle, msg)
}

func (p *Printer) Header(msg string) {
	if p.tty {
		fmt.Fprintln(p.out, HeaderStyle.Render(msg))
		return
	}
	fmt.Fprintln(p.out, msg)
}

// Bold wraps s in bold when writing to a terminal.
func (p *Printer) Bold(s string) string {
	if !p.tty {
		return s
	}
	return pterm.Bold.Sprint(s)
}

// Table renders rows as an aligned table with a header. Off a terminal
// the rows degrade to tab-separated lines.
func (p *Printer) Table(header []string, rows [][]string) {
	if p.tty {
		data := append(pterm.TableData{header}, rows...)
		err := pterm.DefaultTable.
			WithWriter(p.out).
			WithHasHeader().
			WithData(data).
			Render()
		if err == nil {
			return
		}
	}
	fmt.Fprintln(p.out, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(p.out, strings.Join(row, "\t"))
	}
}

func (p *Printer) status(icon string, style interface{ Render(...string) string }, msg string) {
	if p.tty {
		fmt.Fprintf(p.out, "%s %s\n", icon, style.Render(msg))
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", icon, msg)
}
