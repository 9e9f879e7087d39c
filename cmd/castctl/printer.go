package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// printer writes REPL output, colorizing status lines when stdout is a
// real terminal. Grounded on ValiantChip-osp/osp.go's plain fmt.Print*
// calls, enriched with go-isatty/go-colorable the way a CLI from the rest
// of the retrieved pack would (SPEC_FULL.md §2.3).
type printer struct {
	out       io.Writer
	colorized bool
}

func newPrinter() *printer {
	if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return &printer{out: colorable.NewColorableStdout(), colorized: true}
	}
	return &printer{out: os.Stdout}
}

const (
	ansiGreen  = "\x1b[32m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

func (p *printer) color(code, s string) string {
	if !p.colorized {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) Info(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) OK(format string, args ...any) {
	fmt.Fprintln(p.out, p.color(ansiGreen, fmt.Sprintf(format, args...)))
}

func (p *printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.out, p.color(ansiYellow, fmt.Sprintf(format, args...)))
}

func (p *printer) Error(format string, args ...any) {
	fmt.Fprintln(p.out, p.color(ansiRed, fmt.Sprintf(format, args...)))
}
