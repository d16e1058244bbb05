package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// printer writes aligned name/value output, colored when stdout is a terminal
type printer struct {
	w     io.Writer
	name  *color.Color
	good  *color.Color
	bad   *color.Color
	width int
}

func newPrinter(cmd *cobra.Command) *printer {
	w := cmd.OutOrStdout()

	colored := false
	width := 80
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		colored = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = cols
		}
	}
	if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
		colored = false
	}

	p := &printer{
		w:     w,
		name:  color.New(color.FgCyan),
		good:  color.New(color.FgGreen),
		bad:   color.New(color.FgRed, color.Bold),
		width: width,
	}
	for _, c := range []*color.Color{p.name, p.good, p.bad} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) field(name string, value any) {
	fmt.Fprintf(p.w, "%s %v\n", p.name.Sprintf("%-14s", name), value)
}

// check prints a pass/fail line
func (p *printer) check(ok bool, name string, value any) {
	mark := p.good.Sprint("ok  ")
	if !ok {
		mark = p.bad.Sprint("FAIL")
	}
	fmt.Fprintf(p.w, "%s %s %v\n", mark, p.name.Sprintf("%-14s", name), value)
}

func (p *printer) rule() {
	n := p.width
	if n > 60 {
		n = 60
	}
	for i := 0; i < n; i++ {
		fmt.Fprint(p.w, "-")
	}
	fmt.Fprintln(p.w)
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
