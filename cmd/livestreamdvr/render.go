package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"livestreamdvr/internal/vod"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

// renderTable draws rows with a rounded style. Short rows are padded.
func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	if len(headers) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	configs := make([]table.ColumnConfig, len(headers))
	for i, h := range headers {
		header[i] = h
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render() + "\n"
}

// shouldColorize reports whether writer is an interactive terminal.
func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// stateLabel renders a VOD's state plus its outcome flags.
func stateLabel(v *vod.VOD, colorize bool) string {
	label := string(v.State())
	color := text.Colors{text.FgBlue}
	switch {
	case v.Failed:
		label += " (failed)"
		color = text.Colors{text.FgRed}
	case v.Stopped:
		label += " (stopped)"
		color = text.Colors{text.FgYellow}
	case v.NeedsRecovery != vod.RecoveryNone:
		label += " (needs " + string(v.NeedsRecovery) + ")"
		color = text.Colors{text.FgYellow}
	case v.State() == vod.StateFinalized:
		color = text.Colors{text.FgGreen}
	}
	if !colorize {
		return label
	}
	return color.Sprint(label)
}

// okLabel renders a pass/fail cell.
func okLabel(ok bool, yes, no string, colorize bool) string {
	if !colorize {
		if ok {
			return yes
		}
		return no
	}
	if ok {
		return text.FgGreen.Sprint(yes)
	}
	return text.FgRed.Sprint(no)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressLine redraws a single status line on a terminal. On other writers
// it stays silent.
type progressLine struct {
	out   io.Writer
	label string
	tty   bool
	last  int
}

func newProgressLine(out io.Writer, label string) *progressLine {
	return &progressLine{out: out, label: label, tty: shouldColorize(out), last: -1}
}

func (p *progressLine) update(fraction float64) {
	if !p.tty {
		return
	}
	pct := int(fraction * 1000)
	if pct == p.last {
		return
	}
	p.last = pct
	width := 30
	filled := int(fraction * float64(width))
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", width-filled)
	fmt.Fprintf(p.out, "\r%s [%s] %5.1f%%", p.label, bar, fraction*100)
}

func (p *progressLine) done() {
	if p.tty && p.last >= 0 {
		fmt.Fprintln(p.out)
	}
}
