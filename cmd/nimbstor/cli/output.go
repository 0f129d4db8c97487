// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"text/tabwriter"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Output writes command results. On a terminal, tables are drawn with
// lipgloss and JSON is highlighted; otherwise both are plain text so
// scripts can parse them.
type Output struct {
	writer   io.Writer
	styled   bool
	renderer *lipgloss.Renderer
}

// NewOutput wraps w. Styling is enabled when w is a terminal and
// NO_COLOR is unset.
func NewOutput(w io.Writer) *Output {
	styled := false
	if file, ok := w.(*os.File); ok && term.IsTerminal(int(file.Fd())) && os.Getenv("NO_COLOR") == "" {
		styled = true
	}
	return newOutput(w, styled)
}

func newOutput(w io.Writer, styled bool) *Output {
	output := &Output{writer: w, styled: styled}
	if styled {
		profile := termenv.NewOutput(w).EnvColorProfile()
		output.renderer = lipgloss.NewRenderer(w, termenv.WithProfile(profile))
		output.renderer.SetColorProfile(profile)
	}
	return output
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer { return o.writer }

// Printf writes formatted text.
func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.writer, format, args...)
}

// Table writes rows under headers.
func (o *Output) Table(headers []string, rows [][]string) error {
	if !o.styled {
		tw := tabwriter.NewWriter(o.writer, 2, 0, 2, ' ', 0)
		writeRow(tw, headers)
		for _, row := range rows {
			writeRow(tw, row)
		}
		return tw.Flush()
	}

	headerStyle := o.renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("75")).Padding(0, 1)
	cellStyle := o.renderer.NewStyle().Padding(0, 1)
	rendered := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(o.renderer.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, column int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	_, err := fmt.Fprintln(o.writer, rendered.Render())
	return err
}

func writeRow(w io.Writer, cells []string) {
	for i, cell := range cells {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, cell)
	}
	fmt.Fprintln(w)
}

// JSON writes value as indented JSON. Nil slices render as [].
func (o *Output) JSON(value any) error {
	data, err := json.MarshalIndent(normalizeNilSlice(value), "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if o.styled {
		if err := quick.Highlight(o.writer, string(data), "json", "terminal256", "monokai"); err == nil {
			return nil
		}
	}
	_, err = o.writer.Write(data)
	return err
}

// JSONOutput is embedded in parameter structs to add --json.
type JSONOutput struct {
	OutputJSON bool `flag:"json" desc:"output as JSON"`
}

// EmitJSON writes result when --json is set and reports whether it
// did.
func (j *JSONOutput) EmitJSON(output *Output, result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, output.JSON(result)
}

func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}
