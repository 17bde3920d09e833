package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Table renders rows as a boxed text table
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
}

func NewTable(w io.Writer, headers ...string) *Table {
	return &Table{writer: w, headers: headers}
}

func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table; an empty table prints only the header
func (t *Table) Render() {
	widths := t.widths()
	separator := separatorLine(widths)

	fmt.Fprintln(t.writer, separator)
	fmt.Fprintln(t.writer, formatRow(t.headers, widths))
	fmt.Fprintln(t.writer, separator)
	for _, row := range t.rows {
		fmt.Fprintln(t.writer, formatRow(row, widths))
	}
	if len(t.rows) > 0 {
		fmt.Fprintln(t.writer, separator)
	}
}

// widths measures columns in runes so accented names stay aligned
func (t *Table) widths() []int {
	widths := make([]int, len(t.headers))
	measure := func(row []string) {
		for i, cell := range row {
			if i < len(widths) && utf8.RuneCountInString(cell) > widths[i] {
				widths[i] = utf8.RuneCountInString(cell)
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	for i := range widths {
		widths[i] = max(widths[i], 1)
	}
	return widths
}

func separatorLine(widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		parts[i] = strings.Repeat("-", w+2)
	}
	return "+" + strings.Join(parts, "+") + "+"
}

func formatRow(row []string, widths []int) string {
	parts := make([]string, len(widths))
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		parts[i] = " " + cell + strings.Repeat(" ", w-utf8.RuneCountInString(cell)+1)
	}
	return "|" + strings.Join(parts, "|") + "|"
}
