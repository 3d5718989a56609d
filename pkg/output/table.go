package output

import (
	"strings"
)

// Table renders box-drawing tables for topology reports. Counter columns can
// be right-aligned so packet and byte totals line up; missing cells render as
// a dash rather than empty space.
type Table struct {
	headers    []string
	rows       [][]string
	widths     []int
	rightAlign []bool
}

func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers:    headers,
		widths:     widths,
		rightAlign: make([]bool, len(headers)),
	}
}

// AlignRight marks columns, by index, as right-aligned.
func (t *Table) AlignRight(cols ...int) *Table {
	for _, c := range cols {
		if c >= 0 && c < len(t.rightAlign) {
			t.rightAlign[c] = true
		}
	}
	return t
}

func (t *Table) AddRow(cols ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		cell := "-"
		if i < len(cols) && cols[i] != "" {
			cell = cols[i]
		}
		row[i] = cell
		if w := len(stripAnsi(cell)); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	var sb strings.Builder

	sb.WriteString(t.borderLine("┌", "┬", "┐"))

	styled := make([]string, len(t.headers))
	for i, h := range t.headers {
		styled[i] = ColorizeMulti([]Color{Bold, BrightWhite}, h)
	}
	sb.WriteString(t.cellLine(styled))

	sb.WriteString(t.borderLine("├", "┼", "┤"))
	for _, row := range t.rows {
		sb.WriteString(t.cellLine(row))
	}
	sb.WriteString(strings.TrimSuffix(t.borderLine("└", "┴", "┘"), "\n"))

	return sb.String()
}

func (t *Table) borderLine(left, mid, right string) string {
	parts := make([]string, len(t.widths))
	for i, w := range t.widths {
		parts[i] = strings.Repeat("─", w+2)
	}
	return Colorize(Cyan, left+strings.Join(parts, mid)+right) + "\n"
}

func (t *Table) cellLine(cells []string) string {
	sep := Colorize(Cyan, "│")

	var sb strings.Builder
	sb.WriteString(sep)
	for i, cell := range cells {
		pad := t.widths[i] - len(stripAnsi(cell))
		if pad < 0 {
			pad = 0
		}
		if t.rightAlign[i] {
			sb.WriteString(" " + strings.Repeat(" ", pad) + cell + " ")
		} else {
			sb.WriteString(" " + cell + strings.Repeat(" ", pad) + " ")
		}
		sb.WriteString(sep)
	}
	sb.WriteString("\n")
	return sb.String()
}
