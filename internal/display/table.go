package display

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	TopLeft     string
	TopRight    string
	BottomLeft  string
	BottomRight string
	Horizontal  string
	Vertical    string
	Cross       string
	TopTee      string
	BottomTee   string
	LeftTee     string
	RightTee    string
}

// Border styles
var (
	ASCIIBorderStyle = BorderStyle{
		TopLeft: "+", TopRight: "+", BottomLeft: "+", BottomRight: "+",
		Horizontal: "-", Vertical: "|", Cross: "+",
		TopTee: "+", BottomTee: "+", LeftTee: "+", RightTee: "+",
	}

	RoundedBorderStyle = BorderStyle{
		TopLeft: "╭", TopRight: "╮", BottomLeft: "╰", BottomRight: "╯",
		Horizontal: "─", Vertical: "│", Cross: "┼",
		TopTee: "┬", BottomTee: "┴", LeftTee: "├", RightTee: "┤",
	}
)

// GetBorderStyleByName returns a border style by name
func GetBorderStyleByName(name string) (BorderStyle, error) {
	switch strings.ToLower(name) {
	case "", "ascii":
		return ASCIIBorderStyle, nil
	case "rounded":
		return RoundedBorderStyle, nil
	default:
		return BorderStyle{}, fmt.Errorf("invalid border style %q, must be one of: ascii, rounded", name)
	}
}

// Table renders rows of text as an aligned, bordered table
type Table struct {
	headers    []string
	rows       [][]string
	cellColors map[[2]int]Color
	alignments map[int]Alignment
	border     BorderStyle
	padding    int
	maxWidth   int
	colors     ColorSystem
}

// NewTable creates a table with ASCII borders and no width limit. A nil
// colors renders plain text.
func NewTable(colors ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		cellColors: make(map[[2]int]Color),
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		padding:    1,
		colors:     colors,
	}
}

// SetBorder sets the border characters
func (t *Table) SetBorder(border BorderStyle) {
	t.border = border
}

// SetMaxWidth limits the rendered width; zero disables the limit
func (t *Table) SetMaxWidth(width int) {
	t.maxWidth = width
}

// SetColumnAlignment sets the alignment for a specific column
func (t *Table) SetColumnAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// AddRow adds a row to the table
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetCellColor colors one cell of the most recently added row
func (t *Table) SetCellColor(column int, color Color) {
	if len(t.rows) == 0 {
		return
	}
	t.cellColors[[2]int{len(t.rows) - 1, column}] = color
}

// Render returns the formatted table as a string
func (t *Table) Render() string {
	widths := t.columnWidths()
	if len(widths) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(t.rule(widths, t.border.TopLeft, t.border.TopTee, t.border.TopRight))
	b.WriteString(t.renderRow(-1, t.headers, widths))
	b.WriteString(t.rule(widths, t.border.LeftTee, t.border.Cross, t.border.RightTee))
	for i, row := range t.rows {
		b.WriteString(t.renderRow(i, row, widths))
	}
	b.WriteString(t.rule(widths, t.border.BottomLeft, t.border.BottomTee, t.border.BottomRight))
	return b.String()
}

// RenderTo renders the table to the specified writer
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	measure := func(cells []string) {
		for i, cell := range cells {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	// Shrink the widest column until the table fits.
	if t.maxWidth > 0 {
		for t.totalWidth(widths) > t.maxWidth {
			widest := 0
			for i := range widths {
				if widths[i] > widths[widest] {
					widest = i
				}
			}
			if widths[widest] <= 8 {
				break
			}
			widths[widest]--
		}
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := len(widths) + 1
	for _, w := range widths {
		total += w + 2*t.padding
	}
	return total
}

func (t *Table) rule(widths []int, left, mid, right string) string {
	var b strings.Builder
	b.WriteString(left)
	for i, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2*t.padding))
		if i < len(widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	b.WriteString("\n")
	return b.String()
}

// renderRow renders one row; index -1 is the header row.
func (t *Table) renderRow(index int, cells []string, widths []int) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		cell = truncate(cell, w)

		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if t.colors != nil {
			if index < 0 {
				cell = t.colors.Colorize(cell, t.colors.Theme().Primary)
			} else if c, ok := t.cellColors[[2]int{index, i}]; ok {
				cell = t.colors.Colorize(cell, c)
			}
		}

		side := strings.Repeat(" ", t.padding)
		b.WriteString(side)
		if t.alignments[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(side)
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

// terminalWidth returns the width of w, or zero when w is not a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
