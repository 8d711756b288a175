package iospec

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// PreStringHandler reads (and can write) delimiter-separated values on the
// line beginning with a fixed label (the "pre-string"). Grounded on
// original_source's PreStringHandler (tools/file_parser.py).
type PreStringHandler struct {
	Label string
	Delim string // defaults to ","
}

func (p PreStringHandler) delim() string {
	if p.Delim == "" {
		return ","
	}
	return p.Delim
}

func (p PreStringHandler) Read(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, fmt.Errorf("pre-string handler: %w", err)
	}
	var payload string
	found := false
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, p.Label) {
			payload = strings.TrimSpace(strings.TrimPrefix(line, p.Label))
			found = true
		}
	}
	if !found {
		return Value{}, fmt.Errorf("pre-string handler: label %q not found in %s", p.Label, path)
	}
	fields := strings.Split(payload, p.delim())
	nums := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Value{}, fmt.Errorf("pre-string handler: parse %q in %s: %w", f, path, err)
		}
		nums = append(nums, v)
	}
	if len(nums) == 0 {
		return Value{}, fmt.Errorf("pre-string handler: no values after label %q in %s", p.Label, path)
	}
	if len(nums) == 1 {
		return Scalar(nums[0]), nil
	}
	return Vector(nums), nil
}

func (p PreStringHandler) Write(path string, value any) error {
	v, err := vectorOf(value)
	if err != nil {
		return err
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	newLine := p.Label + strings.Join(parts, p.delim())
	return rewriteLines(path, func(line string) string {
		if strings.HasPrefix(line, p.Label) {
			nl := newLine
			if strings.HasSuffix(line, "\n") {
				nl += "\n"
			}
			return nl
		}
		return line
	})
}

// TableReader slices a rectangular region out of a whitespace- (or
// Delim-translated) separated table file, optionally skipping header/footer
// rows, and returns a single cell, a row, a column, or the whole table.
// Row/Col == -1 selects "no selection" (return the whole row/column/table);
// grounded on original_source's TableReader.
type TableReader struct {
	Row, Col       int // -1 means "entire column/row"
	StartRow       int
	EndRow         int // 0 means "to the end"
	StartCol       int
	EndCol         int // 0 means "to the end"
	Delim          *regexp.Regexp // column splitter, default \s+
	SameLineOffset int            // for same_line style readers: not used by table form, kept for parity
}

func (r TableReader) splitter() *regexp.Regexp {
	if r.Delim != nil {
		return r.Delim
	}
	return regexp.MustCompile(`\s+`)
}

func (r TableReader) Read(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, fmt.Errorf("table reader: %w", err)
	}
	allLines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	end := r.EndRow
	if end == 0 || end > len(allLines) {
		end = len(allLines)
	}
	lines := allLines[r.StartRow:end]

	var table [][]float64
	numCol := -1
	splitter := r.splitter()
	for _, line := range lines {
		fields := splitter.Split(strings.TrimSpace(line), -1)
		endCol := r.EndCol
		if endCol == 0 || endCol > len(fields) {
			endCol = len(fields)
		}
		fields = fields[r.StartCol:endCol]
		if numCol == -1 {
			numCol = len(fields)
		} else if numCol != len(fields) {
			return Value{}, fmt.Errorf("table reader: %s is not in table format", path)
		}
		row := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Value{}, fmt.Errorf("table reader: parse %q in %s: %w", f, path, err)
			}
			row[i] = v
		}
		table = append(table, row)
	}

	switch {
	case r.Row == -1 && r.Col == -1:
		return Vector(flatten(table)), nil
	case r.Row == -1:
		col := make([]float64, len(table))
		for i, row := range table {
			col[i] = row[r.Col]
		}
		return Vector(col), nil
	case r.Col == -1:
		row := resolveIndex(r.Row, len(table))
		return Vector(append([]float64(nil), table[row]...)), nil
	default:
		row := resolveIndex(r.Row, len(table))
		return Scalar(table[row][r.Col]), nil
	}
}

func resolveIndex(i, n int) int {
	if i < 0 {
		return n + i
	}
	return i
}

func flatten(table [][]float64) []float64 {
	var out []float64
	for _, row := range table {
		out = append(out, row...)
	}
	return out
}
