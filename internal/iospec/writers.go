package iospec

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LabelReplacer substitutes every occurrence of a fixed label with the
// string form of a scalar value. Grounded on original_source's
// LabelReplacer (tools/file_parser.py).
type LabelReplacer struct {
	Label string
}

func (w LabelReplacer) Write(path string, value any) error {
	v, err := scalarOf(value)
	if err != nil {
		return err
	}
	return rewriteLines(path, func(line string) string {
		return strings.ReplaceAll(line, w.Label, formatFloat(v))
	})
}

// ArrayLabelReplacer substitutes every occurrence of a fixed label with a
// delimiter-joined vector of values.
type ArrayLabelReplacer struct {
	Label string
	Delim string // defaults to ","
}

func (w ArrayLabelReplacer) Write(path string, value any) error {
	v, err := vectorOf(value)
	if err != nil {
		return err
	}
	delim := w.Delim
	if delim == "" {
		delim = ","
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	joined := strings.Join(parts, delim)
	return rewriteLines(path, func(line string) string {
		return strings.ReplaceAll(line, w.Label, joined)
	})
}

// TableWriter replaces one field per row in rows StartRow..EndRow of a
// table-like file, keeping header/footer rows and any leading/trailing
// columns untouched. The value vector holds one entry per row; the columns
// StartCol..EndCol of a row are replaced together by that single value, so
// a region more than one column wide is not filled cell by cell.
// Grounded on original_source's TableWriter.
type TableWriter struct {
	Delim      string // separator re-inserted between fields, default "  "
	StartRow   int
	EndRow     int // 0 means "to the end"
	StartCol   int
	EndCol     int // 0 means "to the end"
	DelimChars string
}

func (w TableWriter) Write(path string, value any) error {
	v := vectorFlatten(value)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("table writer: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	trailingNL := strings.HasSuffix(string(data), "\n")
	if trailingNL {
		lines = lines[:len(lines)-1]
	}

	end := w.EndRow
	if end == 0 || end > len(lines) {
		end = len(lines)
	}
	body := lines[w.StartRow:end]
	if len(body) != len(v) {
		return fmt.Errorf("table writer: data (%d rows) and file region (%d rows) mismatch", len(v), len(body))
	}

	delim := w.Delim
	if delim == "" {
		delim = "  "
	}
	for i, row := range body {
		norm := row
		for _, c := range w.DelimChars {
			norm = strings.ReplaceAll(norm, string(c), " ")
		}
		fields := strings.Fields(norm)
		endCol := w.EndCol
		if endCol == 0 || endCol > len(fields) {
			endCol = len(fields)
		}
		var b strings.Builder
		for _, f := range fields[:w.StartCol] {
			b.WriteString(f)
			b.WriteString(delim)
		}
		b.WriteString(formatFloat(v[i]))
		for _, f := range fields[endCol:] {
			b.WriteString(delim)
			b.WriteString(f)
		}
		lines[w.StartRow+i] = b.String()
	}

	out := strings.Join(lines, "\n")
	if trailingNL {
		out += "\n"
	}
	return os.WriteFile(path, []byte(out), 0o644)
}

func rewriteLines(path string, transform func(string) string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("writer: %w", err)
	}
	lines := strings.SplitAfter(string(data), "\n")
	for i, l := range lines {
		lines[i] = transform(l)
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644)
}

func scalarOf(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case []float64:
		if len(v) == 1 {
			return v[0], nil
		}
		return 0, fmt.Errorf("writer: expected scalar, got %d-element vector", len(v))
	default:
		return 0, fmt.Errorf("writer: unsupported value type %T", value)
	}
}

func vectorOf(value any) ([]float64, error) {
	switch v := value.(type) {
	case float64:
		return []float64{v}, nil
	case []float64:
		return v, nil
	default:
		return nil, fmt.Errorf("writer: unsupported value type %T", value)
	}
}

func vectorFlatten(value any) []float64 {
	v, err := vectorOf(value)
	if err != nil {
		return nil
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
