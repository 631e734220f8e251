package io

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Table is an input table held in memory: a header row and the data rows in
// file order. Rows are padded to the header width by the readers.
type Table struct {
	Headers []string
	Rows    [][]string
	// Sheet is the worksheet the table was read from (XLSX only).
	Sheet string
}

// ColumnIndex returns the position of the named column, or -1.
// Header names are compared after trimming surrounding spaces.
func (t *Table) ColumnIndex(name string) int {
	name = strings.TrimSpace(name)
	for i, h := range t.Headers {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	return -1
}

// Column returns the cells of the named column.
func (t *Table) Column(name string) ([]string, error) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column '%s' not found (available: %s)", name, strings.Join(t.Headers, ", "))
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out, nil
}

// RowMap returns row i keyed by header. Columns with an empty header are left out.
func (t *Table) RowMap(i int) map[string]string {
	row := t.Rows[i]
	m := make(map[string]string, len(t.Headers))
	for j, h := range t.Headers {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if j < len(row) {
			m[h] = row[j]
		} else {
			m[h] = ""
		}
	}
	return m
}

// padRow extends row to width with empty cells.
func padRow(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}

// ensureDir creates the parent directory of filePath.
func ensureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
