package io

import (
	"fmt"
	"path/filepath"
	"strings"

	"toxfetch/internal/extract"
	"toxfetch/internal/logging"
	"toxfetch/internal/model"
)

// Columns appended to the input table.
const (
	ColumnHazards     = "Hazards"
	ColumnPrecautions = "Precautions"
)

// SchemaMismatchError reports that the results cannot be aligned with the input table.
type SchemaMismatchError struct {
	// Row is the 1-based data row the mismatch was found at, 0 when not row specific.
	Row    int
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("schema mismatch at row %d: %s", e.Row, e.Reason)
	}
	return "schema mismatch: " + e.Reason
}

// AugmentedTableWriter implements the RecordWriter interface by writing the
// input table back with Hazards and Precautions columns. Record i fills
// row i; the output is XLSX for a .xlsx path and CSV otherwise.
type AugmentedTableWriter struct {
	table     *Table
	casColumn string
	separator string
	replace   bool
	delimiter rune
}

// NewAugmentedTableWriter creates a writer for table. separator joins the
// codes of one cell; replace allows overwriting existing code columns.
func NewAugmentedTableWriter(table *Table, casColumn, separator string, replace bool, delimiter string) (*AugmentedTableWriter, error) {
	if table == nil {
		return nil, fmt.Errorf("augmented table output requires an input table")
	}
	delim, err := parseDelimiter(delimiter)
	if err != nil {
		return nil, err
	}
	return &AugmentedTableWriter{
		table:     table,
		casColumn: casColumn,
		separator: separator,
		replace:   replace,
		delimiter: delim,
	}, nil
}

// CheckColumns verifies the input table can take the code columns. It is
// called before any lookup so a doomed run fails early.
func (aw *AugmentedTableWriter) CheckColumns() error {
	if aw.table.ColumnIndex(aw.casColumn) < 0 {
		return &SchemaMismatchError{Reason: fmt.Sprintf("input table has no column '%s'", aw.casColumn)}
	}
	if aw.replace {
		return nil
	}
	for _, c := range []string{ColumnHazards, ColumnPrecautions} {
		if aw.table.ColumnIndex(c) >= 0 {
			return &SchemaMismatchError{Reason: fmt.Sprintf("input table already has a '%s' column (set replaceColumns to overwrite it)", c)}
		}
	}
	return nil
}

// Write saves the augmented table to filePath. Nothing is written when the
// records do not line up with the table rows.
func (aw *AugmentedTableWriter) Write(records []model.Record, filePath string) error {
	logging.Logf(logging.Debug, "AugmentedTableWriter writing %d rows to file: %s", len(records), filePath)
	if err := aw.CheckColumns(); err != nil {
		return err
	}
	if len(records) != len(aw.table.Rows) {
		return &SchemaMismatchError{Reason: fmt.Sprintf("%d results for %d input rows", len(records), len(aw.table.Rows))}
	}
	casIdx := aw.table.ColumnIndex(aw.casColumn)
	for i, rec := range records {
		if got := strings.TrimSpace(aw.table.Rows[i][casIdx]); got != rec.CAS {
			return &SchemaMismatchError{Row: i + 1, Reason: fmt.Sprintf("result for CAS '%s' does not match input CAS '%s'", rec.CAS, got)}
		}
	}

	headers := append([]string(nil), aw.table.Headers...)
	hIdx := columnOrAppend(&headers, ColumnHazards)
	pIdx := columnOrAppend(&headers, ColumnPrecautions)

	rows := make([][]string, len(aw.table.Rows))
	for i, src := range aw.table.Rows {
		row := padRow(append([]string(nil), src...), len(headers))
		row[hIdx], row[pIdx] = aw.cells(records[i])
		rows[i] = row
	}

	var err error
	if strings.EqualFold(filepath.Ext(filePath), ".xlsx") {
		err = writeXLSXTable(filePath, aw.table.Sheet, headers, rows)
	} else {
		err = writeCSVTable(filePath, aw.delimiter, headers, rows)
	}
	if err != nil {
		return fmt.Errorf("AugmentedTableWriter: %w", err)
	}
	logging.Logf(logging.Info, "Dataset written to %s", filePath)
	return nil
}

// cells renders the code columns of one row. A compound PubChem has no
// match for gets the sentinel; any other failure leaves the cells empty.
func (aw *AugmentedTableWriter) cells(rec model.Record) (hazards, precautions string) {
	if rec.IsError() || rec.Status == model.StatusSkipped {
		if rec.Status == model.StatusNotFound {
			return model.NoDataFound, model.NoDataFound
		}
		return "", ""
	}
	return extract.JoinCodes(rec.Hazards, aw.separator), extract.JoinCodes(rec.Precautions, aw.separator)
}

// Close implements the RecordWriter interface (no-op).
func (aw *AugmentedTableWriter) Close() error {
	return nil
}

func columnOrAppend(headers *[]string, name string) int {
	for i, h := range *headers {
		if strings.TrimSpace(h) == name {
			return i
		}
	}
	*headers = append(*headers, name)
	return len(*headers) - 1
}
