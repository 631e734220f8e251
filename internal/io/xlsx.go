package io

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"toxfetch/internal/logging"
	"toxfetch/internal/model"
)

const (
	// SummarySheet is the first sheet of the workbook export.
	SummarySheet = "Summary"
	// DefaultTableSheet names the sheet of an augmented table written as XLSX
	// when the input had none.
	DefaultTableSheet = "Sheet1"

	maxSheetNameLen = 31
	maxColumnWidth  = 100
)

// XLSXReader implements the TableReader interface for Excel (.xlsx) files.
type XLSXReader struct {
	sheetName  string
	sheetIndex *int
}

// NewXLSXReader creates a new XLSXReader with sheet preferences.
func NewXLSXReader(sheetName string, sheetIndex *int) *XLSXReader {
	return &XLSXReader{
		sheetName:  sheetName,
		sheetIndex: sheetIndex,
	}
}

// Read loads the selected sheet (by name, else by index, else the active
// sheet) of an Excel file. The first row is the header.
func (xr *XLSXReader) Read(filePath string) (*Table, error) {
	logging.Logf(logging.Debug, "XLSXReader reading file: %s (SheetName: '%s', SheetIndex: %v)", filePath, xr.sheetName, xr.sheetIndex)

	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to open file '%s': %w", filePath, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logging.Logf(logging.Error, "XLSXReader failed to close file '%s': %v", filePath, err)
		}
	}()

	targetSheetName, err := xr.selectSheet(f, filePath)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(targetSheetName)
	if err != nil {
		return nil, fmt.Errorf("XLSXReader failed to get rows from sheet '%s' in '%s': %w", targetSheetName, filePath, err)
	}
	if len(rows) < 1 {
		return nil, fmt.Errorf("XLSXReader: sheet '%s' in '%s' is empty (no header row)", targetSheetName, filePath)
	}

	headers := rows[0]
	table := &Table{Headers: headers, Rows: make([][]string, 0, len(rows)-1), Sheet: targetSheetName}
	for i, row := range rows[1:] {
		if len(row) > len(headers) {
			logging.Logf(logging.Warning, "XLSXReader: Row %d of sheet '%s' has %d cells, expected %d; extra cells are dropped", i+2, targetSheetName, len(row), len(headers))
			row = row[:len(headers)]
		}
		table.Rows = append(table.Rows, padRow(row, len(headers)))
	}

	logging.Logf(logging.Info, "XLSXReader successfully loaded %d rows from sheet '%s' in %s", len(table.Rows), targetSheetName, filePath)
	return table, nil
}

func (xr *XLSXReader) selectSheet(f *excelize.File, filePath string) (string, error) {
	if xr.sheetName != "" {
		for _, name := range f.GetSheetList() {
			if name == xr.sheetName {
				logging.Logf(logging.Debug, "XLSXReader: Using specified sheet name '%s'", name)
				return name, nil
			}
		}
		return "", fmt.Errorf("XLSXReader: specified sheet name '%s' not found in '%s'", xr.sheetName, filePath)
	}
	if xr.sheetIndex != nil {
		name := f.GetSheetName(*xr.sheetIndex)
		if name == "" {
			sheetCount := len(f.GetSheetList())
			return "", fmt.Errorf("XLSXReader: specified sheet index %d is out of bounds (0 to %d) in '%s'", *xr.sheetIndex, sheetCount-1, filePath)
		}
		logging.Logf(logging.Debug, "XLSXReader: Using specified sheet index %d ('%s')", *xr.sheetIndex, name)
		return name, nil
	}
	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		name = f.GetSheetName(0)
	}
	if name == "" {
		return "", fmt.Errorf("XLSXReader: file '%s' contains no sheets", filePath)
	}
	logging.Logf(logging.Debug, "XLSXReader: Using active sheet '%s' as default", name)
	return name, nil
}

// writeXLSXTable writes a header row and the data rows to a single sheet.
func writeXLSXTable(filePath, sheet string, headers []string, rows [][]string) error {
	if sheet == "" {
		sheet = DefaultTableSheet
	}
	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", filePath, err)
	}
	f := excelize.NewFile()
	defer f.Close()
	if sheet != DefaultTableSheet {
		if err := f.SetSheetName(DefaultTableSheet, sheet); err != nil {
			return fmt.Errorf("failed to name sheet '%s': %w", sheet, err)
		}
	}

	if err := f.SetSheetRow(sheet, "A1", toCells(headers)); err != nil {
		return fmt.Errorf("failed to write header row to sheet '%s': %w", sheet, err)
	}
	for i, row := range rows {
		startCell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to calculate cell coordinates for row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(sheet, startCell, toCells(row)); err != nil {
			return fmt.Errorf("failed to write data row %d to sheet '%s': %w", i+1, sheet, err)
		}
	}
	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("failed to save file '%s': %w", filePath, err)
	}
	return nil
}

func toCells(values []string) *[]interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return &cells
}

// WorkbookWriter implements the RecordWriter interface for the Excel export:
// a Summary sheet with one flattened row per record, followed by one sheet
// per compound.
type WorkbookWriter struct{}

// NewWorkbookWriter creates a new WorkbookWriter.
func NewWorkbookWriter() *WorkbookWriter {
	return &WorkbookWriter{}
}

// Write saves the workbook to filePath.
func (ww *WorkbookWriter) Write(records []model.Record, filePath string) error {
	logging.Logf(logging.Debug, "WorkbookWriter writing %d records to file: %s", len(records), filePath)
	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("WorkbookWriter failed to create directory for '%s': %w", filePath, err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(DefaultTableSheet, SummarySheet); err != nil {
		return fmt.Errorf("WorkbookWriter failed to create sheet '%s': %w", SummarySheet, err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("WorkbookWriter failed to create style: %w", err)
	}

	if err := writeSummarySheet(f, bold, records); err != nil {
		return err
	}

	names := newSheetNamer(SummarySheet)
	for _, rec := range records {
		sheet := names.next(rec.CAS)
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("WorkbookWriter failed to create sheet '%s' for CAS '%s': %w", sheet, rec.CAS, err)
		}
		sw := &sheetWriter{f: f, sheet: sheet, bold: bold, widths: map[int]int{}}
		writeCompoundSheet(sw, rec)
		if sw.err != nil {
			return fmt.Errorf("WorkbookWriter failed to write sheet '%s': %w", sheet, sw.err)
		}
		if err := sw.applyWidths(); err != nil {
			return fmt.Errorf("WorkbookWriter failed to size columns of sheet '%s': %w", sheet, err)
		}
	}
	f.SetActiveSheet(0)

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("WorkbookWriter failed to save file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Info, "Data exported to Excel file: %s", filePath)
	return nil
}

// Close implements the RecordWriter interface.
func (ww *WorkbookWriter) Close() error {
	logging.Logf(logging.Debug, "WorkbookWriter Close called (no-op).")
	return nil
}

func writeSummarySheet(f *excelize.File, bold int, records []model.Record) error {
	sw := &sheetWriter{f: f, sheet: SummarySheet, bold: bold, widths: map[int]int{}}
	for col, h := range FlatHeaders() {
		sw.set(col+1, 1, h, true)
	}
	for i, rec := range records {
		for col, v := range FlattenRecord(rec) {
			sw.set(col+1, i+2, v, false)
		}
	}
	if sw.err != nil {
		return fmt.Errorf("WorkbookWriter failed to write sheet '%s': %w", SummarySheet, sw.err)
	}
	return sw.applyWidths()
}

// writeCompoundSheet lays out one record: identifiers in rows 1-4, then the
// Names, Synonyms, Literature References, Toxicological Data and GHS
// sections, each with a bold label in column A and values in column B.
func writeCompoundSheet(sw *sheetWriter, rec model.Record) {
	cid := "N/A"
	if rec.PubChemCID != 0 {
		cid = strconv.FormatInt(rec.PubChemCID, 10)
	}
	sw.set(1, 1, "CAS Number", false)
	sw.set(2, 1, rec.CAS, false)
	sw.set(1, 2, "PubChem CID", false)
	sw.set(2, 2, cid, false)
	sw.set(1, 3, "IUPAC Name", false)
	sw.set(2, 3, orNA(rec.IUPAC, rec.IsError()), false)
	sw.set(1, 4, "SMILES", false)
	sw.set(2, 4, orNA(rec.SMILES, rec.IsError()), false)

	row := 6
	row = sw.list(row, "Names", rec.Names)
	row = sw.list(row, "Synonyms", rec.Synonyms)

	sw.set(1, row, "Literature References", true)
	row++
	if !rec.IsError() {
		for _, category := range model.ReferenceCategories {
			row = sw.list(row, category, rec.LiteratureReferences[category])
		}
	}

	sw.set(1, row, "Toxicological Data", true)
	row++
	switch {
	case rec.IsError():
		sw.set(1, row, "Error: "+rec.Error, false)
		return
	case len(rec.ToxData) > 0:
		headings := make([]string, 0, len(rec.ToxData))
		for h := range rec.ToxData {
			headings = append(headings, h)
		}
		sort.Strings(headings)
		for _, h := range headings {
			row = sw.list(row, h, rec.ToxData[h])
		}
	default:
		sw.set(1, row, "No toxicological data found", false)
		row += 2
	}

	sw.set(1, row, "GHS Classification", true)
	sw.set(1, row+1, "Hazards", false)
	sw.set(2, row+1, strings.Join(rec.Hazards, ", "), false)
	sw.set(1, row+2, "Precautions", false)
	sw.set(2, row+2, strings.Join(rec.Precautions, ", "), false)
}

func orNA(s string, isError bool) string {
	if s == "" && isError {
		return "N/A"
	}
	return s
}

// sheetWriter writes cells to one sheet, tracking column widths and the
// first error.
type sheetWriter struct {
	f      *excelize.File
	sheet  string
	bold   int
	widths map[int]int
	err    error
}

func (sw *sheetWriter) set(col, row int, value string, bold bool) {
	if sw.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		sw.err = err
		return
	}
	if err := sw.f.SetCellStr(sw.sheet, cell, value); err != nil {
		sw.err = err
		return
	}
	if bold {
		if err := sw.f.SetCellStyle(sw.sheet, cell, cell, sw.bold); err != nil {
			sw.err = err
			return
		}
	}
	if w := utf8.RuneCountInString(value); w > sw.widths[col] {
		sw.widths[col] = w
	}
}

// list writes a bold label followed by one value per row in column B and a
// blank row, returning the next free row.
func (sw *sheetWriter) list(row int, label string, values []string) int {
	sw.set(1, row, label, true)
	row++
	for _, v := range values {
		sw.set(2, row, v, false)
		row++
	}
	return row + 1
}

func (sw *sheetWriter) applyWidths() error {
	for col, w := range sw.widths {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		width := w + 2
		if width > maxColumnWidth {
			width = maxColumnWidth
		}
		if err := sw.f.SetColWidth(sw.sheet, name, name, float64(width)); err != nil {
			return err
		}
	}
	return nil
}

// sheetNamer turns CAS numbers into unique, valid sheet names.
type sheetNamer struct {
	used map[string]struct{}
}

func newSheetNamer(reserved ...string) *sheetNamer {
	n := &sheetNamer{used: make(map[string]struct{})}
	for _, r := range reserved {
		n.used[strings.ToLower(r)] = struct{}{}
	}
	return n
}

// next returns a sheet name for cas. Sheet names are unique ignoring case.
func (n *sheetNamer) next(cas string) string {
	base := SanitizeSheetName(cas)
	name := base
	for i := 2; ; i++ {
		if _, dup := n.used[strings.ToLower(name)]; !dup {
			break
		}
		suffix := fmt.Sprintf(" (%d)", i)
		name = truncateRunes(base, maxSheetNameLen-len(suffix)) + suffix
	}
	n.used[strings.ToLower(name)] = struct{}{}
	return name
}

// SanitizeSheetName replaces the characters Excel forbids in sheet names,
// strips leading and trailing apostrophes and truncates to 31 characters.
func SanitizeSheetName(s string) string {
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	s = strings.Trim(s, "'")
	s = truncateRunes(s, maxSheetNameLen)
	if s == "" {
		return "Compound"
	}
	return s
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
