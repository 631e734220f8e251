package io

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"toxfetch/internal/logging"
	"toxfetch/internal/model"
)

// ListSeparator joins list values inside one flat CSV cell.
const ListSeparator = "; "

// CSVReader implements the TableReader interface for CSV files.
// It supports configurable delimiters and comment characters.
type CSVReader struct {
	Delimiter   rune // Field delimiter (e.g., ',', '\t').
	CommentChar rune // Character indicating a comment line (e.g., '#'). 0 disables.
}

// NewCSVReader creates a CSVReader with options derived from SourceConfig.
func NewCSVReader(delimiter, commentChar string) (*CSVReader, error) {
	delim, err := parseDelimiter(delimiter)
	if err != nil {
		return nil, err
	}

	var comment rune // Default comment (0 / disabled)
	if commentChar != "" {
		if utf8.RuneCountInString(commentChar) != 1 {
			return nil, fmt.Errorf("invalid comment character '%s': must be a single character or empty", commentChar)
		}
		comment = []rune(commentChar)[0]
	}
	if comment != 0 && comment == delim {
		return nil, fmt.Errorf("comment character '%c' cannot be the same as the delimiter", comment)
	}

	return &CSVReader{
		Delimiter:   delim,
		CommentChar: comment,
	}, nil
}

func parseDelimiter(delimiter string) (rune, error) {
	if delimiter == "" {
		return ',', nil
	}
	if utf8.RuneCountInString(delimiter) != 1 {
		return 0, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
	}
	return []rune(delimiter)[0], nil
}

// Read loads a CSV file as a table. The first row is the header.
// Short rows are padded with empty cells; cells beyond the header width are dropped.
func (cr *CSVReader) Read(filePath string) (*Table, error) {
	logging.Logf(logging.Debug, "CSVReader reading file: %s (Delimiter: '%c', Comment: '%c')", filePath, cr.Delimiter, cr.CommentChar)

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("CSVReader failed to open file '%s': %w", filePath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = cr.Delimiter
	if cr.CommentChar != 0 {
		reader.Comment = cr.CommentChar
	}
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true

	allRows, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("CSVReader parse error in '%s' on line %d, column %d: %w", filePath, parseErr.Line, parseErr.Column, parseErr.Err)
		}
		return nil, fmt.Errorf("CSVReader failed to read rows from '%s': %w", filePath, err)
	}

	if len(allRows) == 0 {
		return nil, fmt.Errorf("CSVReader: file '%s' is empty (no header row)", filePath)
	}
	headers := allRows[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff") // Excel writes a BOM
	}

	table := &Table{Headers: headers, Rows: make([][]string, 0, len(allRows)-1)}
	for i, row := range allRows[1:] {
		rowNum := i + 2 // 1-based row number in the file (including header)
		if len(row) > len(headers) {
			logging.Logf(logging.Warning, "CSVReader: Row %d in '%s' has %d fields, expected %d; extra fields are dropped", rowNum, filePath, len(row), len(headers))
			row = row[:len(headers)]
		}
		table.Rows = append(table.Rows, padRow(row, len(headers)))
	}

	if len(table.Rows) == 0 {
		logging.Logf(logging.Warning, "CSV file '%s' contains only a header row", filePath)
	}
	logging.Logf(logging.Debug, "CSVReader successfully loaded %d rows from %s", len(table.Rows), filePath)
	return table, nil
}

// writeCSVTable writes a header row and the data rows to filePath.
func writeCSVTable(filePath string, delimiter rune, headers []string, rows [][]string) error {
	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", filePath, err)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", filePath, err)
	}
	w := csv.NewWriter(f)
	w.Comma = delimiter
	if err := w.Write(headers); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header to '%s': %w", filePath, err)
	}
	if err := w.WriteAll(rows); err != nil { // WriteAll flushes
		f.Close()
		return fmt.Errorf("failed to write rows to '%s': %w", filePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close file '%s': %w", filePath, err)
	}
	return nil
}

// FlatCSVWriter implements the RecordWriter interface, writing one row per record.
// It buffers writes and requires Close() to be called to finalize the file.
type FlatCSVWriter struct {
	Delimiter rune // Field delimiter to use for writing.
	filePath  string
	mu        sync.Mutex
	file      *os.File
	writer    *csv.Writer
}

// NewFlatCSVWriter creates a FlatCSVWriter, deferring file opening until Write is called.
func NewFlatCSVWriter(delimiter string) (*FlatCSVWriter, error) {
	delim, err := parseDelimiter(delimiter)
	if err != nil {
		return nil, err
	}
	return &FlatCSVWriter{Delimiter: delim}, nil
}

// FlatHeaders returns the column names of the flat CSV export.
func FlatHeaders() []string {
	headers := []string{"CAS", "PubChemCID", "IUPAC", "SMILES", "Names", "Synonyms"}
	headers = append(headers, model.ReferenceCategories...)
	return append(headers, "ToxData", "Hazards", "Precautions", "Error")
}

// FlattenRecord renders a record as one row matching FlatHeaders.
func FlattenRecord(rec model.Record) []string {
	cid := ""
	if rec.PubChemCID != 0 {
		cid = strconv.FormatInt(rec.PubChemCID, 10)
	}
	row := []string{rec.CAS, cid, rec.IUPAC, rec.SMILES,
		strings.Join(rec.Names, ListSeparator),
		strings.Join(rec.Synonyms, ListSeparator),
	}
	for _, c := range model.ReferenceCategories {
		row = append(row, strings.Join(rec.LiteratureReferences[c], ListSeparator))
	}
	return append(row,
		flattenToxData(rec.ToxData),
		strings.Join(rec.Hazards, ListSeparator),
		strings.Join(rec.Precautions, ListSeparator),
		rec.Error,
	)
}

// flattenToxData renders tox sections as "heading: a | b", headings sorted.
func flattenToxData(tox map[string][]string) string {
	headings := make([]string, 0, len(tox))
	for h := range tox {
		headings = append(headings, h)
	}
	sort.Strings(headings)
	parts := make([]string, 0, len(headings))
	for _, h := range headings {
		parts = append(parts, fmt.Sprintf("%s: %s", h, strings.Join(tox[h], " | ")))
	}
	return strings.Join(parts, ListSeparator)
}

// Write saves the records to the CSV file, creating it with a header row.
// Data is buffered; call Close() to ensure all data is written and the file is closed.
func (cw *FlatCSVWriter) Write(records []model.Record, filePath string) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.writer != nil {
		return fmt.Errorf("FlatCSVWriter already initialized for file '%s'; close the writer first", cw.filePath)
	}
	logging.Logf(logging.Debug, "FlatCSVWriter writing %d records to file: %s (Delimiter: '%c')", len(records), filePath, cw.Delimiter)
	cw.filePath = filePath

	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("FlatCSVWriter failed to create directory for '%s': %w", filePath, err)
	}
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("FlatCSVWriter failed to create file '%s': %w", filePath, err)
	}
	cw.file = f
	cw.writer = csv.NewWriter(f)
	cw.writer.Comma = cw.Delimiter

	if err := cw.writer.Write(FlatHeaders()); err != nil {
		cw.cleanupResources()
		return fmt.Errorf("FlatCSVWriter failed to write header to '%s': %w", filePath, err)
	}
	for i, rec := range records {
		if err := cw.writer.Write(FlattenRecord(rec)); err != nil {
			return fmt.Errorf("FlatCSVWriter failed to write data row %d to '%s': %w", i+1, filePath, err)
		}
	}
	logging.Logf(logging.Info, "Data exported to CSV file: %s", filePath)
	return nil
}

// cleanupResources closes the file handle if it's open. Used internally on error.
func (cw *FlatCSVWriter) cleanupResources() {
	if cw.file != nil {
		cw.file.Close()
		cw.file = nil
	}
	cw.writer = nil
}

// Close flushes any buffered data to the underlying file and closes the file resource.
// It is safe to call multiple times.
func (cw *FlatCSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.writer == nil || cw.file == nil {
		return nil // Nothing to close
	}

	var firstErr error
	cw.writer.Flush()
	if errFlush := cw.writer.Error(); errFlush != nil {
		firstErr = fmt.Errorf("FlatCSVWriter flush error on close for '%s': %w", cw.filePath, errFlush)
		logging.Logf(logging.Error, "%v", firstErr)
	}
	if errClose := cw.file.Close(); errClose != nil {
		closeErr := fmt.Errorf("FlatCSVWriter file close error for '%s': %w", cw.filePath, errClose)
		logging.Logf(logging.Error, "%v", closeErr)
		if firstErr == nil {
			firstErr = closeErr
		}
	}

	// Mark resources as closed regardless of errors during close
	cw.file = nil
	cw.writer = nil
	return firstErr
}
