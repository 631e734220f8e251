package io

import (
	"errors"
	"fmt"
	"strings"

	"toxfetch/internal/config"
	"toxfetch/internal/logging"
	"toxfetch/internal/model"
)

// NewTableReader creates and returns an appropriate TableReader based on the source configuration.
func NewTableReader(cfg config.SourceConfig) (TableReader, error) {
	sourceType := strings.ToLower(cfg.Type)
	if sourceType == "" {
		sourceType = config.InferSourceType(cfg.File)
	}
	logging.Logf(logging.Debug, "Creating table reader for type: %s", sourceType)

	switch sourceType {
	case config.SourceTypeCSV:
		reader, err := NewCSVReader(cfg.Delimiter, cfg.CommentChar)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV reader: %w", err)
		}
		return reader, nil
	case config.SourceTypeXLSX:
		return NewXLSXReader(cfg.SheetName, cfg.SheetIndex), nil
	default:
		return nil, fmt.Errorf("unsupported source type '%s'", cfg.Type)
	}
}

// Output is one configured export.
type Output struct {
	Name   string
	Path   string
	Writer RecordWriter
}

// NewOutputs creates a writer for every output path set in dest, in the
// order JSON, XLSX, CSV, Table. table is the input table, required only by
// the augmented table output.
func NewOutputs(dest config.DestinationConfig, table *Table, casColumn string) ([]Output, error) {
	var outputs []Output
	if dest.JSON != "" {
		outputs = append(outputs, Output{Name: "json", Path: dest.JSON, Writer: &JSONWriter{}})
	}
	if dest.XLSX != "" {
		outputs = append(outputs, Output{Name: "xlsx", Path: dest.XLSX, Writer: NewWorkbookWriter()})
	}
	if dest.CSV != "" {
		w, err := NewFlatCSVWriter(dest.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("failed to create CSV writer: %w", err)
		}
		outputs = append(outputs, Output{Name: "csv", Path: dest.CSV, Writer: w})
	}
	if dest.Table != "" {
		w, err := NewAugmentedTableWriter(table, casColumn, dest.CodeSeparator, dest.ReplaceColumns, dest.Delimiter)
		if err != nil {
			return nil, fmt.Errorf("failed to create table writer: %w", err)
		}
		if err := w.CheckColumns(); err != nil {
			return nil, err
		}
		outputs = append(outputs, Output{Name: "table", Path: dest.Table, Writer: w})
	}
	return outputs, nil
}

// WriteAll writes records to every output and closes each writer. Every
// output is attempted; the failures are returned together.
func WriteAll(outputs []Output, records []model.Record) error {
	var errs []error
	for _, out := range outputs {
		if err := out.Writer.Write(records, out.Path); err != nil {
			logging.Logf(logging.Error, "Writing %s output '%s' failed: %v", out.Name, out.Path, err)
			errs = append(errs, err)
		}
		if err := out.Writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
