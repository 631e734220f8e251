package io

import "toxfetch/internal/model"

// TableReader defines the interface for reading an input table.
type TableReader interface {
	// Read loads the table stored at filePath. Column order is preserved and
	// every row has exactly len(Headers) cells.
	Read(filePath string) (*Table, error)
}

// RecordWriter defines the interface for writing the results of a run.
type RecordWriter interface {
	// Write saves the records, in order, to the file at filePath.
	// Parent directories are created as needed.
	Write(records []model.Record, filePath string) error

	// Close handles any necessary cleanup operations for the writer, such as
	// flushing buffers or closing file handles.
	// Implementations should be idempotent (safe to call multiple times).
	Close() error
}
