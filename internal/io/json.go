package io

import (
	"encoding/json"
	"fmt"
	"os"

	"toxfetch/internal/logging"
	"toxfetch/internal/model"
)

// JSONWriter implements the RecordWriter interface for JSON files.
// The Write operation is self-contained and does not require a separate Close call.
type JSONWriter struct{}

// Write saves the records as a JSON array to filePath, indented with two
// spaces. Empty lists and maps are written as [] and {}, never null.
func (jw *JSONWriter) Write(records []model.Record, filePath string) error {
	logging.Logf(logging.Debug, "JSONWriter writing %d records to file: %s", len(records), filePath)

	// Ensure the output directory exists.
	if err := ensureDir(filePath); err != nil {
		return fmt.Errorf("JSONWriter failed to create directory for '%s': %w", filePath, err)
	}

	var data []byte
	if len(records) == 0 {
		data = []byte("[]\n") // Write an empty JSON array explicitly.
	} else {
		var err error
		data, err = json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("JSONWriter failed to marshal records to JSON: %w", err)
		}
		// Add a trailing newline for POSIX compatibility / easier diffing.
		data = append(data, '\n')
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("JSONWriter failed to write file '%s': %w", filePath, err)
	}
	logging.Logf(logging.Info, "Data exported to JSON file: %s", filePath)
	return nil
}

// Close implements the RecordWriter interface. For JSONWriter, this is a no-op
// as os.WriteFile handles file closing internally within the Write method.
func (jw *JSONWriter) Close() error {
	logging.Logf(logging.Debug, "JSONWriter Close called (no-op).")
	return nil
}
