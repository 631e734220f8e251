package io

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3" // Use yaml for readable diffs

	"toxfetch/internal/model"
)

// Helper to create a temporary file with specific content.
func createTempFile(t *testing.T, content string, pattern string) string {
	t.Helper()
	tempFile, err := os.CreateTemp(t.TempDir(), pattern)
	if err != nil {
		t.Fatalf("Failed to create temp file (pattern: %s): %v", pattern, err)
	}
	filePath := tempFile.Name()
	if _, err := tempFile.WriteString(content); err != nil {
		_ = tempFile.Close()
		t.Fatalf("Failed to write to temp file %s: %v", filePath, err)
	}
	if err := tempFile.Close(); err != nil {
		t.Fatalf("Failed to close temp file %s: %v", filePath, err)
	}
	return filePath
}

// createTempCSV creates a temporary CSV file for testing.
func createTempCSV(t *testing.T, content string) string {
	t.Helper()
	return createTempFile(t, content, "test_*.csv")
}

// createTempXLSX creates a workbook with one sheet holding data.
func createTempXLSX(t *testing.T, sheetName string, data [][]interface{}) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheetName != DefaultTableSheet {
		if err := f.SetSheetName(DefaultTableSheet, sheetName); err != nil {
			t.Fatalf("Failed to name sheet '%s': %v", sheetName, err)
		}
	}
	for r, rowData := range data {
		startCell, err := excelize.CoordinatesToCellName(1, r+1) // A1, A2, ...
		if err != nil {
			t.Fatalf("Failed to get cell coordinates for row %d: %v", r+1, err)
		}
		interfaceRow := make([]interface{}, len(rowData))
		copy(interfaceRow, rowData)
		if err := f.SetSheetRow(sheetName, startCell, &interfaceRow); err != nil {
			t.Fatalf("Failed to set row %d on sheet '%s': %v", r+1, sheetName, err)
		}
	}
	filePath := filepath.Join(t.TempDir(), "test.xlsx")
	if err := f.SaveAs(filePath); err != nil {
		t.Fatalf("Failed to save temp XLSX file %s: %v", filePath, err)
	}
	return filePath
}

// readXLSXFile returns the rows of a sheet, or nil when the file does not exist.
func readXLSXFile(t *testing.T, filePath, sheetName string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		t.Fatalf("Failed to open XLSX file %s: %v", filePath, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			t.Logf("Warning: failed to close XLSX file %s: %v", filePath, err)
		}
	}()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("Failed to get rows from sheet '%s' in %s: %v", sheetName, filePath, err)
	}
	return rows
}

// readCSVFile reads every row of a CSV file, or nil when it does not exist.
func readCSVFile(t *testing.T, filePath string, delimiter rune) [][]string {
	t.Helper()
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		t.Fatalf("Failed to open CSV file %s: %v", filePath, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV file %s: %v", filePath, err)
	}
	return rows
}

// compareDeep compares two values with reflect.DeepEqual and reports a YAML diff.
func compareDeep(t *testing.T, got, want interface{}) bool {
	t.Helper()
	if reflect.DeepEqual(got, want) {
		return true
	}
	gotYAML, errGot := yaml.Marshal(got)
	wantYAML, errWant := yaml.Marshal(want)
	if errGot != nil || errWant != nil {
		t.Errorf("Mismatch:\ngot:\n%#v\nwant:\n%#v", got, want)
		return false
	}
	t.Errorf("Mismatch:\n--- GOT ---\n%s\n--- WANT ---\n%s", string(gotYAML), string(wantYAML))
	return false
}

// sampleRecords returns a data record, a not-found record and a failed
// record carrying a CID.
func sampleRecords() []model.Record {
	formaldehyde := model.NewRecord("50-00-0", 712)
	formaldehyde.IUPAC = "formaldehyde"
	formaldehyde.SMILES = "C=O"
	formaldehyde.Names = []string{"formaldehyde"}
	formaldehyde.Synonyms = []string{"Formalin", "Methanal"}
	formaldehyde.LiteratureReferences[model.RefNatureJournal] = []string{"Nature 1", "Nature 2"}
	formaldehyde.ToxData = map[string][]string{
		"Toxicity Summary": {"Irritant", "Carcinogen"},
		"Exposure Routes":  {"Inhalation"},
	}
	formaldehyde.Hazards = []string{"H301", "H311"}
	formaldehyde.Precautions = []string{"P260"}

	return []model.Record{
		formaldehyde,
		model.NewErrorRecord("999-99-9", 0, model.StatusNotFound, "no compound found for CAS '999-99-9'"),
		model.NewErrorRecord("64-17-5", 702, model.StatusFailed, "retries exhausted"),
	}
}
