package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"toxfetch/internal/model"
	"toxfetch/internal/pubchem"
)

// --- Test Helper Functions ---

// createTempConfigFile creates a temporary YAML file with the given content for testing.
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tempFile, err := os.CreateTemp(t.TempDir(), "test-config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		t.Fatalf("Failed to write to temp config file: %v", err)
	}
	if err := tempFile.Close(); err != nil {
		t.Fatalf("Failed to close temp config file: %v", err)
	}
	return tempFile.Name()
}

// assertValidationError checks if the error contains all expected substrings.
func assertValidationError(t *testing.T, err error, expectedSubstrings ...string) {
	t.Helper()
	if err == nil {
		t.Errorf("Expected a validation error, but got nil")
		return
	}
	errStr := err.Error()
	for _, sub := range expectedSubstrings {
		if !strings.Contains(errStr, sub) {
			t.Errorf("Validation error missing expected substring %q.\nError was: %q", sub, errStr)
		}
	}
}

// --- LoadConfig Tests ---

func TestLoadConfig_Success(t *testing.T) {
	t.Setenv("TOXFETCH_TEST_DIR", "/data")
	validYAML := `
logging:
  level: debug
  format: json
mode: ghs
provider:
  timeout: 10s
retry:
  maxAttempts: 5
  initialBackoff: 500ms
  maxBackoff: 1m
  strategy: linear
  jitter: 0
batch:
  size: 3
  pause: 0s
source:
  file: ${TOXFETCH_TEST_DIR}/chemicals.csv
  casColumn: "CAS No."
  delimiter: ';'
  filter: "Quantity > 0"
destination:
  json: $TOXFETCH_TEST_DIR/out.json
  table: out.xlsx
  codeSeparator: "; "
  replaceColumns: true
metrics:
  textfile: /tmp/toxfetch.prom
failOnItemErrors: true
`
	cfg, err := LoadConfig(createTempConfigFile(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != LogFormatJSON {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.ModelMode() != model.ModeGHS {
		t.Errorf("Mode = %q, want ghs", cfg.Mode)
	}
	if cfg.Provider.Timeout.Duration != 10*time.Second {
		t.Errorf("Provider.Timeout = %v, want 10s", cfg.Provider.Timeout)
	}
	if cfg.Provider.BaseURL != pubchem.DefaultBaseURL {
		t.Errorf("Provider.BaseURL = %q, want default", cfg.Provider.BaseURL)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialBackoff.Duration != 500*time.Millisecond || cfg.Retry.MaxBackoff.Duration != time.Minute {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.Jitter == nil || *cfg.Retry.Jitter != 0 {
		t.Errorf("Retry.Jitter = %v, want explicit 0", cfg.Retry.Jitter)
	}
	if cfg.Batch.Size != 3 || cfg.Batch.Pause == nil || cfg.Batch.Pause.Duration != 0 {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Source.File != "/data/chemicals.csv" {
		t.Errorf("Source.File = %q, want env expanded", cfg.Source.File)
	}
	if cfg.Source.Type != SourceTypeCSV {
		t.Errorf("Source.Type = %q, want inferred csv", cfg.Source.Type)
	}
	if cfg.Source.CASColumn != "CAS No." || cfg.Source.Delimiter != ";" {
		t.Errorf("Source = %+v", cfg.Source)
	}
	if cfg.Destination.JSON != "/data/out.json" {
		t.Errorf("Destination.JSON = %q", cfg.Destination.JSON)
	}
	if cfg.Destination.CodeSeparator != "; " || !cfg.Destination.ReplaceColumns {
		t.Errorf("Destination = %+v", cfg.Destination)
	}
	if !cfg.FailOnItemErrors {
		t.Error("FailOnItemErrors = false, want true")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(createTempConfigFile(t, "logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	def := Default()
	if cfg.Mode != ModeFull || def.Mode != ModeFull {
		t.Errorf("Mode = %q / %q, want full", cfg.Mode, def.Mode)
	}
	if cfg.Batch.Size != DefaultBatchSize || cfg.Batch.Pause.Duration != DefaultPause {
		t.Errorf("Batch = %+v, want defaults", cfg.Batch)
	}
	if cfg.Source.CASColumn != DefaultCASColumn {
		t.Errorf("Source.CASColumn = %q, want %q", cfg.Source.CASColumn, DefaultCASColumn)
	}
	if *cfg.Retry.Jitter != DefaultJitter {
		t.Errorf("Retry.Jitter = %v, want %v", *cfg.Retry.Jitter, DefaultJitter)
	}
	// Output paths stay empty until ApplyOutputDefaults.
	if cfg.Destination.JSON != "" || cfg.Destination.XLSX != "" {
		t.Errorf("Destination = %+v, want unset", cfg.Destination)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("LoadConfig() error = %v, want read error", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	_, err := LoadConfig(createTempConfigFile(t, "logging: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("LoadConfig() error = %v, want parse error", err)
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	_, err := LoadConfig(createTempConfigFile(t, "batch:\n  pause: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration 'soon'") {
		t.Errorf("LoadConfig() error = %v, want duration error", err)
	}
}

func TestDurationYAML(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"d: 2s", 2 * time.Second},
		{"d: 1m30s", 90 * time.Second},
		{"d: 3", 3 * time.Second},
		{"d: 0.5", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var v struct {
				D Duration `yaml:"d"`
			}
			if err := yaml.Unmarshal([]byte(tt.in), &v); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if v.D.Duration != tt.want {
				t.Errorf("Duration = %v, want %v", v.D.Duration, tt.want)
			}
		})
	}

	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration{1500 * time.Millisecond}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "d: 1.5s" {
		t.Errorf("Marshal() = %q, want d: 1.5s", out)
	}
}

// --- Validation Tests ---

func TestValidateConfig(t *testing.T) {
	negative := -1
	badJitter := 1.5
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr []string
	}{
		{name: "defaults are valid", modify: func(*Config) {}},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: []string{"- Config.Logging.Level: invalid log level 'verbose'"},
		},
		{
			name:    "invalid mode",
			modify:  func(c *Config) { c.Mode = "partial" },
			wantErr: []string{"- Config.Mode: invalid mode 'partial'"},
		},
		{
			name:    "non http provider",
			modify:  func(c *Config) { c.Provider.BaseURL = "ftp://pubchem" },
			wantErr: []string{"- Config.Provider.BaseURL: 'ftp://pubchem' must be an http(s) URL"},
		},
		{
			name: "retry problems are collected",
			modify: func(c *Config) {
				c.Retry.MaxAttempts = -2
				c.Retry.Strategy = "fibonacci"
				c.Retry.Jitter = &badJitter
			},
			wantErr: []string{"Config.Retry.MaxAttempts", "Config.Retry.Strategy: invalid strategy 'fibonacci'", "Config.Retry.Jitter"},
		},
		{
			name:    "max backoff below initial",
			modify:  func(c *Config) { c.Retry.MaxBackoff = Duration{time.Millisecond} },
			wantErr: []string{"- Config.Retry.MaxBackoff"},
		},
		{
			name:    "negative pause",
			modify:  func(c *Config) { c.Batch.Pause = NewDuration(-time.Second) },
			wantErr: []string{"- Config.Batch.Pause: cannot be negative"},
		},
		{
			name:    "zero batch size",
			modify:  func(c *Config) { c.Batch.Size = 0 },
			wantErr: []string{"- Config.Batch.Size: must be at least 1"},
		},
		{
			name:    "bad filter",
			modify:  func(c *Config) { c.Source.Filter = "Quantity > > 1" },
			wantErr: []string{"- Config.Source.Filter: invalid expression syntax"},
		},
		{
			name: "csv delimiter too long",
			modify: func(c *Config) {
				c.Source.File, c.Source.Type, c.Source.Delimiter = "in.csv", SourceTypeCSV, "||"
			},
			wantErr: []string{"- Config.Source.Delimiter"},
		},
		{
			name: "unknown source type",
			modify: func(c *Config) {
				c.Source.File, c.Source.Type = "in.parquet", "parquet"
			},
			wantErr: []string{"- Config.Source.Type: invalid source type 'parquet'"},
		},
		{
			name: "xlsx sheet problems",
			modify: func(c *Config) {
				c.Source.File, c.Source.Type = "in.xlsx", SourceTypeXLSX
				c.Source.SheetName = "a/b"
				c.Source.SheetIndex = &negative
			},
			wantErr: []string{"- Config.Source.SheetName", "- Config.Source.SheetIndex: cannot be negative"},
		},
		{
			name:    "table without source",
			modify:  func(c *Config) { c.Destination.Table = "out.csv" },
			wantErr: []string{"- Config.Destination.Table: requires Config.Source.File"},
		},
		{
			name: "table with unsupported extension",
			modify: func(c *Config) {
				c.Source.File, c.Source.Type, c.Source.Delimiter = "in.csv", SourceTypeCSV, ","
				c.Destination.Table = "out.json"
			},
			wantErr: []string{"- Config.Destination.Table: unsupported extension '.json'"},
		},
		{
			name: "outputs share a path",
			modify: func(c *Config) {
				c.Destination.JSON = "out/data"
				c.Destination.CSV = "out/./data"
			},
			wantErr: []string{"- Config.Destination.JSON: path", "also used by Config.Destination.CSV"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := ValidateConfig(cfg)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Errorf("ValidateConfig() error = %v, want nil", err)
				}
				return
			}
			assertValidationError(t, err, tt.wantErr...)
		})
	}
}

func TestFinalizeOutputDefaults(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   DestinationConfig
	}{
		{
			name:   "full mode",
			modify: func(*Config) {},
			want:   DestinationConfig{JSON: DefaultJSONFile, XLSX: DefaultWorkbookFile},
		},
		{
			name:   "ghs mode without table input",
			modify: func(c *Config) { c.Mode = ModeGHS },
			want:   DestinationConfig{JSON: DefaultJSONFile},
		},
		{
			name: "ghs mode with table input",
			modify: func(c *Config) {
				c.Mode = "GHS"
				c.Source.File = "chemicals.xlsx"
			},
			want: DestinationConfig{JSON: DefaultJSONFile, Table: DefaultTableFile},
		},
		{
			name: "disabled outputs",
			modify: func(c *Config) {
				c.Destination.JSON = "none"
				c.Destination.XLSX = "NONE"
				c.Destination.CSV = "flat.csv"
			},
			want: DestinationConfig{CSV: "flat.csv"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := Finalize(cfg); err != nil {
				t.Fatalf("Finalize() error = %v", err)
			}
			got := cfg.Destination
			if got.JSON != tt.want.JSON || got.XLSX != tt.want.XLSX || got.CSV != tt.want.CSV || got.Table != tt.want.Table {
				t.Errorf("Destination = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFinalizeInfersSourceType(t *testing.T) {
	cfg := Default()
	cfg.Source.File = "Inventory.XLSX"
	if err := Finalize(cfg); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if cfg.Source.Type != SourceTypeXLSX {
		t.Errorf("Source.Type = %q, want xlsx", cfg.Source.Type)
	}
	if cfg.Source.Delimiter != "" {
		t.Errorf("Source.Delimiter = %q, want unset for xlsx", cfg.Source.Delimiter)
	}
}

func TestTabDelimiter(t *testing.T) {
	cfg, err := LoadConfig(createTempConfigFile(t, "source:\n  file: in.tsv\n  delimiter: '\\t'\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Source.Delimiter != "\t" {
		t.Errorf("Source.Delimiter = %q, want tab", cfg.Source.Delimiter)
	}
}

func TestClientConfig(t *testing.T) {
	cfg := Default()
	cfg.Provider.BaseURL = "http://localhost:9999/rest/pug"
	cfg.Retry.Strategy = "LINEAR"
	zero := 0.0
	cfg.Retry.Jitter = &zero

	cc := cfg.ClientConfig()
	if cc.BaseURL != "http://localhost:9999/rest/pug" || cc.ViewURL != pubchem.DefaultViewURL {
		t.Errorf("ClientConfig URLs = %q, %q", cc.BaseURL, cc.ViewURL)
	}
	if cc.Timeout != DefaultTimeout {
		t.Errorf("ClientConfig.Timeout = %v, want %v", cc.Timeout, DefaultTimeout)
	}
	want := pubchem.RetryPolicy{
		MaxAttempts:      DefaultMaxAttempts,
		InitialBackoff:   DefaultInitialBackoff,
		MaxBackoff:       DefaultMaxBackoff,
		Strategy:         pubchem.BackoffLinear,
		Multiplier:       DefaultMultiplier,
		RateLimitBackoff: DefaultRateLimitBackoff,
		Jitter:           0,
	}
	if cc.Retry != want {
		t.Errorf("ClientConfig.Retry = %+v, want %+v", cc.Retry, want)
	}
}
