package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Define constants for configuration keys, types, modes etc.
const (
	SourceTypeCSV  = "csv"
	SourceTypeXLSX = "xlsx"

	ModeFull = "full" // Full compound record, workbook and flat CSV output
	ModeGHS  = "ghs"  // GHS hazard and precautionary codes only

	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	StrategyExponential = "exponential"
	StrategyLinear      = "linear"

	DefaultLogLevel        = "info"
	DefaultLogFormat       = LogFormatConsole
	DefaultMode            = ModeFull
	DefaultCASColumn       = "CAS"
	DefaultCSVDelimiter    = ","
	DefaultCodeSeparator   = ","
	DefaultJSONFile        = "tox_data.json"
	DefaultWorkbookFile    = "tox_data.xlsx"
	DefaultTableFile       = "chemicals_with_ghs.csv"
	DefaultBatchSize       = 5
	DefaultPause           = 2 * time.Second
	DefaultTimeout         = 30 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 1 * time.Second
	DefaultMaxBackoff      = 30 * time.Second
	DefaultMultiplier      = 2.0
	DefaultRateLimitBackoff = 5 * time.Second
	DefaultJitter          = 0.2
)

// Config defines the overall structure of the toxfetch YAML configuration file.
// Every section is optional; command-line flags override individual values.
type Config struct {
	// Logging configuration specifies the verbosity level and output format.
	Logging LoggingConfig `yaml:"logging"`
	// Mode selects what is fetched per compound: "full" (default) or "ghs".
	Mode string `yaml:"mode"`
	// Provider holds the PubChem endpoints and HTTP settings.
	Provider ProviderConfig `yaml:"provider"`
	// Retry tunes the retry policy shared by all requests of a run.
	Retry RetryConfig `yaml:"retry"`
	// Batch controls how many lookups run concurrently and the pause between batches.
	Batch BatchConfig `yaml:"batch"`
	// Source optionally names an input table holding the CAS numbers.
	Source SourceConfig `yaml:"source"`
	// Destination lists the output files.
	Destination DestinationConfig `yaml:"destination"`
	// Metrics configures the optional Prometheus textfile dump.
	Metrics MetricsConfig `yaml:"metrics"`
	// FailOnItemErrors makes the run exit non-zero when any lookup produced an error record.
	// The outputs are still written. Can be overridden by the -fail-on-error flag.
	FailOnItemErrors bool `yaml:"failOnItemErrors,omitempty"`
}

// LoggingConfig holds settings related to logging.
type LoggingConfig struct {
	// Level defines the logging detail (e.g., "none", "error", "warn", "info", "debug").
	// Defaults to "info".
	Level string `yaml:"level"`
	// Format is "console" (default, human readable) or "json".
	Format string `yaml:"format,omitempty"`
}

// ProviderConfig holds the PubChem connection settings.
type ProviderConfig struct {
	// BaseURL is the PUG REST root. Defaults to the public endpoint.
	BaseURL string `yaml:"baseURL,omitempty"`
	// ViewURL is the PUG View root. Defaults to the public endpoint.
	ViewURL string `yaml:"viewURL,omitempty"`
	// UserAgent is sent with every request.
	UserAgent string `yaml:"userAgent,omitempty"`
	// Timeout bounds a single HTTP attempt (default 30s).
	Timeout Duration `yaml:"timeout,omitempty"`
}

// RetryConfig mirrors the client's retry policy.
type RetryConfig struct {
	// MaxAttempts counts the initial request (default 3).
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
	// InitialBackoff is the first pause (default 1s).
	InitialBackoff Duration `yaml:"initialBackoff,omitempty"`
	// MaxBackoff caps a single pause (default 30s).
	MaxBackoff Duration `yaml:"maxBackoff,omitempty"`
	// Strategy is "exponential" (default) or "linear".
	Strategy string `yaml:"strategy,omitempty"`
	// Multiplier is the exponential growth factor (default 2).
	Multiplier float64 `yaml:"multiplier,omitempty"`
	// RateLimitBackoff is the first pause after a rate-limit response (default 5s).
	RateLimitBackoff Duration `yaml:"rateLimitBackoff,omitempty"`
	// Jitter randomizes pauses by the given fraction (default 0.2). Set 0 to disable.
	Jitter *float64 `yaml:"jitter,omitempty"` // Pointer to distinguish 0 from unset
}

// BatchConfig controls the pacing of lookups.
type BatchConfig struct {
	// Size is the number of concurrent lookups per batch (default 5).
	Size int `yaml:"size,omitempty"`
	// Pause is waited before each batch after the first (default 2s).
	Pause *Duration `yaml:"pause,omitempty"` // Pointer to distinguish 0 from unset
}

// SourceConfig details the optional input table.
type SourceConfig struct {
	// File is the path of the input table. Environment variables are expanded.
	File string `yaml:"file,omitempty"`
	// Type is "csv" or "xlsx". Inferred from the file extension when empty.
	Type string `yaml:"type,omitempty"`
	// CASColumn names the column holding the registry numbers (default "CAS").
	CASColumn string `yaml:"casColumn,omitempty"`

	// --- Format Specific Options ---
	// CSV Delimiter character (default: ","). Use '\t' for tab.
	Delimiter string `yaml:"delimiter,omitempty"`
	// CSV Comment character (e.g., "#"). Lines starting with this char are ignored. Default is disabled.
	CommentChar string `yaml:"commentChar,omitempty"`
	// XLSX Sheet name to read from. Takes precedence over SheetIndex if both are set.
	SheetName string `yaml:"sheetName,omitempty"`
	// XLSX Sheet index (0-based) to read from. Used if SheetName is not set.
	SheetIndex *int `yaml:"sheetIndex,omitempty"` // Use pointer to distinguish 0 from unset

	// Filter is an optional expression (using govaluate syntax) evaluated against each row.
	// Rows for which it evaluates to false are kept in the output but not looked up.
	// Example: "Supplier == 'Acme' && Quantity > 0"
	Filter string `yaml:"filter,omitempty"`
}

// DestinationConfig lists the output files. An empty path disables that output.
type DestinationConfig struct {
	// JSON is the result set as a JSON array (default "tox_data.json").
	JSON string `yaml:"json,omitempty"`
	// XLSX is the workbook with a summary sheet and one sheet per compound.
	// Defaults to "tox_data.xlsx" in full mode.
	XLSX string `yaml:"xlsx,omitempty"`
	// CSV is the flattened one-row-per-compound table.
	CSV string `yaml:"csv,omitempty"`
	// Table is the input table augmented with Hazards and Precautions columns (.csv or .xlsx).
	// Defaults to "chemicals_with_ghs.csv" in ghs mode when an input table is given.
	Table string `yaml:"table,omitempty"`
	// CodeSeparator joins the codes within one table cell (default ",").
	CodeSeparator string `yaml:"codeSeparator,omitempty"`
	// ReplaceColumns allows overwriting existing Hazards/Precautions columns of the input table.
	ReplaceColumns bool `yaml:"replaceColumns,omitempty"`
	// Delimiter for the CSV outputs (default ",").
	Delimiter string `yaml:"delimiter,omitempty"`
}

// MetricsConfig configures the metrics dump.
type MetricsConfig struct {
	// Textfile, when set, receives the run's counters in the Prometheus text format.
	Textfile string `yaml:"textfile,omitempty"`
}

// Duration is a time.Duration written in YAML as a Go duration string ("2s", "500ms").
// A bare number is read as seconds.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if tag := value.ShortTag(); tag == "!!int" || tag == "!!float" {
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		d.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration '%s': %w", value.Line, value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// NewDuration wraps a time.Duration.
func NewDuration(v time.Duration) *Duration {
	return &Duration{Duration: v}
}
