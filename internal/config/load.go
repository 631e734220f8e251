package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"toxfetch/internal/model"
	"toxfetch/internal/pubchem"
	"toxfetch/internal/util"
)

// DisabledOutput switches off an output that has a default path.
const DisabledOutput = "none"

// LoadConfig reads, parses, and validates the YAML configuration file.
// It applies defaults before returning the validated configuration.
func LoadConfig(filename string) (*Config, error) {
	// Read the configuration file content.
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	var config Config
	// Parse the YAML content into the configuration struct.
	if err := yaml.Unmarshal(fileBytes, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
	}

	expandPaths(&config)
	applyDefaults(&config)

	// Perform comprehensive validation of the loaded configuration.
	if err := ValidateConfig(&config); err != nil {
		return nil, err // Return validation errors directly.
	}

	return &config, nil
}

// Default returns a configuration with every default applied, used when no
// configuration file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Finalize completes a configuration after command-line overrides have been
// applied: paths are expanded, defaults (including the mode dependent output
// paths) are filled, and the result is validated again.
func Finalize(cfg *Config) error {
	expandPaths(cfg)
	applyDefaults(cfg)
	ApplyOutputDefaults(cfg)
	return ValidateConfig(cfg)
}

// expandPaths expands environment variables in every file path.
func expandPaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.Source.File,
		&cfg.Destination.JSON,
		&cfg.Destination.XLSX,
		&cfg.Destination.CSV,
		&cfg.Destination.Table,
		&cfg.Metrics.Textfile,
	} {
		*p = util.ExpandEnvUniversal(*p)
	}
}

// applyDefaults sets default values for the configuration sections.
// Output paths are completed separately by ApplyOutputDefaults because they
// depend on the mode and the input, which flags may still change.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Mode == "" {
		cfg.Mode = DefaultMode
	}
	cfg.Mode = strings.ToLower(cfg.Mode)

	// Provider defaults
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = pubchem.DefaultBaseURL
	}
	if cfg.Provider.ViewURL == "" {
		cfg.Provider.ViewURL = pubchem.DefaultViewURL
	}
	if cfg.Provider.UserAgent == "" {
		cfg.Provider.UserAgent = pubchem.DefaultUserAgent
	}
	if cfg.Provider.Timeout.Duration == 0 {
		cfg.Provider.Timeout.Duration = DefaultTimeout
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Retry.InitialBackoff.Duration == 0 {
		cfg.Retry.InitialBackoff.Duration = DefaultInitialBackoff
	}
	if cfg.Retry.MaxBackoff.Duration == 0 {
		cfg.Retry.MaxBackoff.Duration = DefaultMaxBackoff
	}
	if cfg.Retry.Strategy == "" {
		cfg.Retry.Strategy = StrategyExponential
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = DefaultMultiplier
	}
	if cfg.Retry.RateLimitBackoff.Duration == 0 {
		cfg.Retry.RateLimitBackoff.Duration = DefaultRateLimitBackoff
	}
	if cfg.Retry.Jitter == nil {
		jitter := DefaultJitter
		cfg.Retry.Jitter = &jitter
	}

	// Batch defaults
	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = DefaultBatchSize
	}
	if cfg.Batch.Pause == nil {
		cfg.Batch.Pause = NewDuration(DefaultPause)
	}

	// Source defaults
	if cfg.Source.CASColumn == "" {
		cfg.Source.CASColumn = DefaultCASColumn
	}
	if cfg.Source.File != "" && cfg.Source.Type == "" {
		cfg.Source.Type = InferSourceType(cfg.Source.File)
	}
	cfg.Source.Type = strings.ToLower(cfg.Source.Type)
	if cfg.Source.Type == SourceTypeCSV && cfg.Source.Delimiter == "" {
		cfg.Source.Delimiter = DefaultCSVDelimiter
	}
	cfg.Source.Delimiter = unescapeTab(cfg.Source.Delimiter)

	// Destination defaults
	if cfg.Destination.CodeSeparator == "" {
		cfg.Destination.CodeSeparator = DefaultCodeSeparator
	}
	if cfg.Destination.Delimiter == "" {
		cfg.Destination.Delimiter = DefaultCSVDelimiter
	}
	cfg.Destination.Delimiter = unescapeTab(cfg.Destination.Delimiter)
}

// unescapeTab turns the two-character sequence `\t`, as written in a
// single-quoted YAML string, into a tab.
func unescapeTab(s string) string {
	if s == `\t` {
		return "\t"
	}
	return s
}

// ApplyOutputDefaults fills the default output paths for the configured mode
// and clears outputs set to DisabledOutput. It is called once flags have been
// applied.
func ApplyOutputDefaults(cfg *Config) {
	dest := &cfg.Destination
	if dest.JSON == "" {
		dest.JSON = DefaultJSONFile
	}
	switch cfg.Mode {
	case ModeGHS:
		if dest.Table == "" && cfg.Source.File != "" {
			dest.Table = DefaultTableFile
		}
	default:
		if dest.XLSX == "" {
			dest.XLSX = DefaultWorkbookFile
		}
	}
	for _, p := range []*string{&dest.JSON, &dest.XLSX, &dest.CSV, &dest.Table} {
		if strings.EqualFold(*p, DisabledOutput) {
			*p = ""
		}
	}
}

// InferSourceType derives the input type from a file extension.
// Unknown extensions are treated as CSV.
func InferSourceType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".xlsx", ".xlsm":
		return SourceTypeXLSX
	default:
		return SourceTypeCSV
	}
}

// ModelMode returns the mode as a model.Mode.
func (c *Config) ModelMode() model.Mode {
	return model.Mode(c.Mode)
}

// RetryPolicy converts the retry section into the client's policy.
func (c *Config) RetryPolicy() pubchem.RetryPolicy {
	p := pubchem.RetryPolicy{
		MaxAttempts:      c.Retry.MaxAttempts,
		InitialBackoff:   c.Retry.InitialBackoff.Duration,
		MaxBackoff:       c.Retry.MaxBackoff.Duration,
		Strategy:         pubchem.BackoffStrategy(strings.ToLower(c.Retry.Strategy)),
		Multiplier:       c.Retry.Multiplier,
		RateLimitBackoff: c.Retry.RateLimitBackoff.Duration,
	}
	if c.Retry.Jitter != nil {
		p.Jitter = *c.Retry.Jitter
	}
	return p
}

// ClientConfig converts the provider and retry sections into a client configuration.
func (c *Config) ClientConfig() pubchem.Config {
	cc := pubchem.DefaultConfig()
	cc.BaseURL = c.Provider.BaseURL
	cc.ViewURL = c.Provider.ViewURL
	cc.UserAgent = c.Provider.UserAgent
	cc.Timeout = c.Provider.Timeout.Duration
	cc.Retry = c.RetryPolicy()
	return cc
}
