package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Knetic/govaluate"

	"toxfetch/internal/logging"
)

// Define known valid enum values for configuration fields.
var (
	knownLogLevels  = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownLogFormats = []string{LogFormatConsole, LogFormatJSON}
	knownModes      = []string{ModeFull, ModeGHS}
	knownStrategies = []string{StrategyExponential, StrategyLinear}
	knownSourceType = []string{SourceTypeCSV, SourceTypeXLSX}
	knownTableExts  = []string{".csv", ".xlsx"}
)

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the entire configuration.
// All problems are collected and reported together.
func ValidateConfig(cfg *Config) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}
	if !isValidEnumValue(cfg.Logging.Format, knownLogFormats) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Format: invalid log format '%s', must be one of %v", cfg.Logging.Format, knownLogFormats))
	}
	if !isValidEnumValue(cfg.Mode, knownModes) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Mode: invalid mode '%s', must be one of %v", cfg.Mode, knownModes))
	}

	allErrors = append(allErrors, validateProviderConfig("Config.Provider", &cfg.Provider)...)
	allErrors = append(allErrors, validateRetryConfig("Config.Retry", &cfg.Retry)...)
	allErrors = append(allErrors, validateBatchConfig("Config.Batch", &cfg.Batch)...)
	allErrors = append(allErrors, validateSourceConfig("Config.Source", &cfg.Source)...)
	allErrors = append(allErrors, validateDestinationConfig("Config.Destination", &cfg.Destination, cfg.Source.File != "")...)

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

// validateProviderConfig validates the Provider section of the configuration.
func validateProviderConfig(prefix string, cfg *ProviderConfig) []string {
	var errs []string
	for name, u := range map[string]string{"BaseURL": cfg.BaseURL, "ViewURL": cfg.ViewURL} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			errs = append(errs, fmt.Sprintf("- %s.%s: '%s' must be an http(s) URL", prefix, name, u))
		}
	}
	if cfg.Timeout.Duration < 0 {
		errs = append(errs, fmt.Sprintf("- %s.Timeout: cannot be negative", prefix))
	}
	return errs
}

// validateRetryConfig validates the Retry section of the configuration.
func validateRetryConfig(prefix string, cfg *RetryConfig) []string {
	var errs []string
	if cfg.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("- %s.MaxAttempts: must be at least 1, got %d", prefix, cfg.MaxAttempts))
	}
	if cfg.InitialBackoff.Duration < 0 {
		errs = append(errs, fmt.Sprintf("- %s.InitialBackoff: cannot be negative", prefix))
	}
	if cfg.MaxBackoff.Duration < cfg.InitialBackoff.Duration {
		errs = append(errs, fmt.Sprintf("- %s.MaxBackoff: %s is smaller than InitialBackoff %s", prefix, cfg.MaxBackoff.Duration, cfg.InitialBackoff.Duration))
	}
	if !isValidEnumValue(cfg.Strategy, knownStrategies) {
		errs = append(errs, fmt.Sprintf("- %s.Strategy: invalid strategy '%s', must be one of %v", prefix, cfg.Strategy, knownStrategies))
	}
	if cfg.Multiplier < 1 {
		errs = append(errs, fmt.Sprintf("- %s.Multiplier: must be at least 1, got %g", prefix, cfg.Multiplier))
	}
	if cfg.RateLimitBackoff.Duration < 0 {
		errs = append(errs, fmt.Sprintf("- %s.RateLimitBackoff: cannot be negative", prefix))
	}
	if cfg.Jitter != nil && (*cfg.Jitter < 0 || *cfg.Jitter >= 1) {
		errs = append(errs, fmt.Sprintf("- %s.Jitter: must be in [0, 1), got %g", prefix, *cfg.Jitter))
	}
	return errs
}

// validateBatchConfig validates the Batch section of the configuration.
func validateBatchConfig(prefix string, cfg *BatchConfig) []string {
	var errs []string
	if cfg.Size < 1 {
		errs = append(errs, fmt.Sprintf("- %s.Size: must be at least 1, got %d", prefix, cfg.Size))
	}
	if cfg.Pause != nil && cfg.Pause.Duration < 0 {
		errs = append(errs, fmt.Sprintf("- %s.Pause: cannot be negative", prefix))
	}
	return errs
}

// validateSourceConfig validates the Source section of the configuration.
// The section is optional; format options are only checked when a file is set.
func validateSourceConfig(prefix string, cfg *SourceConfig) []string {
	var errs []string
	if strings.TrimSpace(cfg.CASColumn) == "" {
		errs = append(errs, fmt.Sprintf("- %s.CASColumn: cannot be empty", prefix))
	}
	if cfg.Filter != "" {
		if _, err := govaluate.NewEvaluableExpression(cfg.Filter); err != nil {
			errs = append(errs, fmt.Sprintf("- %s.Filter: invalid expression syntax: %v", prefix, err))
		}
	}
	if cfg.File == "" {
		if cfg.Filter != "" {
			logging.Logf(logging.Warning, "Validation: %s.Filter is specified but no input file is configured", prefix)
		}
		return errs
	}

	if !isValidEnumValue(cfg.Type, knownSourceType) {
		errs = append(errs, fmt.Sprintf("- %s.Type: invalid source type '%s', must be one of %v", prefix, cfg.Type, knownSourceType))
		return errs // Stop further source validation if type is invalid
	}

	switch strings.ToLower(cfg.Type) {
	case SourceTypeCSV:
		if err := validateSingleRuneString(cfg.Delimiter, fmt.Sprintf("%s.Delimiter", prefix), false); err != nil {
			errs = append(errs, err.Error())
		}
		// CommentChar can be empty
		if err := validateSingleRuneString(cfg.CommentChar, fmt.Sprintf("%s.CommentChar", prefix), true); err != nil {
			errs = append(errs, err.Error())
		}
		if cfg.SheetName != "" || cfg.SheetIndex != nil {
			logging.Logf(logging.Warning, "Validation: %s sheet options are ignored for source type 'csv'", prefix)
		}
	case SourceTypeXLSX:
		if cfg.SheetName != "" {
			if err := validateSheetName(cfg.SheetName, fmt.Sprintf("%s.SheetName", prefix)); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if cfg.SheetIndex != nil && *cfg.SheetIndex < 0 {
			errs = append(errs, fmt.Sprintf("- %s.SheetIndex: cannot be negative", prefix))
		}
		if cfg.SheetName != "" && cfg.SheetIndex != nil {
			logging.Logf(logging.Warning, "Validation: Both %s.SheetName ('%s') and %s.SheetIndex (%d) are specified. SheetName will be used.", prefix, cfg.SheetName, prefix, *cfg.SheetIndex)
		}
	}
	return errs
}

// validateDestinationConfig validates the Destination section of the configuration.
func validateDestinationConfig(prefix string, cfg *DestinationConfig, hasSource bool) []string {
	var errs []string
	if cfg.Table != "" && !strings.EqualFold(cfg.Table, DisabledOutput) {
		if !hasSource {
			errs = append(errs, fmt.Sprintf("- %s.Table: requires Config.Source.File", prefix))
		}
		if ext := strings.ToLower(filepath.Ext(cfg.Table)); !isValidEnumValue(ext, knownTableExts) {
			errs = append(errs, fmt.Sprintf("- %s.Table: unsupported extension '%s', must be one of %v", prefix, ext, knownTableExts))
		}
	}
	if cfg.CodeSeparator == "" {
		errs = append(errs, fmt.Sprintf("- %s.CodeSeparator: cannot be empty", prefix))
	}
	if err := validateSingleRuneString(cfg.Delimiter, fmt.Sprintf("%s.Delimiter", prefix), false); err != nil {
		errs = append(errs, err.Error())
	}

	seen := make(map[string]string)
	for name, p := range map[string]string{"JSON": cfg.JSON, "XLSX": cfg.XLSX, "CSV": cfg.CSV, "Table": cfg.Table} {
		if p == "" || strings.EqualFold(p, DisabledOutput) {
			continue
		}
		clean := filepath.Clean(p)
		if other, dup := seen[clean]; dup {
			first, second := other, name
			if second < first {
				first, second = second, first
			}
			errs = append(errs, fmt.Sprintf("- %s.%s: path '%s' is also used by %s.%s", prefix, second, p, prefix, first))
			continue
		}
		seen[clean] = name
	}
	return errs
}

// validateSingleRuneString checks if a string is exactly one character long.
func validateSingleRuneString(s, fieldName string, allowEmpty bool) error {
	if s == "" {
		if !allowEmpty {
			return fmt.Errorf("- %s: cannot be empty", fieldName)
		}
		return nil // Empty is allowed
	}
	if utf8.RuneCountInString(s) != 1 {
		return fmt.Errorf("- %s: %s must be a single character", fieldName, strconv.Quote(s))
	}
	return nil
}

// validateSheetName checks if an Excel sheet name is valid according to Excel limitations.
func validateSheetName(sheetName, fieldName string) error {
	if sheetName == "" {
		return fmt.Errorf("- %s: sheet name cannot be empty", fieldName)
	}
	if utf8.RuneCountInString(sheetName) > 31 {
		return fmt.Errorf("- %s: '%s' exceeds maximum length of 31 characters", fieldName, sheetName)
	}
	// Check for invalid characters as defined by Excel documentation
	if strings.ContainsAny(sheetName, `:\/?*[]`) {
		return fmt.Errorf("- %s: '%s' contains invalid characters (: \\ / ? * [ ])", fieldName, sheetName)
	}
	// Check if name starts or ends with a single quote (apostrophe)
	if strings.HasPrefix(sheetName, "'") || strings.HasSuffix(sheetName, "'") {
		return fmt.Errorf("- %s: '%s' cannot start or end with a single quote", fieldName, sheetName)
	}
	return nil
}
