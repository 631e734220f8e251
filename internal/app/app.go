package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"toxfetch/internal/cas"
	"toxfetch/internal/config"
	etlio "toxfetch/internal/io"
	"toxfetch/internal/logging"
	"toxfetch/internal/metrics"
	"toxfetch/internal/model"
	"toxfetch/internal/processor"
	"toxfetch/internal/pubchem"

	"github.com/Knetic/govaluate"
)

// Define common application-level errors.
var (
	ErrUsage          = errors.New("usage error")
	ErrConfigNotFound = errors.New("configuration file not found")
	ErrMissingArgs    = errors.New("missing required arguments")
	ErrItemsFailed    = errors.New("one or more CAS numbers failed")
)

// Skip reasons recorded on input rows that are never looked up.
const (
	skipEmptyCAS = "empty CAS"
	skipFiltered = "excluded by filter"
)

// --- Interfaces for Mocking ---

// expressionEvaluator defines the interface for evaluating filter expressions.
// This allows mocking the govaluate dependency.
type expressionEvaluator interface {
	Evaluate(map[string]interface{}) (interface{}, error)
}

// provider is the lookup backend plus the session it owns.
type provider interface {
	processor.Provider
	Close() error
}

// --- Factory Variables (Allow Overriding for Testing) ---
var (
	// IO Factories
	newTableReaderFunc = etlio.NewTableReader
	newOutputsFunc     = etlio.NewOutputs
	writeAllFunc       = etlio.WriteAll

	// Provider and Processor Factories
	newProviderFunc = func(cfg pubchem.Config) provider {
		return pubchem.New(cfg)
	}
	newProcessorFunc = processor.NewProcessor

	// Evaluator Factory (Wraps govaluate)
	newExpressionEvaluatorFunc = func(expr string) (expressionEvaluator, error) {
		evalExpr, err := govaluate.NewEvaluableExpression(expr)
		if err != nil {
			return nil, err
		}
		return evalExpr, nil
	}

	writeMetricsFunc = metrics.WriteTextfile
	osStatFunc       = os.Stat
)

// AppRunner encapsulates the application's execution logic.
type AppRunner struct {
	// Stdin feeds the interactive CAS prompt.
	Stdin io.Reader
	// Prompt receives the interactive prompt text.
	Prompt io.Writer
}

// NewAppRunner creates a new instance of the application runner.
func NewAppRunner() *AppRunner {
	return &AppRunner{Stdin: os.Stdin, Prompt: os.Stderr}
}

// usageText defines the command-line help information.
const usageText = `Usage:
  toxfetch [options] [CAS ...]

Looks up CAS numbers in PubChem and exports toxicity and GHS data.
Without CAS arguments or -input, CAS numbers are read from standard input,
one per line, until an empty line.

Options:
  -config string
        YAML configuration file
  -mode string
        full (names, literature, tox data, GHS) or ghs (GHS codes only) (default "full")
  -input string
        CSV or XLSX table whose CAS column is looked up
  -cas-column string
        Column of the input table holding CAS numbers (default "CAS")
  -json string
        JSON output file, "none" to disable (default "tox_data.json")
  -xlsx string
        Workbook output file, "none" to disable (default "tox_data.xlsx" in full mode)
  -csv string
        Flat CSV output file (disabled by default)
  -table string
        Input table augmented with Hazards and Precautions columns
        (default "chemicals_with_ghs.csv" in ghs mode with -input)
  -batch-size int
        CAS numbers looked up concurrently per batch (default 5)
  -pause duration
        Pause between batches (default 2s)
  -retries int
        Attempts per request, including the first (default 3)
  -loglevel string
        Logging level (none, error, warn, info, debug) (default "info")
  -metrics-file string
        Write run metrics in Prometheus text format to this file
  -fail-on-error
        Exit with an error when any CAS number was not found or failed
  -dry-run
        Read and validate inputs without contacting PubChem or writing outputs
  -help
        Show help

Environment Variables:
  Any VAR          Can be used in config paths via $VAR/${VAR} or %VAR%

Examples:
  toxfetch 50-00-0 64-17-5
  toxfetch -mode=ghs -input=inventory.xlsx -cas-column="CAS No."
  toxfetch -config=toxfetch.yaml -loglevel=debug -metrics-file=/var/lib/node_exporter/toxfetch.prom
`

// Usage prints the command-line help information to the specified writer.
func (a *AppRunner) Usage(writer io.Writer) {
	fmt.Fprint(writer, usageText)
}

// Run parses command-line arguments, looks up every CAS number and writes
// the configured outputs. Item errors do not fail the run unless
// fail-on-error is requested, in which case ErrItemsFailed is returned
// after the outputs have been written.
func (a *AppRunner) Run(ctx context.Context, args []string) error {
	// --- Flag Parsing ---
	fs := flag.NewFlagSet("toxfetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFile := fs.String("config", "", "YAML configuration file")
	modeFlag := fs.String("mode", "", "Lookup mode")
	inputFlag := fs.String("input", "", "Input table")
	casColumnFlag := fs.String("cas-column", "", "CAS column of the input table")
	jsonFlag := fs.String("json", "", "JSON output file")
	xlsxFlag := fs.String("xlsx", "", "Workbook output file")
	csvFlag := fs.String("csv", "", "Flat CSV output file")
	tableFlag := fs.String("table", "", "Augmented table output file")
	batchSizeFlag := fs.Int("batch-size", 0, "Batch size")
	pauseFlag := fs.Duration("pause", 0, "Pause between batches")
	retriesFlag := fs.Int("retries", 0, "Attempts per request")
	logLevelStr := fs.String("loglevel", "info", "Logging level")
	metricsFlag := fs.String("metrics-file", "", "Metrics textfile")
	failOnErrorFlag := fs.Bool("fail-on-error", false, "Fail on item errors")
	dryRunFlag := fs.Bool("dry-run", false, "Perform dry run")
	helpFlag := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			a.Usage(os.Stderr)
			return nil
		}
		logging.Logf(logging.Error, "Failed to parse args: %v", err)
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *helpFlag {
		a.Usage(os.Stderr)
		return nil
	}

	// --- Initial Setup & Config Loading ---
	logging.SetupLogging(*logLevelStr)
	cfg, err := a.loadConfig(*configFile)
	if err != nil {
		return err
	}

	// --- Flag Overrides ---
	if isFlagSet(fs, "mode") {
		cfg.Mode = *modeFlag
	}
	if isFlagSet(fs, "input") {
		cfg.Source.File = *inputFlag
		cfg.Source.Type = ""
		logging.Logf(logging.Info, "Override input: %s", cfg.Source.File)
	}
	if isFlagSet(fs, "cas-column") {
		cfg.Source.CASColumn = *casColumnFlag
	}
	if isFlagSet(fs, "json") {
		cfg.Destination.JSON = *jsonFlag
	}
	if isFlagSet(fs, "xlsx") {
		cfg.Destination.XLSX = *xlsxFlag
	}
	if isFlagSet(fs, "csv") {
		cfg.Destination.CSV = *csvFlag
	}
	if isFlagSet(fs, "table") {
		cfg.Destination.Table = *tableFlag
	}
	if isFlagSet(fs, "batch-size") {
		cfg.Batch.Size = *batchSizeFlag
	}
	if isFlagSet(fs, "pause") {
		cfg.Batch.Pause = config.NewDuration(*pauseFlag)
	}
	if isFlagSet(fs, "retries") {
		cfg.Retry.MaxAttempts = *retriesFlag
	}
	if isFlagSet(fs, "metrics-file") {
		cfg.Metrics.Textfile = *metricsFlag
	}
	if isFlagSet(fs, "fail-on-error") {
		cfg.FailOnItemErrors = *failOnErrorFlag
	}
	if isFlagSet(fs, "loglevel") {
		cfg.Logging.Level = *logLevelStr
	}

	// --- Final Configuration ---
	if err := config.Finalize(cfg); err != nil {
		logging.Logf(logging.Error, "Invalid configuration: %v", err)
		return err
	}
	logging.SetupLogging(cfg.Logging.Level)
	logging.SetFormat(cfg.Logging.Format)

	positional := nonEmpty(fs.Args())
	if cfg.Source.File != "" && len(positional) > 0 {
		return fmt.Errorf("%w: CAS arguments cannot be combined with an input table", ErrUsage)
	}

	// --- Inputs ---
	var (
		table  *etlio.Table
		inputs []model.InputRecord
	)
	switch {
	case cfg.Source.File != "":
		table, inputs, err = a.readTable(cfg.Source)
		if err != nil {
			return err
		}
	case len(positional) > 0:
		inputs = casInputs(positional)
	default:
		cases, err := a.prompt()
		if err != nil {
			return fmt.Errorf("failed to read CAS numbers from standard input: %w", err)
		}
		inputs = casInputs(cases)
	}
	if len(inputs) == 0 {
		logging.Logf(logging.Error, "No CAS numbers provided.")
		return ErrMissingArgs
	}
	warnMalformed(inputs)

	// Built before any lookup so schema problems surface without network traffic.
	outputs, err := newOutputsFunc(cfg.Destination, table, cfg.Source.CASColumn)
	if err != nil {
		return fmt.Errorf("failed to prepare outputs: %w", err)
	}

	if *dryRunFlag {
		logDryRun(cfg, inputs, outputs)
		return nil
	}

	// --- Lookup ---
	client := newProviderFunc(cfg.ClientConfig())
	defer func() {
		if err := client.Close(); err != nil {
			logging.Logf(logging.Debug, "Failed to close PubChem session: %v", err)
		}
	}()

	proc := newProcessorFunc(client, processor.Config{
		Mode:      cfg.ModelMode(),
		BatchSize: cfg.Batch.Size,
		Pause:     cfg.Batch.Pause.Duration,
	})
	logging.Logf(logging.Info, "Looking up %d CAS numbers in %s mode...", len(inputs), cfg.Mode)
	records := proc.Run(ctx, inputs)
	summary := proc.Summary()

	// --- Export ---
	if len(outputs) == 0 {
		logging.Logf(logging.Warning, "All outputs are disabled; results were not written.")
	}
	if err := writeAllFunc(outputs, records); err != nil {
		return fmt.Errorf("failed to write outputs: %w", err)
	}
	for _, o := range outputs {
		logging.Logf(logging.Info, "Wrote %s output: %s", o.Name, o.Path)
	}

	if cfg.Metrics.Textfile != "" {
		if err := writeMetricsFunc(cfg.Metrics.Textfile); err != nil {
			logging.Logf(logging.Warning, "Metrics were not written: %v", err)
		} else {
			logging.Logf(logging.Debug, "Metrics written to %s", cfg.Metrics.Textfile)
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("run interrupted: %w", ctxErr)
	}
	if cfg.FailOnItemErrors && summary.ItemErrors() > 0 {
		return fmt.Errorf("%w: %d of %d", ErrItemsFailed, summary.ItemErrors(), summary.Total)
	}
	return nil
}

// loadConfig reads the YAML file when one is given and falls back to the
// built-in defaults otherwise.
func (a *AppRunner) loadConfig(configFile string) (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	if _, err := osStatFunc(configFile); err != nil {
		if os.IsNotExist(err) {
			logging.Logf(logging.Error, "Config file '%s' not found.", configFile)
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to stat config file '%s': %w", configFile, err)
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logging.Logf(logging.Error, "Error loading/validating config '%s': %v", configFile, err)
		return nil, err
	}
	logging.Logf(logging.Info, "Using config: %s", configFile)
	return cfg, nil
}

// readTable loads the input table and turns every data row into an input
// record. Rows keep their position so the augmented table lines up with
// the results; rows without a CAS or rejected by the filter are marked
// skipped instead of dropped.
func (a *AppRunner) readTable(src config.SourceConfig) (*etlio.Table, []model.InputRecord, error) {
	reader, err := newTableReaderFunc(src)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create input reader: %w", err)
	}
	logging.Logf(logging.Info, "Reading %s input %s...", src.Type, src.File)
	table, err := reader.Read(src.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read input table: %w", err)
	}
	casValues, err := table.Column(src.CASColumn)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	var filter expressionEvaluator
	if src.Filter != "" {
		logging.Logf(logging.Info, "Applying filter: %s", src.Filter)
		filter, err = newExpressionEvaluatorFunc(src.Filter)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid filter expression '%s': %w", src.Filter, err)
		}
	}

	inputs := make([]model.InputRecord, len(table.Rows))
	skipped := 0
	for i := range table.Rows {
		row := table.RowMap(i)
		in := model.InputRecord{Index: i, CAS: cas.Normalize(casValues[i]), Row: row}
		switch {
		case in.CAS == "":
			in.Skip = skipEmptyCAS
		case filter != nil:
			if reason := evaluateFilter(filter, i, row); reason != "" {
				in.Skip = reason
			}
		}
		if in.Skip != "" {
			skipped++
		}
		inputs[i] = in
	}
	logging.Logf(logging.Info, "Read %d rows from %s (%d will not be looked up).", len(inputs), src.File, skipped)
	return table, inputs, nil
}

// evaluateFilter returns an empty string when the row should be looked up
// and the skip reason otherwise.
func evaluateFilter(filter expressionEvaluator, idx int, row map[string]string) string {
	result, err := filter.Evaluate(filterParams(row))
	if err != nil {
		logging.Logf(logging.Error, "Filter fail R#%d: %v. Skip.", idx, err)
		return fmt.Sprintf("filter error: %v", err)
	}
	keep, isBool := result.(bool)
	if !isBool {
		logging.Logf(logging.Error, "Filter non-bool R#%d (type %T): %v. Skip.", idx, result, result)
		return fmt.Sprintf("filter returned %T, not bool", result)
	}
	if !keep {
		logging.Logf(logging.Debug, "Row %d skipped by filter.", idx)
		return skipFiltered
	}
	return ""
}

// filterParams exposes a row to govaluate, with numeric cells as float64 so
// comparisons such as "Quantity > 5" work.
func filterParams(row map[string]string) map[string]interface{} {
	params := make(map[string]interface{}, len(row))
	for k, v := range row {
		trimmed := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			params[k] = f
			continue
		}
		params[k] = trimmed
	}
	return params
}

// prompt reads CAS numbers one per line until an empty line or EOF.
func (a *AppRunner) prompt() ([]string, error) {
	if a.Stdin == nil {
		return nil, nil
	}
	if a.Prompt != nil {
		fmt.Fprintln(a.Prompt, "Enter CAS numbers (one per line). Press Enter on an empty line to finish:")
	}
	var out []string
	scanner := bufio.NewScanner(a.Stdin)
	for scanner.Scan() {
		line := cas.Normalize(scanner.Text())
		if line == "" {
			break
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}

func casInputs(values []string) []model.InputRecord {
	inputs := make([]model.InputRecord, 0, len(values))
	for _, v := range values {
		inputs = append(inputs, model.InputRecord{Index: len(inputs), CAS: cas.Normalize(v)})
	}
	return inputs
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// warnMalformed logs CAS numbers with a bad layout or check digit. They are
// still looked up; PubChem decides whether they resolve.
func warnMalformed(inputs []model.InputRecord) {
	for _, in := range inputs {
		if in.Skip != "" {
			continue
		}
		if err := cas.Validate(in.CAS); err != nil {
			logging.Logf(logging.Warning, "Possibly malformed CAS number at row %d: %v", in.Index, err)
		}
	}
}

func logDryRun(cfg *config.Config, inputs []model.InputRecord, outputs []etlio.Output) {
	lookups := 0
	for _, in := range inputs {
		if in.Skip == "" {
			lookups++
		}
	}
	batches := (lookups + cfg.Batch.Size - 1) / cfg.Batch.Size
	estimate := time.Duration(max(batches-1, 0)) * cfg.Batch.Pause.Duration
	logging.Logf(logging.Info, "DRY RUN: Skip lookup. Would look up %d of %d CAS numbers in %d batches (at least %s of pauses).",
		lookups, len(inputs), batches, estimate)
	for _, o := range outputs {
		logging.Logf(logging.Info, "DRY RUN: Would write %s output to %s", o.Name, o.Path)
	}
	sampleSize := min(5, len(inputs))
	for i := 0; i < sampleSize; i++ {
		logging.Logf(logging.Debug, "Input %d: CAS '%s' skip=%q", inputs[i].Index, inputs[i].CAS, inputs[i].Skip)
	}
}

// Helper functions
func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
