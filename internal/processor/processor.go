package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"toxfetch/internal/extract"
	"toxfetch/internal/logging"
	"toxfetch/internal/metrics"
	"toxfetch/internal/model"
	"toxfetch/internal/pubchem"
)

const (
	// DefaultBatchSize keeps the request rate within PubChem's limit of about five requests per second.
	DefaultBatchSize = 5
	// DefaultPause is the delay inserted before every batch after the first.
	DefaultPause = 2 * time.Second
)

// Provider resolves registry numbers and fetches compound views.
// *pubchem.Client satisfies it; tests substitute a stub.
type Provider interface {
	ResolveCID(ctx context.Context, cas string) (int64, error)
	Fetch(ctx context.Context, cid int64, view model.ViewType) (model.RawView, error)
}

// Config controls batching and what is fetched per compound.
type Config struct {
	Mode      model.Mode
	BatchSize int
	Pause     time.Duration
}

// Summary counts the outcomes of a run.
type Summary struct {
	Total    int
	OK       int
	NotFound int
	Failed   int
	Skipped  int
	Batches  int
}

// ItemErrors is the number of inputs that were looked up and did not produce data.
func (s Summary) ItemErrors() int {
	return s.NotFound + s.Failed
}

// Processor runs lookups for a list of inputs.
// This allows mocking the processor implementation in tests.
type Processor interface {
	Run(ctx context.Context, inputs []model.InputRecord) []model.Record
	Summary() Summary
}

// processorImpl drives resolution, fetching and normalization in paced batches.
type processorImpl struct {
	provider Provider
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
	logger   zerolog.Logger

	mu      sync.Mutex
	summary Summary
}

// NewProcessor creates a new Processor instance satisfying the Processor interface.
func NewProcessor(provider Provider, cfg Config) Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if !cfg.Mode.Valid() {
		cfg.Mode = model.ModeFull
	}
	return &processorImpl{
		provider: provider,
		cfg:      cfg,
		sleep:    sleepContext,
		logger:   logging.Component("processor"),
	}
}

// Summary returns the outcome counts of the last Run.
func (p *processorImpl) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary
}

// Run looks up every input and returns one record per input, in input order.
//
// Inputs are processed in batches of Config.BatchSize; the items of a batch run
// concurrently and Config.Pause is waited before each batch after the first.
// Item failures become error records and never stop the run. When ctx is
// cancelled the items not yet started become error records as well.
func (p *processorImpl) Run(ctx context.Context, inputs []model.InputRecord) []model.Record {
	results := make([]model.Record, len(inputs))
	p.mu.Lock()
	p.summary = Summary{Total: len(inputs)}
	p.mu.Unlock()

	if len(inputs) == 0 {
		logging.Logf(logging.Info, "Processor: No inputs to process.")
		return results
	}

	batches := (len(inputs) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
	logging.Logf(logging.Info, "Fetching data for %d CAS numbers in %d batch(es) of up to %d...", len(inputs), batches, p.cfg.BatchSize)

	for b := 0; b < batches; b++ {
		start := b * p.cfg.BatchSize
		end := start + p.cfg.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}

		if b > 0 && p.cfg.Pause > 0 {
			logging.Logf(logging.Info, "Batch completed. Sleeping %s...", p.cfg.Pause)
			if err := p.sleep(ctx, p.cfg.Pause); err != nil {
				p.cancelRemaining(inputs, start, results, err)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			p.cancelRemaining(inputs, start, results, err)
			break
		}

		p.mu.Lock()
		p.summary.Batches++
		p.mu.Unlock()

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = p.processItem(ctx, inputs[i])
				return nil
			})
		}
		_ = g.Wait()
		logging.Logf(logging.Debug, "Processor: batch %d/%d done (%d items).", b+1, batches, end-start)
	}

	for i := range results {
		p.count(results[i])
	}
	s := p.Summary()
	logging.Logf(logging.Info, "Processed %d CAS numbers: %d ok, %d not found, %d failed, %d skipped.",
		s.Total, s.OK, s.NotFound, s.Failed, s.Skipped)
	return results
}

// processItem runs resolve, fetch and normalize for one input.
func (p *processorImpl) processItem(ctx context.Context, in model.InputRecord) model.Record {
	if in.Skip != "" {
		logging.Logf(logging.Debug, "Skipping row %d (CAS '%s'): %s", in.Index, in.CAS, in.Skip)
		return model.NewErrorRecord(in.CAS, 0, model.StatusSkipped, in.Skip)
	}

	logging.Logf(logging.Info, "Processing CAS %s", in.CAS)
	cid, err := p.provider.ResolveCID(ctx, in.CAS)
	if err != nil {
		logging.Logf(logging.Warning, "No PubChem match for CAS %s: %v", in.CAS, err)
		return model.NewErrorRecord(in.CAS, 0, statusFor(err), err.Error())
	}
	logging.Logf(logging.Info, "Found CID %d for CAS %s", cid, in.CAS)

	views := make(map[model.ViewType]model.RawView, 2)
	for _, view := range p.cfg.Mode.Views() {
		raw, err := p.provider.Fetch(ctx, cid, view)
		if err == nil {
			views[view] = raw
			continue
		}
		if !degradable(view, err) {
			logging.Logf(logging.Warning, "Fetching %s data for CAS %s (CID %d) failed: %v", view, in.CAS, cid, err)
			return model.NewErrorRecord(in.CAS, cid, statusFor(err), err.Error())
		}
		p.logger.Warn().Err(err).Str("cas", in.CAS).Int64("cid", cid).Str("view", string(view)).Msg("View unavailable")
		views[view] = model.RawView{View: view, CID: cid, Missing: true}
	}

	rec, degraded := extract.Normalize(views, p.cfg.Mode)
	for _, d := range degraded {
		metrics.ParseDegradationsTotal.WithLabelValues(d.Path).Inc()
		p.logger.Debug().Str("cas", in.CAS).Int64("cid", cid).Str("path", d.Path).Str("location", d.Location).Err(d.Err).Msg("Degraded")
	}
	if p.cfg.Mode == model.ModeFull && extract.HasPath(degraded, extract.PathRecord) {
		return model.NewErrorRecord(in.CAS, cid, model.StatusFailed, "could not find compound data")
	}
	rec.CAS = in.CAS
	rec.PubChemCID = cid

	if p.cfg.Mode == model.ModeGHS {
		p.logger.Info().Str("cas", in.CAS).Int64("cid", cid).Strs("hazards", rec.Hazards).Strs("precautions", rec.Precautions).Msg("GHS codes")
	}
	return rec
}

// cancelRemaining fills the results of inputs that were never started.
func (p *processorImpl) cancelRemaining(inputs []model.InputRecord, from int, results []model.Record, cause error) {
	logging.Logf(logging.Warning, "Run cancelled; %d CAS numbers not processed: %v", len(inputs)-from, cause)
	for i := from; i < len(inputs); i++ {
		in := inputs[i]
		if in.Skip != "" {
			results[i] = model.NewErrorRecord(in.CAS, 0, model.StatusSkipped, in.Skip)
			continue
		}
		results[i] = model.NewErrorRecord(in.CAS, 0, model.StatusFailed, fmt.Sprintf("not processed: %v", cause))
	}
}

func (p *processorImpl) count(rec model.Record) {
	status := rec.Status
	if status == "" {
		status = model.StatusOK
	}
	metrics.ItemsTotal.WithLabelValues(string(status)).Inc()

	p.mu.Lock()
	defer p.mu.Unlock()
	switch status {
	case model.StatusOK:
		p.summary.OK++
	case model.StatusNotFound:
		p.summary.NotFound++
	case model.StatusSkipped:
		p.summary.Skipped++
	default:
		p.summary.Failed++
	}
}

// degradable reports whether a failed view leaves a usable record: the
// property view degrades to empty IUPAC/SMILES and a GHS view PubChem does not
// have yields the sentinel. Anything else fails the item.
func degradable(view model.ViewType, err error) bool {
	if errors.Is(err, pubchem.ErrContextCancelled) {
		return false
	}
	switch view {
	case model.ViewProperties:
		return true
	case model.ViewGHS:
		return errors.Is(err, pubchem.ErrNotFound)
	default:
		return false
	}
}

// statusFor maps a lookup error onto a record status.
func statusFor(err error) model.Status {
	if errors.Is(err, pubchem.ErrNotFound) {
		return model.StatusNotFound
	}
	return model.StatusFailed
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
