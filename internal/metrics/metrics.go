// Package metrics holds the Prometheus collectors for a toxfetch run.
//
// The collectors live on a dedicated registry so that a run can be dumped to a
// node_exporter textfile without the Go runtime collectors.
//
// Request metrics (internal/pubchem):
//   - toxfetch_requests_total{view, status}
//   - toxfetch_request_duration_seconds{view}
//   - toxfetch_retries_total{error_class}
//   - toxfetch_retry_exhausted_total{error_class}
//
// Run metrics (internal/processor):
//   - toxfetch_items_total{outcome}
//   - toxfetch_parse_degradations_total{path}
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the registry all toxfetch collectors are registered with.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	RequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "toxfetch_requests_total",
		Help: "Total PubChem requests by view and HTTP status",
	}, []string{"view", "status"})

	RequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toxfetch_request_duration_seconds",
		Help:    "PubChem request duration in seconds by view",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"view"})

	RetriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "toxfetch_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	RetryExhaustedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "toxfetch_retry_exhausted_total",
		Help: "Total number of requests that exhausted their retries by error class",
	}, []string{"error_class"})

	ItemsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "toxfetch_items_total",
		Help: "Processed input items by outcome",
	}, []string{"outcome"})

	ParseDegradationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "toxfetch_parse_degradations_total",
		Help: "Sub-paths of provider responses that could not be parsed",
	}, []string{"path"})
)

// WriteTextfile writes the current state of Registry to path in the
// Prometheus text exposition format.
func WriteTextfile(path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for metrics file '%s': %w", path, err)
		}
	}
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics file '%s': %w", path, err)
	}
	return nil
}
