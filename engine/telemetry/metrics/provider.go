// Package metrics defines a small metrics abstraction with two concrete
// backends (Prometheus, OpenTelemetry) plus a no-op default, so pipeline
// stages can be instrumented without hard-wiring either SDK.
package metrics

import "context"

// CommonOpts names a metric; Namespace/Subsystem/Name compose into the
// backend-specific fully qualified name (e.g. "timingcore_pipeline_stage_latency").
type CommonOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Labels    []string
}

// CounterOpts configures a monotonically increasing counter.
type CounterOpts struct {
	CommonOpts
}

// GaugeOpts configures a value that can go up or down.
type GaugeOpts struct {
	CommonOpts
}

// HistogramOpts configures a distribution of observed values.
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// Counter increments by non-negative deltas.
type Counter interface {
	Inc(delta float64, labels ...string)
}

// Gauge can be set to an absolute value or adjusted by a delta.
type Gauge interface {
	Set(value float64, labels ...string)
	Add(delta float64, labels ...string)
}

// Histogram records individual observations.
type Histogram interface {
	Observe(value float64, labels ...string)
}

// Timer observes the elapsed duration, in seconds, since it was created.
type Timer interface {
	ObserveDuration(labels ...string)
}

// Provider constructs instruments and reports its own health.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	NewTimer(h HistogramOpts) func() Timer
	Health(ctx context.Context) error
}

// NewNoopProvider returns a Provider whose instruments discard everything;
// used as the default when no metrics backend is configured, and in tests.
func NewNoopProvider() Provider { return noopProvider{} }

type noopProvider struct{}

func (noopProvider) NewCounter(CounterOpts) Counter     { return noopCounter{} }
func (noopProvider) NewGauge(GaugeOpts) Gauge           { return noopGauge{} }
func (noopProvider) NewHistogram(HistogramOpts) Histogram { return noopHistogram{} }
func (noopProvider) NewTimer(HistogramOpts) func() Timer {
	return func() Timer { return noopTimer{} }
}
func (noopProvider) Health(context.Context) error { return nil }

type noopCounter struct{}

func (noopCounter) Inc(float64, ...string) {}

type noopGauge struct{}

func (noopGauge) Set(float64, ...string) {}
func (noopGauge) Add(float64, ...string) {}

type noopHistogram struct{}

func (noopHistogram) Observe(float64, ...string) {}

type noopTimer struct{}

func (noopTimer) ObserveDuration(...string) {}
