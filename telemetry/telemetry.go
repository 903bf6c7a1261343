// Package telemetry exposes Prometheus metrics and OpenTelemetry spans for
// training sessions.
//
// A nil *Telemetry and Noop() are both valid and record nothing, so every
// component can call the hooks unconditionally.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName is the instrumentation name of all mlexplorer spans.
const TracerName = "mlexplorer"

// Span names.
const (
	SpanSession       = "session.run"
	SpanPreprocessing = "session.preprocess"
	SpanTraining      = "training.train"
	SpanFit           = "training.fit"
	SpanEvaluation    = "evaluation.evaluate"
	SpanRanking       = "leaderboard.rank"
	SpanPersistence   = "artifact.save"
)

// Span attribute keys.
const (
	AttrModel       = attribute.Key("mlx.model")
	AttrProblemType = attribute.Key("mlx.problem_type")
	AttrSessionID   = attribute.Key("mlx.session_id")
	AttrFailureKind = attribute.Key("mlx.failure_kind")
)

// Telemetry bundles the session metrics and the tracer.
type Telemetry struct {
	tracer trace.Tracer

	modelsTrained   *prometheus.CounterVec
	modelFailures   *prometheus.CounterVec
	fitDuration     *prometheus.HistogramVec
	evaluations     *prometheus.CounterVec
	sessionDuration prometheus.Histogram
}

// Option configures Telemetry.
type Option func(*Telemetry)

// WithTracerProvider uses tp instead of the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(t *Telemetry) { t.tracer = tp.Tracer(TracerName) }
}

// New registers the session collectors on reg under namespace.
// reg が nil なら prometheus.DefaultRegisterer を使う
func New(namespace string, reg prometheus.Registerer, opts ...Option) (*Telemetry, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		tracer: otel.Tracer(TracerName),
		modelsTrained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "training",
				Name:      "models_trained_total",
				Help:      "Total models fitted successfully",
			},
			[]string{"model", "problem_type"},
		),
		modelFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "training",
				Name:      "model_failures_total",
				Help:      "Total isolated per-model training failures",
			},
			[]string{"model", "kind"},
		),
		fitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "training",
				Name:      "model_fit_duration_seconds",
				Help:      "Duration of a model fit including CV and grid search",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"model"},
		),
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "evaluation",
				Name:      "evaluations_total",
				Help:      "Total model evaluations on the held-out split",
			},
			[]string{"model"},
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "session_duration_seconds",
				Help:      "Duration of a full training session",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
	}
	for _, opt := range opts {
		opt(t)
	}
	for _, c := range []prometheus.Collector{t.modelsTrained, t.modelFailures, t.fitDuration, t.evaluations, t.sessionDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Noop returns telemetry that records nothing.
func Noop() *Telemetry {
	return &Telemetry{tracer: noop.NewTracerProvider().Tracer(TracerName)}
}

// Start opens a span. On a nil receiver it returns a non-recording span.
func (t *Telemetry) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer(TracerName).Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ObserveFit records a successful fit.
func (t *Telemetry) ObserveFit(model, problemType string, d time.Duration) {
	if t == nil || t.modelsTrained == nil {
		return
	}
	t.modelsTrained.WithLabelValues(model, problemType).Inc()
	t.fitDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveFailure records an isolated training failure.
func (t *Telemetry) ObserveFailure(model, kind string) {
	if t == nil || t.modelFailures == nil {
		return
	}
	t.modelFailures.WithLabelValues(model, kind).Inc()
}

// ObserveEvaluation records a finished evaluation.
func (t *Telemetry) ObserveEvaluation(model string) {
	if t == nil || t.evaluations == nil {
		return
	}
	t.evaluations.WithLabelValues(model).Inc()
}

// ObserveSession records the wall time of a session.
func (t *Telemetry) ObserveSession(d time.Duration) {
	if t == nil || t.sessionDuration == nil {
		return
	}
	t.sessionDuration.Observe(d.Seconds())
}
