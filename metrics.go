package algoprox

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("algoprox")

// startSpan opens a span tagged with the backend name.
func startSpan(ctx context.Context, backend, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, backend+"."+op,
		trace.WithAttributes(attribute.String("backend", backend)))
}

// metrics holds the collectors shared by all backends. The backend name is
// a label so several backends can report to one registry.
type metrics struct {
	iterations   *prometheus.CounterVec
	steps        *prometheus.GaugeVec
	residuals    *prometheus.GaugeVec
	cgIterations *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "algoprox",
				Name:      "iterations_total",
				Help:      "Solver iterations performed",
			},
			[]string{"backend"},
		),
		steps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "algoprox",
				Name:      "step_size",
				Help:      "Current step size parameters",
			},
			[]string{"backend", "param"},
		),
		residuals: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "algoprox",
				Name:      "residual",
				Help:      "Primal and dual residual at the last check",
			},
			[]string{"backend", "kind"},
		),
		cgIterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "algoprox",
				Name:      "cg_iterations",
				Help:      "Inner conjugate gradient iterations per solve",
				Buckets:   prometheus.LinearBuckets(1, 2, 10),
			},
			[]string{"backend"},
		),
	}
	if reg == nil {
		return m
	}

	m.iterations = register(reg, m.iterations)
	m.steps = register(reg, m.steps)
	m.residuals = register(reg, m.residuals)
	m.cgIterations = register(reg, m.cgIterations)
	return m
}

// register adds c to reg. If an equal collector is already registered it is
// reused, so backends created against one registry share their series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var alreadyErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyErr) {
			if existing, ok := alreadyErr.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) residual(backend string, primal, dual float64) {
	m.residuals.WithLabelValues(backend, "primal").Set(primal)
	m.residuals.WithLabelValues(backend, "dual").Set(dual)
}
