// Package telemetry wires tracing and metrics for the agent pipeline.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/threadr-ai/threadr/internal/workflow"
)

// Options configures telemetry initialization.
type Options struct {
	Enabled      bool
	ServiceName  string
	MetricsPort  int
	OTLPEndpoint string
}

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadr",
		Name:      "runs_total",
		Help:      "Finished runs by terminal state and reason.",
	}, []string{"terminal", "reason"})

	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "threadr",
		Name:      "invocations_total",
		Help:      "Capability invocations by capability and outcome kind.",
	}, []string{"capability", "outcome"})

	runIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "threadr",
		Name:      "run_iterations",
		Help:      "Iterations consumed per finished run.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16, 24},
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "threadr",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of finished runs.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
	})
)

// Init sets up the OTLP tracer provider and, when a port is configured,
// serves /metrics. The returned shutdown flushes spans.
func Init(ctx context.Context, opts Options, logger *log.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[Telemetry] ", log.LstdFlags)
	}
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "threadr"
	}

	if opts.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			addr := fmt.Sprintf(":%d", opts.MetricsPort)
			logger.Printf("serving metrics on %s/metrics", addr)
			if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	if opts.OTLPEndpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// MetricsSink adapts orchestrator events into the run and invocation metrics
// and a structured log line per transition.
func MetricsSink(logger *log.Logger) workflow.TraceSink {
	if logger == nil {
		logger = log.New(log.Writer(), "[Trace] ", log.LstdFlags)
	}
	return workflow.SinkFunc(func(event workflow.Event) {
		if event.Action == "invoke" && event.Outcome != nil {
			invocationsTotal.WithLabelValues(string(event.Capability), string(event.Outcome.Kind)).Inc()
		}
		switch event.Action {
		case "invoke":
			kind := ""
			if event.Outcome != nil {
				kind = string(event.Outcome.Kind)
			}
			logger.Printf("run=%s seq=%d invoke step=%s capability=%s outcome=%s reason=%s",
				event.RunID, event.Seq, event.StepID, event.Capability, kind, event.Reason)
		case "advance":
			logger.Printf("run=%s seq=%d advance step=%s index=%d->%d",
				event.RunID, event.Seq, event.StepID, event.Before.StepIndex, event.After.StepIndex)
		case "finish":
			runsTotal.WithLabelValues(string(event.After.Terminal), event.Reason).Inc()
			runIterations.Observe(float64(event.After.Iterations))
			runDuration.Observe(event.Elapsed.Seconds())
			logger.Printf("run=%s seq=%d finish terminal=%s reason=%s iterations=%d elapsed=%s",
				event.RunID, event.Seq, event.After.Terminal, event.Reason, event.After.Iterations, event.Elapsed.Round(time.Millisecond))
		}
	})
}
