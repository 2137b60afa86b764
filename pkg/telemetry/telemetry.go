// Package telemetry sets up OpenTelemetry metrics and tracing for the engine
// and serves the metrics in the Prometheus exposition format.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

var ErrInvalidConfig = errors.New("invalid telemetry configuration")

// Config holds all the configuration for the telemetry system.
type Config struct {
	// Enabled toggles metrics and tracing. Disabled telemetry hands out
	// no-op providers.
	Enabled bool `yaml:"enabled"`
	// ServiceName appears in the resource of every trace and metric.
	ServiceName string `yaml:"service_name"`
	// PrometheusAddr is the listen address of the /metrics endpoint, for
	// example ":9464". Empty means no endpoint is served; Handler can still
	// be mounted elsewhere.
	PrometheusAddr string `yaml:"prometheus_addr"`
	// TraceSampleRatio is the fraction of traces to sample. Values outside
	// (0, 1] sample everything.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

func DefaultConfig() Config {
	return Config{ServiceName: "batchdb", TraceSampleRatio: 1}
}

func (c Config) Validate() error {
	if c.Enabled && c.ServiceName == "" {
		return fmt.Errorf("%w: service_name is required when telemetry is enabled", ErrInvalidConfig)
	}
	return nil
}

// Telemetry represents the active telemetry components.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter

	registry *prometheus.Registry
	server   *http.Server
}

// ShutdownFunc flushes and stops the providers and the metrics endpoint.
type ShutdownFunc func(ctx context.Context) error

// New initializes the OpenTelemetry SDK. Metrics are exported to a private
// Prometheus registry, served on PrometheusAddr when it is set.
func New(config Config) (*Telemetry, ShutdownFunc, error) {
	if !config.Enabled {
		return &Telemetry{
			Tracer: nooptrace.NewTracerProvider().Tracer(""),
			Meter:  noop.NewMeterProvider().Meter(""),
		}, func(context.Context) error { return nil }, nil
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	sampleRatio := config.TraceSampleRatio
	if sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1.0
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(sampleRatio)),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	tel := &Telemetry{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Tracer:         tracerProvider.Tracer(config.ServiceName),
		Meter:          meterProvider.Meter(config.ServiceName),
		registry:       registry,
	}

	if config.PrometheusAddr != "" {
		ln, err := net.Listen("tcp", config.PrometheusAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to listen on %s: %w", config.PrometheusAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.Handler())
		tel.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := tel.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				otel.Handle(fmt.Errorf("prometheus http server failed: %w", err))
			}
		}()
	}

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var errs []error
		if tel.server != nil {
			if err := tel.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shutdown metrics endpoint: %w", err))
			}
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
		if err := meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
		return errors.Join(errs...)
	}

	return tel, shutdown, nil
}

// Handler serves the registry in the Prometheus exposition format. It
// returns 404 when telemetry is disabled.
func (t *Telemetry) Handler() http.Handler {
	if t.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Enabled reports whether real providers are installed.
func (t *Telemetry) Enabled() bool { return t.MeterProvider != nil }
