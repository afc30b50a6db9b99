// Package telemetry installs the global OpenTelemetry tracer provider.
//
// Spans go to an OTLP/HTTP collector, to a writer (stdout by default), or
// both. With neither configured the global provider stays a no-op.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config groups the tracing settings
type Config struct {
	// OTLPEndpoint is the host:port of an OTLP/HTTP collector, e.g.
	// "localhost:4318". Empty disables the OTLP exporter.
	OTLPEndpoint string

	// Insecure sends OTLP over plain HTTP
	Insecure bool

	// Stdout pretty-prints spans to Writer
	Stdout bool
	Writer io.Writer // defaults to os.Stdout

	ServiceName    string
	ServiceVersion string
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

// Enabled reports whether any exporter is configured
func (c Config) Enabled() bool {
	return c.OTLPEndpoint != "" || c.Stdout
}

// Setup builds the tracer provider and installs it globally. The returned
// ShutdownFunc is never nil.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	if !cfg.Enabled() {
		return noopShutdown, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "yggsync"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(name),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("building OTel resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if cfg.OTLPEndpoint != "" {
		httpOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, httpOpts...)
		if err != nil {
			return noopShutdown, fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	if cfg.Stdout {
		stdoutOpts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Writer != nil {
			stdoutOpts = append(stdoutOpts, stdouttrace.WithWriter(cfg.Writer))
		}
		exp, err := stdouttrace.New(stdoutOpts...)
		if err != nil {
			return noopShutdown, fmt.Errorf("creating stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithSyncer(exp))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("trace provider shutdown: %w", err)
		}
		return nil
	}, nil
}

func noopShutdown(context.Context) error { return nil }
