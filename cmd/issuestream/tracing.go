package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultTraceService = "issuestream"

// traceSettings is the OTLP exporter configuration. Tracing stays off
// while Endpoint is empty.
type traceSettings struct {
	Endpoint string
	Insecure bool
	Service  string
}

// traceSettingsFromEnv reads ISSUESTREAM_OTEL_EXPORTER_OTLP_ENDPOINT,
// ISSUESTREAM_OTEL_EXPORTER_OTLP_INSECURE and ISSUESTREAM_OTEL_SERVICE_NAME.
func traceSettingsFromEnv(getenv func(string) string) traceSettings {
	ts := traceSettings{
		Endpoint: strings.TrimSpace(getenv("ISSUESTREAM_OTEL_EXPORTER_OTLP_ENDPOINT")),
		Service:  strings.TrimSpace(getenv("ISSUESTREAM_OTEL_SERVICE_NAME")),
	}
	if raw := strings.TrimSpace(getenv("ISSUESTREAM_OTEL_EXPORTER_OTLP_INSECURE")); raw != "" {
		ts.Insecure, _ = strconv.ParseBool(raw)
	}
	if ts.Service == "" {
		ts.Service = defaultTraceService
	}
	return ts
}

// exporterOptions accepts either a bare host:port or a URL with an optional
// path. An http:// endpoint is always exported without TLS.
func (ts traceSettings) exporterOptions() []otlptracehttp.Option {
	insecure := ts.Insecure
	var opts []otlptracehttp.Option
	u, err := url.Parse(ts.Endpoint)
	switch {
	case err != nil || u.Host == "":
		opts = append(opts, otlptracehttp.WithEndpoint(ts.Endpoint))
	default:
		opts = append(opts, otlptracehttp.WithEndpoint(u.Host))
		if p := strings.TrimSuffix(u.Path, "/"); p != "" {
			opts = append(opts, otlptracehttp.WithURLPath(p))
		}
		insecure = insecure || strings.EqualFold(u.Scheme, "http")
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// initTracing installs the global tracer provider and returns its shutdown.
func initTracing(ctx context.Context) (func(context.Context) error, error) {
	ts := traceSettingsFromEnv(os.Getenv)
	if ts.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracehttp.New(ctx, ts.exporterOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ts.Service))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
