// Package observability installs the process-wide logger.
//
// Plain formats log through slog handlers. The otel formats route slog records
// through the OpenTelemetry log SDK, either to a local writer or to an OTLP
// collector configured by the standard OTEL_EXPORTER_OTLP_* variables.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ServiceName identifies log records emitted by this module.
const ServiceName = "tokencache"

// ShutdownFunc flushes and stops the logging pipeline.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Option configures Instrument.
type Option func(*options)

type options struct {
	writer io.Writer
}

// WithWriter sets the destination for text, json and otel output (default stderr).
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.writer = w
		}
	}
}

// Instrument installs the default slog logger for format at level.
// Formats: text, json, otel, otlp-http, otlp-grpc.
func Instrument(ctx context.Context, level slog.Level, format string, opts ...Option) (ShutdownFunc, error) {
	o := &options{writer: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(o.writer, handlerOpts)))
		return noopShutdown, nil
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(o.writer, handlerOpts)))
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, format, o.writer)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
		sdklog.WithProcessor(minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level))),
	)
	global.SetLoggerProvider(provider)

	fallback := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		fallback.Error("log export failed", "error", err)
	}))

	slog.SetDefault(slog.New(otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider))))
	return provider.Shutdown, nil
}

func newExporter(ctx context.Context, format string, w io.Writer) (sdklog.Exporter, error) {
	switch format {
	case "otel":
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case "otlp-http":
		return otlploghttp.New(ctx)
	case "otlp-grpc":
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// severity maps a slog level onto the otel severity scale.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
