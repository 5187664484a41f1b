// Package observability configures process-wide logging and tracing: plain slog
// text or JSON output, or the OpenTelemetry log bridge and a TracerProvider
// feeding the selected exporter.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies the bridge's logger.
const instrumentationName = "github.com/florianilch/realmauth"

// Exporter names accepted by Instrument.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// ShutdownFunc flushes and releases what Instrument set up.
type ShutdownFunc func(context.Context) error

// Option configures Instrument.
type Option func(*options)

type options struct {
	out io.Writer
}

// WithOutput sets the writer for text and JSON logs. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// Instrument installs the default slog logger. With exporter "none" records are
// written as text or JSON and no spans are recorded. Any other exporter routes
// log records through an OpenTelemetry logger provider, dropping records below
// level, and installs a global TracerProvider exporting spans the same way.
func Instrument(ctx context.Context, level slog.Level, format, exporter string, opts ...Option) (ShutdownFunc, error) {
	o := options{out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	if exporter == "" || exporter == ExporterNone {
		handler, err := newHandler(o.out, level, format)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(handler))
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, exporter, o.out)
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", exporter, err)
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exp), severity(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	tp, err := newTracerProvider(ctx, exporter, o.out)
	if err != nil {
		return nil, errors.Join(err, provider.Shutdown(ctx))
	}

	global.SetLoggerProvider(provider)
	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))

	return func(ctx context.Context) error {
		// Spans first, so export errors still reach the log provider.
		return errors.Join(tp.Shutdown(ctx), provider.Shutdown(ctx))
	}, nil
}

func newHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, handlerOpts), nil
	case "json":
		return slog.NewJSONHandler(w, handlerOpts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newExporter(ctx context.Context, name string, w io.Writer) (sdklog.Exporter, error) {
	switch name {
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case ExporterOTLPHTTP:
		// Endpoint and headers come from the OTEL_EXPORTER_OTLP_* environment.
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", name)
	}
}

// severity maps a slog level onto the OpenTelemetry severity scale.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
