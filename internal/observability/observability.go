// Package observability configures the process-wide logger.
//
// Logs go to stderr as text or JSON, or through an OpenTelemetry log pipeline
// when an exporter is configured. Either way the W3C trace context propagator
// is installed so inbound trace ids end up in request logs.
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
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Exporter names accepted in Config.Exporter.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterOTLPHTTP = "otlp-http"
)

// Config selects the log pipeline.
type Config struct {
	Level  slog.Level
	Format string // text or json, ignored when exporting

	Exporter    string
	Endpoint    string // collector URL, exporter default when empty
	ServiceName string

	// Output for local logs and the stdout exporter. Defaults to os.Stderr.
	Output io.Writer
}

// Instrument installs the default slog logger and the global propagator.
// The returned function flushes and stops any export pipeline.
func Instrument(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		handler, err := localHandler(out, cfg.Format, cfg.Level)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(traceHandler{handler}))
		return func(context.Context) error { return nil }, nil
	}

	processor, err := newProcessor(ctx, cfg, out)
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", cfg.Exporter, err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, levelSeverity(cfg.Level))),
		sdklog.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	slog.SetDefault(otelslog.NewLogger(cfg.ServiceName, otelslog.WithLoggerProvider(provider)))

	return provider.Shutdown, nil
}

func localHandler(out io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.NewTextHandler(out, opts), nil
	case "json":
		return slog.NewJSONHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newProcessor(ctx context.Context, cfg Config, out io.Writer) (sdklog.Processor, error) {
	switch cfg.Exporter {
	case ExporterStdout:
		exp, err := stdoutlog.New(stdoutlog.WithWriter(out))
		if err != nil {
			return nil, err
		}
		return sdklog.NewSimpleProcessor(exp), nil
	case ExporterOTLPGRPC:
		var opts []otlploggrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpointURL(cfg.Endpoint))
		}
		exp, err := otlploggrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exp), nil
	case ExporterOTLPHTTP:
		var opts []otlploghttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpointURL(cfg.Endpoint))
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdklog.NewBatchProcessor(exp), nil
	default:
		return nil, fmt.Errorf("unsupported exporter")
	}
}

// levelSeverity maps a slog level onto the OpenTelemetry severity scale for minsev.
type levelSeverity slog.Level

func (l levelSeverity) Severity() log.Severity {
	switch level := slog.Level(l); {
	case level < slog.LevelInfo:
		return log.SeverityDebug
	case level < slog.LevelWarn:
		return log.SeverityInfo
	case level < slog.LevelError:
		return log.SeverityWarn
	default:
		return log.SeverityError
	}
}
