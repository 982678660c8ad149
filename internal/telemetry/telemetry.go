// Package telemetry wires the structured logger and OpenTelemetry
// tracer/meter the rest of the service uses (SPEC_FULL.md's AMBIENT
// "logging setup"), grounded directly in the teacher's
// runtime/agent/telemetry/clue.go and example/cmd/assistant/main.go.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// NewLogContext attaches a goa.design/clue/log logger to ctx, matching
// example/cmd/assistant/main.go's setup: JSON output normally, a
// human-readable terminal format when stdout is a TTY, and debug-level
// logs when debug is requested.
func NewLogContext(ctx context.Context, debug bool) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}

// Tracer returns the named OpenTelemetry tracer, one per component the way
// the teacher's NewClueTracer scopes a tracer to
// "goa.design/goa-ai/agents/runtime".
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Meter returns the named OpenTelemetry meter.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Info logs an info-level structured message via clue/log, the ambient
// logging call every component below the HTTP layer uses directly rather
// than through an injected interface (matching the teacher's direct
// log.Info/log.Error calls throughout features/run, features/model).
func Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

// Error logs an error-level structured message via clue/log.
func Error(ctx context.Context, err error, msg string, keyvals ...any) {
	log.Error(ctx, err, fielders(msg, keyvals)...)
}

// Warn logs a warning-level structured message via clue/log.
func Warn(ctx context.Context, msg string, keyvals ...any) {
	fields := append([]log.Fielder{log.KV{K: "severity", V: "warning"}}, fielders(msg, keyvals)...)
	log.Warn(ctx, fields...)
}

func fielders(msg string, keyvals []any) []log.Fielder {
	fields := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, log.KV{K: key, V: keyvals[i+1]})
	}
	return fields
}
