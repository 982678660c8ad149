package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogContextDoesNotPanic(t *testing.T) {
	ctx := NewLogContext(context.Background(), false)
	require.NotNil(t, ctx)

	debugCtx := NewLogContext(context.Background(), true)
	require.NotNil(t, debugCtx)

	Info(ctx, "test message", "key", "value")
	Warn(ctx, "test warning")
	Error(ctx, errors.New("boom"), "test error", "attempt", 1)
}

func TestTracerAndMeterReturnUsableHandles(t *testing.T) {
	tracer := Tracer("neuroagent/test")
	require.NotNil(t, tracer)
	_, span := tracer.Start(context.Background(), "unit-test-span")
	span.End()

	meter := Meter("neuroagent/test")
	require.NotNil(t, meter)
}
