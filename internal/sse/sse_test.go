package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPSinkFramesAreDataLines(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewHTTPSink(rec)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, Frame{Type: FrameStart, MessageID: "m1"}))
	require.NoError(t, sink.Send(ctx, Frame{Type: FrameTextDelta, ID: "t1", Delta: "hi"}))
	require.NoError(t, sink.Done(ctx))

	body := rec.Body.String()
	lines := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"type":"start"`)
	require.Contains(t, lines[0], `"messageId":"m1"`)
	require.Contains(t, lines[1], `"type":"text-delta"`)
	require.Equal(t, "data: [DONE]", lines[2])
}

func TestHTTPSinkSendFailsOnCanceledContext(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewHTTPSink(rec)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, sink.Send(ctx, Frame{Type: FrameFinish}))
}

func TestWriteHeadersExposesRateLimitHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHeaders(rec, map[string]string{"X-RateLimit-Limit": "10", "X-RateLimit-Remaining": "9"})

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "v1", rec.Header().Get("x-vercel-ai-data-stream"))
	require.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	require.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Limit")
}
