// Package sse implements the server-sent-events wire protocol the Stream
// Engine emits (SPEC_FULL.md §6.2): a sequence of `data: <json>\n\n` frames
// terminated by a literal `data: [DONE]\n\n`.
//
// Grounded in the teacher's stream.Sink abstraction
// (agents/runtime/stream/stream.go, agents/runtime/hooks/stream_subscriber.go):
// a small Send/Close interface decoupling event production from transport,
// here backed by an http.ResponseWriter instead of a message bus.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// FrameType enumerates the frame kinds in SPEC_FULL.md §6.2's table.
type FrameType string

const (
	FrameStart              FrameType = "start"
	FrameStartStep          FrameType = "start-step"
	FrameFinishStep         FrameType = "finish-step"
	FrameReasoningStart     FrameType = "reasoning-start"
	FrameReasoningDelta     FrameType = "reasoning-delta"
	FrameReasoningEnd       FrameType = "reasoning-end"
	FrameTextStart          FrameType = "text-start"
	FrameTextDelta          FrameType = "text-delta"
	FrameTextEnd            FrameType = "text-end"
	FrameToolInputStart     FrameType = "tool-input-start"
	FrameToolInputDelta     FrameType = "tool-input-delta"
	FrameToolInputAvailable FrameType = "tool-input-available"
	FrameToolOutputAvailable FrameType = "tool-output-available"
	FrameFinish             FrameType = "finish"
)

// Frame is one SSE event. Only the fields relevant to Type are populated;
// zero-value fields are omitted from the marshaled JSON.
type Frame struct {
	Type FrameType `json:"type"`

	MessageID string `json:"messageId,omitempty"`

	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	ToolCallID     string          `json:"toolCallId,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	InputTextDelta string          `json:"inputTextDelta,omitempty"`
	Input          json.RawMessage `json:"input,omitempty"`
	Output         string          `json:"output,omitempty"`

	MessageMetadata *MessageMetadata `json:"messageMetadata,omitempty"`
}

// MessageMetadata is the optional `finish` frame payload reporting any tool
// calls still pending human-in-the-loop validation.
type MessageMetadata struct {
	ToolCalls []PendingToolCall `json:"toolCalls"`
}

// PendingToolCall describes one tool call suspended for HIL approval.
type PendingToolCall struct {
	ToolCallID string `json:"toolCallId"`
	Validated  string `json:"validated"` // always "pending" on emission
	IsComplete bool   `json:"isComplete"`
}

// Sink delivers Frames to a client, in order. Implementations must be safe
// for use by a single goroutine (the Stream Engine is the sole producer per
// request; SPEC_FULL.md §5's single-consumer ordering guarantee).
type Sink interface {
	Send(ctx context.Context, frame Frame) error
	// Done writes the terminal `data: [DONE]\n\n` marker.
	Done(ctx context.Context) error
	Close() error
}

// httpSink writes frames to an http.ResponseWriter, flushing after each one
// so clients see incremental output.
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewHTTPSink builds a Sink backed by w. Returns an error if w does not
// implement http.Flusher, since unflushed writes would buffer the entire
// response instead of streaming it.
func NewHTTPSink(w http.ResponseWriter) (Sink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	return &httpSink{w: w, flusher: flusher}, nil
}

func (s *httpSink) Send(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("sse: marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *httpSink) Done(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprint(s.w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("sse: write done marker: %w", err)
	}
	s.flusher.Flush()
	return nil
}

func (s *httpSink) Close() error { return nil }

// WriteHeaders sets the response headers SPEC_FULL.md §6.1 requires on the
// streaming endpoint, before the first Frame is sent.
func WriteHeaders(w http.ResponseWriter, rateLimitHeaders map[string]string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("x-vercel-ai-data-stream", "v1")
	keys := make([]string, 0, len(rateLimitHeaders))
	for k := range rateLimitHeaders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	exposed := "x-vercel-ai-data-stream"
	for _, k := range keys {
		w.Header().Set(k, rateLimitHeaders[k])
		exposed += ", " + k
	}
	w.Header().Set("Access-Control-Expose-Headers", exposed)
	w.WriteHeader(http.StatusOK)
}
