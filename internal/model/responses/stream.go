package responses

import (
	"context"
	"fmt"

	rs "github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/packages/ssestream"

	"neuroagent/internal/model"
)

// responsesStreamer adapts a Responses API SSE stream to model.Streamer.
// openai-go's stream is itself pull-based, so Next simply drains SDK events
// until one maps to a model.Event worth emitting.
type responsesStreamer struct {
	stream *ssestream.Stream[rs.ResponseStreamEventUnion]

	// calls tracks in-flight function-call items by output index, so
	// ArgumentsDelta/OutputItemDone events can be matched back to the name
	// and call id captured when the item was added.
	calls map[int64]*callState

	usage *model.TokenUsage
}

type callState struct {
	name string
	id   string
}

func newResponsesStreamer(stream *ssestream.Stream[rs.ResponseStreamEventUnion]) *responsesStreamer {
	return &responsesStreamer{
		stream: stream,
		calls:  make(map[int64]*callState),
	}
}

func (s *responsesStreamer) Next(ctx context.Context) (model.Event, bool, error) {
	for {
		select {
		case <-ctx.Done():
			return model.Event{}, false, ctx.Err()
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return model.Event{}, false, fmt.Errorf("responses: stream: %w", err)
			}
			return model.Event{}, false, nil
		}
		ev, ok := s.translate(s.stream.Current())
		if ok {
			return ev, true, nil
		}
		// Event carried no externally-visible state change (e.g. a
		// response.created or output_item.done for a non-function item);
		// keep draining.
	}
}

func (s *responsesStreamer) Close() error {
	return s.stream.Close()
}

// translate maps one Responses API SSE event to a model.Event. Reports ok
// false for events the Stream Engine has nothing to act on.
func (s *responsesStreamer) translate(event rs.ResponseStreamEventUnion) (model.Event, bool) {
	switch v := event.AsAny().(type) {
	case rs.ResponseReasoningSummaryPartAddedEvent:
		return model.Event{Kind: model.EventReasoningPartAdded, ItemID: v.ItemID}, true

	case rs.ResponseReasoningSummaryTextDeltaEvent:
		if v.Delta == "" {
			return model.Event{}, false
		}
		return model.Event{Kind: model.EventReasoningDelta, ItemID: v.ItemID, TextDelta: v.Delta}, true

	case rs.ResponseReasoningSummaryPartDoneEvent:
		return model.Event{Kind: model.EventReasoningPartDone, ItemID: v.ItemID}, true

	case rs.ResponseContentPartAddedEvent:
		return model.Event{Kind: model.EventContentPartAdded, ItemID: v.ItemID}, true

	case rs.ResponseTextDeltaEvent:
		if v.Delta == "" {
			return model.Event{}, false
		}
		return model.Event{Kind: model.EventTextDelta, ItemID: v.ItemID, TextDelta: v.Delta}, true

	case rs.ResponseContentPartDoneEvent:
		return model.Event{Kind: model.EventContentPartDone, ItemID: v.ItemID}, true

	case rs.ResponseOutputItemAddedEvent:
		fn := v.Item.AsFunctionCall()
		if fn.Name == "" && fn.CallID == "" {
			return model.Event{}, false
		}
		id := fn.CallID
		if id == "" {
			id = fn.ID
		}
		s.calls[v.OutputIndex] = &callState{name: fn.Name, id: id}
		return model.Event{Kind: model.EventOutputItemAdded, ItemID: fn.ID, ToolName: fn.Name, ToolCallID: id}, true

	case rs.ResponseFunctionCallArgumentsDeltaEvent:
		if v.Delta == "" {
			return model.Event{}, false
		}
		call := s.calls[v.OutputIndex]
		if call == nil {
			return model.Event{}, false
		}
		return model.Event{Kind: model.EventToolCallArgsDelta, ItemID: v.ItemID, ToolCallID: call.id, TextDelta: v.Delta}, true

	case rs.ResponseOutputItemDoneEvent:
		fn := v.Item.AsFunctionCall()
		if fn.Name == "" && fn.CallID == "" {
			delete(s.calls, v.OutputIndex)
			return model.Event{}, false
		}
		call := s.calls[v.OutputIndex]
		delete(s.calls, v.OutputIndex)
		id := fn.CallID
		if id == "" && call != nil {
			id = call.id
		}
		name := fn.Name
		if name == "" && call != nil {
			name = call.name
		}
		return model.Event{
			Kind:       model.EventOutputItemDone,
			ItemID:     fn.ID,
			ToolName:   name,
			ToolCallID: id,
			ToolArgs:   fn.Arguments,
		}, true

	case rs.ResponseCompletedEvent:
		usage := model.TokenUsage{
			InputTokens:       int(v.Response.Usage.InputTokens),
			InputCachedTokens: int(v.Response.Usage.InputTokensDetails.CachedTokens),
			OutputTokens:      int(v.Response.Usage.OutputTokens),
			TotalTokens:       int(v.Response.Usage.TotalTokens),
		}
		return model.Event{Kind: model.EventCompleted, Usage: &usage}, true

	default:
		return model.Event{}, false
	}
}
