package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"neuroagent/internal/dispatcher"
	"neuroagent/internal/model"
	"neuroagent/internal/persistence"
	"neuroagent/internal/sse"
	"neuroagent/internal/streamengine"
	"neuroagent/internal/telemetry"
	"neuroagent/internal/thread"
	"neuroagent/internal/toolfilter"
)

// fullHistoryPageSize is the page size used to page through a Thread's
// entire Message history before a Run: large enough that realistic threads
// fit in one round trip, while still bounding a single query's result set.
const fullHistoryPageSize = 500

type chatStreamedRequest struct {
	Content       string   `json:"content"`
	ToolSelection []string `json:"tool_selection"`
	FrontendURL   string   `json:"frontend_url"`
}

// toolMeta is the per-call metadata handed to Tool.Run, carrying the
// request-scoped identity and thread-scoping the ~60 out-of-core-scope
// REST-wrapper tools need to build their upstream calls (bearer token,
// thread/vlab/project ids, the frontend URL used by statepatcher's
// URLBuilders). Core scope never inspects the payload beyond constructing
// it; see SPEC_FULL.md §1.
type toolMeta struct {
	UserSub     string
	ThreadID    uuid.UUID
	VLabID      *uuid.UUID
	ProjectID   *uuid.UUID
	BearerToken string
	FrontendURL string
}

// handleChatStreamed is the core SSE streaming endpoint (spec.md §6.1): it
// loads the Thread's full history, narrows the tool catalog via the Tool
// Filter, runs the Stream Engine, and persists whatever it produced once
// the stream terminates.
func (s *Server) handleChatStreamed(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	threadID, err := uuid.Parse(r.PathValue("thread_id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid thread id")
		return
	}

	var req chatStreamedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusUnprocessableEntity, "content is required")
		return
	}

	t, err := s.store.GetThread(r.Context(), threadID, user.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.authorizeVLabProject(r, user, t.VLabID, t.ProjectID); err != nil {
		writeDomainError(w, err)
		return
	}

	headers, ok := s.admit(w, r, user, "POST /qa/chat_streamed/{thread_id}", t.VLabID, t.ProjectID)
	if !ok {
		return
	}

	messages, err := s.loadAllMessages(r.Context(), threadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thread history")
		return
	}

	// A HIL resume (the last persisted message is an incomplete assistant
	// message) reopens that message instead of starting a new user turn: no
	// new user Message is appended, and the Tool Filter is not re-run (§4.2)
	// — the previous selection for that message is reloaded instead.
	resuming := len(messages) > 0 && messages[len(messages)-1].Entity == thread.EntityAssistant && messages[len(messages)-1].Incomplete()

	var filterResult toolfilter.Result
	if resuming {
		prior := messages[len(messages)-1]
		records, err := s.store.ListToolSelections(r.Context(), prior.MessageID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load previous tool selection")
			return
		}
		names := make([]string, 0, len(records))
		for _, rec := range records {
			names = append(names, rec.ToolName)
		}
		filterResult = toolfilter.Result{SelectedTools: names}
	} else {
		userMsg := thread.NewMessage(threadID, thread.EntityUser)
		thread.NewPart(&userMsg, thread.PartMessage, buildUserMessagePart(req.Content))
		if err := s.store.AppendMessage(r.Context(), userMsg); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to persist user message")
			return
		}
		messages = append(messages, userMsg)

		var err error
		filterResult, err = s.filter.Select(r.Context(), filterHistory(messages), s.registry, s.cfg.Agent.Model)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "tool filter failed")
			return
		}
	}
	selectedTools := filterResult.SelectedTools
	if len(req.ToolSelection) > 0 {
		selectedTools = req.ToolSelection
	}

	sink, err := sse.NewHTTPSink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	sse.WriteHeaders(w, headers)

	buildMeta := func(call dispatcher.Call) (any, error) {
		if _, ok := s.registry.Lookup(call.Name); !ok {
			return nil, fmt.Errorf("httpapi: unknown tool %q", call.Name)
		}
		return toolMeta{
			UserSub:     user.Subject,
			ThreadID:    threadID,
			VLabID:      t.VLabID,
			ProjectID:   t.ProjectID,
			BearerToken: bearerToken(r),
			FrontendURL: req.FrontendURL,
		}, nil
	}

	out, err := s.engine.Run(r.Context(), sink, streamengine.RunInput{
		ThreadID:      threadID,
		Messages:      messages,
		SelectedTools: selectedTools,
		Agent: streamengine.Agent{
			Instructions: agentInstructions,
			Model:        s.cfg.Agent.Model,
			Temperature:  s.cfg.Agent.Temperature,
		},
		Reasoning:  filterResult.Reasoning,
		BuildMeta:  buildMeta,
		Dispatcher: s.dispatcher,
	})
	if err != nil {
		telemetry.Error(r.Context(), err, "httpapi: stream engine run failed", "thread_id", threadID.String())
	}
	if out.Discard {
		return
	}

	if !resuming {
		toolSelectionRecords, complexity := toolfilter.Records(out.Message.MessageID, filterResult)
		out.Message.ToolSelections = toolSelectionRecords
		out.Message.Complexity = complexity
	}
	out.Message.TokenConsumption = out.TokenRecords

	// The assistant message is committed by a background goroutine after the
	// stream has ended; failures are only logged. WithoutCancel keeps the
	// commit running after the handler returns and the request context ends.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if persistErr := s.store.AppendMessage(ctx, out.Message); persistErr != nil {
			telemetry.Error(ctx, persistErr, "httpapi: failed to persist assistant message", "thread_id", threadID.String())
		}
		if touchErr := s.store.TouchThread(ctx, threadID); touchErr != nil {
			telemetry.Error(ctx, touchErr, "httpapi: failed to touch thread", "thread_id", threadID.String())
		}
	}()
}

// loadAllMessages pages through every Message in a Thread; the Stream
// Engine needs the full history, not one page of it.
func (s *Server) loadAllMessages(ctx context.Context, threadID uuid.UUID) ([]thread.Message, error) {
	var out []thread.Message
	var after *persistence.Cursor
	for {
		page, err := s.store.ListMessages(ctx, threadID, after, fullHistoryPageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		if !page.HasMore || len(page.Items) == 0 {
			return out, nil
		}
		last := page.Items[len(page.Items)-1]
		after = &persistence.Cursor{SortValue: last.CreationDate, ID: last.MessageID}
	}
}

// filterHistory builds the lightweight model.Message history the Tool
// Filter scores: text turns only. The Tool Filter's instructions ask it to
// judge relevance from conversational content, not replay tool-call
// payloads the way the Stream Engine's own history reconstruction does.
func filterHistory(messages []thread.Message) []model.Message {
	var out []model.Message
	for _, m := range messages {
		for _, p := range m.Parts {
			if p.Type != thread.PartMessage {
				continue
			}
			role := model.RoleUser
			if m.Entity == thread.EntityAssistant {
				role = model.RoleAssistant
			}
			out = append(out, model.Message{Role: role, Text: extractPlainText(p.Output)})
		}
	}
	return out
}

type plainTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type plainTextPayload struct {
	Content []plainTextContent `json:"content"`
}

func extractPlainText(raw []byte) string {
	var payload plainTextPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	var text string
	for _, c := range payload.Content {
		text += c.Text
	}
	return text
}

// buildUserMessagePart marshals the MESSAGE part payload shape (spec.md §3)
// for a freshly submitted user message.
func buildUserMessagePart(content string) []byte {
	payload := plainTextPayload{Content: []plainTextContent{{Type: "input_text", Text: content}}}
	raw, _ := json.Marshal(payload)
	return raw
}

// agentInstructions is the default system prompt used outside the Stream
// Engine's forced-final-turn path. SPEC_FULL.md §4.4 leaves the exact
// wording to the deployment; this is the neuroscience-platform framing the
// rest of the service's naming already assumes.
const agentInstructions = "You are a neuroscience research assistant. Use the available tools to answer questions about simulations, models, and data on the platform, and explain your reasoning in plain language."
