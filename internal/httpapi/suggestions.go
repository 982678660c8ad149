package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"neuroagent/internal/model"
	"neuroagent/internal/model/filtermodel"
)

// generateTitle issues a short structured-output LLM call (via the
// non-streaming filtermodel.Client, SPEC_FULL.md §6.1) to title a thread
// from its first user message, enforcing the <=5 word limit the way the
// original truncates a model that ignores the instruction.
func (s *Server) generateTitle(ctx context.Context, firstUserMessage string) (string, error) {
	req := model.Request{
		Model:        s.cfg.Agent.Model,
		Instructions: "Summarize the user's message into a short chat title of 5 words or fewer. Respond with only the title text, no punctuation at the end, no quotes.",
		History:      []model.Message{{Role: model.RoleUser, Text: firstUserMessage}},
	}
	resp, err := s.chat.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("httpapi: generate title: %w", err)
	}
	return truncateWords(strings.Trim(strings.TrimSpace(resp.Text), `"`), 5), nil
}

func truncateWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}

type questionSuggestionsRequest struct {
	ThreadID     *uuid.UUID `json:"thread_id"`
	ClickHistory []string   `json:"click_history"`
	FrontendURL  string     `json:"frontend_url"`
}

type questionSuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

type suggestionsOutput struct {
	Suggestions []string `json:"suggestions"`
}

// handleQuestionSuggestions asks the chat model for three candidate
// follow-up questions, one literature-related when the request carries
// click history (spec.md §6.1): the extra instruction line is only added
// in that case, letting a single structured-output call cover both shapes.
func (s *Server) handleQuestionSuggestions(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req questionSuggestionsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}
	}

	var vlabID, projectID *uuid.UUID
	if req.ThreadID != nil {
		t, err := s.store.GetThread(r.Context(), *req.ThreadID, user.Subject)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if err := s.authorizeVLabProject(r, user, t.VLabID, t.ProjectID); err != nil {
			writeDomainError(w, err)
			return
		}
		vlabID, projectID = t.VLabID, t.ProjectID
	}

	headers, ok := s.admit(w, r, user, "POST /qa/question_suggestions", vlabID, projectID)
	if !ok {
		return
	}

	instructions := "Propose exactly three short, specific follow-up questions a user of a neuroscience research platform might ask next. Respond with a single JSON object of the shape {\"suggestions\": [\"...\", \"...\", \"...\"]}."
	if len(req.ClickHistory) > 0 {
		instructions += " The user has recently viewed: " + strings.Join(req.ClickHistory, ", ") +
			". Make exactly one of the three suggestions about relevant scientific literature."
	}

	llmReq := model.Request{
		Model:        s.cfg.Agent.Model,
		Instructions: instructions,
	}
	if req.ThreadID != nil {
		messages, err := s.loadAllMessages(r.Context(), *req.ThreadID)
		if err == nil {
			llmReq.History = filterHistory(messages)
		}
	}

	resp, err := s.chat.Complete(r.Context(), llmReq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate suggestions")
		return
	}
	var out suggestionsOutput
	if err := filtermodel.ParseJSON(resp, &out); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to parse suggestions")
		return
	}

	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, questionSuggestionsResponse{Suggestions: out.Suggestions})
}

// modelDescriptor is one entry in the whitelisted-model catalog GET
// /qa/models returns (spec.md §6.1): deployments choose which provider
// models users may pick for a Thread's Agent.
type modelDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// whitelistedModels is the static catalog; unlike the Tool Registry there
// is no dynamic discovery step, the same way the original implementation
// hardcodes its model allowlist rather than querying the provider.
var whitelistedModels = []modelDescriptor{
	{ID: "gpt-4o-mini", DisplayName: "GPT-4o mini"},
	{ID: "gpt-4o", DisplayName: "GPT-4o"},
	{ID: "gpt-4.1", DisplayName: "GPT-4.1"},
	{ID: "o4-mini", DisplayName: "o4-mini (reasoning)"},
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	headers, ok := s.admit(w, r, user, "GET /qa/models", nil, nil)
	if !ok {
		return
	}
	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, whitelistedModels)
}
