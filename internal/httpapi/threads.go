package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"neuroagent/internal/authgate"
	"neuroagent/internal/persistence"
	"neuroagent/internal/telemetry"
	"neuroagent/internal/thread"
)

const defaultPageSize = 20

type threadDTO struct {
	ThreadID     uuid.UUID  `json:"thread_id"`
	VLabID       *uuid.UUID `json:"virtual_lab_id,omitempty"`
	ProjectID    *uuid.UUID `json:"project_id,omitempty"`
	Title        string     `json:"title"`
	CreationDate time.Time  `json:"creation_date"`
	UpdateDate   time.Time  `json:"update_date"`
}

func toThreadDTO(t thread.Thread) threadDTO {
	return threadDTO{
		ThreadID:     t.ThreadID,
		VLabID:       t.VLabID,
		ProjectID:    t.ProjectID,
		Title:        t.Title,
		CreationDate: t.CreationDate,
		UpdateDate:   t.UpdateDate,
	}
}

type partDTO struct {
	PartID     uuid.UUID       `json:"part_id"`
	OrderIndex int             `json:"order_index"`
	Type       string          `json:"type"`
	Output     json.RawMessage `json:"output"`
	IsComplete bool            `json:"is_complete"`
	Validated  *bool           `json:"validated"`
}

type messageDTO struct {
	MessageID    uuid.UUID `json:"message_id"`
	Entity       string    `json:"entity"`
	CreationDate time.Time `json:"creation_date"`
	Parts        []partDTO `json:"parts"`
}

func toMessageDTO(m thread.Message) messageDTO {
	parts := make([]partDTO, 0, len(m.Parts))
	for _, p := range m.Parts {
		parts = append(parts, partDTO{
			PartID:     p.PartID,
			OrderIndex: p.OrderIndex,
			Type:       string(p.Type),
			Output:     json.RawMessage(p.Output),
			IsComplete: p.IsComplete,
			Validated:  p.Validated,
		})
	}
	return messageDTO{
		MessageID:    m.MessageID,
		Entity:       string(m.Entity),
		CreationDate: m.CreationDate,
		Parts:        parts,
	}
}

type pageDTO[T any] struct {
	Items   []T    `json:"items"`
	HasMore bool   `json:"has_more"`
	Cursor  string `json:"next_cursor,omitempty"`
}

// createThreadRequest is the optional body of POST /threads: omitted
// entirely, the thread is personal (no vlab/project scoping).
type createThreadRequest struct {
	VirtualLabID *uuid.UUID `json:"virtual_lab_id"`
	ProjectID    *uuid.UUID `json:"project_id"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createThreadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}
	}

	if err := s.authorizeVLabProject(r, user, req.VirtualLabID, req.ProjectID); err != nil {
		writeDomainError(w, err)
		return
	}

	headers, ok := s.admit(w, r, user, "POST /threads", req.VirtualLabID, req.ProjectID)
	if !ok {
		return
	}

	t := thread.NewThread(user.Subject, req.VirtualLabID, req.ProjectID)
	if err := s.store.CreateThread(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}

	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusCreated, toThreadDTO(t))
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	q := r.URL.Query()
	vlabID, err := parseOptionalUUID(q.Get("virtual_lab_id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid virtual_lab_id")
		return
	}
	projectID, err := parseOptionalUUID(q.Get("project_id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid project_id")
		return
	}
	if err := s.authorizeVLabProject(r, user, vlabID, projectID); err != nil {
		writeDomainError(w, err)
		return
	}

	headers, ok := s.admit(w, r, user, "GET /threads", vlabID, projectID)
	if !ok {
		return
	}

	pageSize := parsePageSize(q.Get("page_size"), s.cfg.Misc.QueryMaxSize)
	after, err := decodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	page, err := s.store.ListThreads(r.Context(), user.Subject, vlabID, projectID, after, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	excludeEmpty := q.Get("exclude_empty") == "true"
	items := make([]threadDTO, 0, len(page.Items))
	for _, t := range page.Items {
		if excludeEmpty && t.Title == "New chat" {
			continue
		}
		items = append(items, toThreadDTO(t))
	}

	resp := pageDTO[threadDTO]{Items: items, HasMore: page.HasMore}
	if page.HasMore && len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		resp.Cursor = encodeCursor(persistence.Cursor{SortValue: last.UpdateDate, ID: last.ThreadID})
	}

	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid thread id")
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

	headers, ok := s.admit(w, r, user, "GET /threads/{id}", t.VLabID, t.ProjectID)
	if !ok {
		return
	}

	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, toThreadDTO(t))
}

type updateThreadTitleRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleUpdateThreadTitle(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid thread id")
		return
	}

	var req updateThreadTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusUnprocessableEntity, "title is required")
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

	headers, ok := s.admit(w, r, user, "PATCH /threads/{id}", t.VLabID, t.ProjectID)
	if !ok {
		return
	}

	if err := s.store.UpdateThreadTitle(r.Context(), threadID, req.Title); err != nil {
		writeDomainError(w, err)
		return
	}

	t.Title = req.Title
	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, toThreadDTO(t))
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid thread id")
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

	headers, ok := s.admit(w, r, user, "DELETE /threads/{id}", t.VLabID, t.ProjectID)
	if !ok {
		return
	}

	if _, err := s.store.DeleteThread(r.Context(), threadID); err != nil {
		writeDomainError(w, err)
		return
	}

	// Storage purge is non-transactional and best-effort relative to the DB
	// delete (SPEC_FULL.md §4.7): a failure here is logged, not surfaced,
	// since the thread row is already gone.
	if userUUID, err := uuid.Parse(user.Subject); err == nil {
		if err := s.objects.DeleteThreadObjects(r.Context(), userUUID, threadID); err != nil {
			telemetry.Error(r.Context(), err, "httpapi: thread storage purge failed", "thread_id", threadID.String())
		}
	}

	applyRateLimitHeaders(w, headers)
	w.WriteHeader(http.StatusNoContent)
}

type generateTitleRequest struct {
	FirstUserMessage string `json:"first_user_message"`
}

type generateTitleResponse struct {
	Title string `json:"title"`
}

func (s *Server) handleGenerateTitle(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid thread id")
		return
	}

	var req generateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FirstUserMessage == "" {
		writeError(w, http.StatusUnprocessableEntity, "first_user_message is required")
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

	headers, ok := s.admit(w, r, user, "PATCH /threads/{id}/generate_title", t.VLabID, t.ProjectID)
	if !ok {
		return
	}

	title, err := s.generateTitle(r.Context(), req.FirstUserMessage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate title")
		return
	}

	if err := s.store.UpdateThreadTitle(r.Context(), threadID, title); err != nil {
		writeDomainError(w, err)
		return
	}

	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, generateTitleResponse{Title: title})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid thread id")
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

	headers, ok := s.admit(w, r, user, "GET /threads/{id}/messages", t.VLabID, t.ProjectID)
	if !ok {
		return
	}

	q := r.URL.Query()
	pageSize := parsePageSize(q.Get("page_size"), s.cfg.Misc.QueryMaxSize)
	after, err := decodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	page, err := s.store.ListMessages(r.Context(), threadID, after, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	items := make([]messageDTO, 0, len(page.Items))
	for _, m := range page.Items {
		items = append(items, toMessageDTO(m))
	}
	resp := pageDTO[messageDTO]{Items: items, HasMore: page.HasMore}
	if page.HasMore && len(page.Items) > 0 {
		last := page.Items[len(page.Items)-1]
		resp.Cursor = encodeCursor(persistence.Cursor{SortValue: last.CreationDate, ID: last.MessageID})
	}

	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, resp)
}

type searchResultDTO struct {
	ThreadID  uuid.UUID `json:"thread_id"`
	MessageID uuid.UUID `json:"message_id"`
	Title     string    `json:"title"`
	Snippet   string    `json:"snippet"`
}

func (s *Server) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusUnprocessableEntity, "query is required")
		return
	}

	headers, ok := s.admit(w, r, user, "GET /threads/search", nil, nil)
	if !ok {
		return
	}

	results, err := s.store.SearchThreads(r.Context(), user.Subject, query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	limit := parsePageSize(r.URL.Query().Get("limit"), s.cfg.Misc.QueryMaxSize)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]searchResultDTO, 0, len(results))
	for _, res := range results {
		out = append(out, searchResultDTO{ThreadID: res.ThreadID, MessageID: res.MessageID, Title: res.Title, Snippet: res.Snippet})
	}

	applyRateLimitHeaders(w, headers)
	writeJSON(w, http.StatusOK, out)
}

// authorizeVLabProject checks the caller's group membership against
// vlabID/projectID when both are present; personal threads (either nil)
// need no further check beyond the ownership already enforced by
// persistence.Store.GetThread's userID comparison.
func (s *Server) authorizeVLabProject(r *http.Request, user authgate.User, vlabID, projectID *uuid.UUID) error {
	if vlabID == nil || projectID == nil {
		return nil
	}
	if !user.HasProjectAccess(vlabID.String(), projectID.String()) {
		return authgate.ErrNoAccess
	}
	return nil
}

func applyRateLimitHeaders(w http.ResponseWriter, headers map[string]string) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
}

func parseOptionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func parsePageSize(raw string, max int) int {
	if raw == "" {
		return defaultPageSize
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultPageSize
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
