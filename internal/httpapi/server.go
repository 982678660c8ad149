// Package httpapi implements the HTTP surface (SPEC_FULL.md §6.1):
// hand-routed via net/http.ServeMux's Go 1.22+ method+path-param patterns
// rather than Goa codegen, in the style of the teacher's example servers'
// mux wiring (example/cmd/assistant/http.go) for the surrounding layers —
// middleware ordering, graceful shutdown — while the routing mechanism
// itself is plain stdlib, per SPEC_FULL.md's explicit instruction.
package httpapi

import (
	"net/http"

	"neuroagent/internal/accounting"
	"neuroagent/internal/authgate"
	"neuroagent/internal/config"
	"neuroagent/internal/dispatcher"
	"neuroagent/internal/model/filtermodel"
	"neuroagent/internal/persistence"
	"neuroagent/internal/ratelimit"
	"neuroagent/internal/statepatcher"
	"neuroagent/internal/storage"
	"neuroagent/internal/streamengine"
	"neuroagent/internal/tool"
	"neuroagent/internal/toolfilter"
)

// Server holds every dependency the handlers need and owns the mux.
type Server struct {
	store      *persistence.Store
	engine     *streamengine.Engine
	registry   *tool.Registry
	dispatcher *dispatcher.Dispatcher
	filter     *toolfilter.Filter
	gate       *authgate.Gate
	limiter    ratelimit.Limiter
	accounting accounting.Session
	chat       *filtermodel.Client
	objects    *storage.Client
	patcher    *statepatcher.Patcher
	cfg        config.Config
}

// Options configures a Server. Every field is required except Accounting
// (defaults to accounting.NoopSession{}, SPEC_FULL.md §6.3) and Patcher
// (nil disables state-patch URL inference, which only the thin REST-wrapper
// tools out of core scope currently exercise).
type Options struct {
	Store      *persistence.Store
	Engine     *streamengine.Engine
	Registry   *tool.Registry
	Dispatcher *dispatcher.Dispatcher
	Filter     *toolfilter.Filter
	Gate       *authgate.Gate
	Limiter    ratelimit.Limiter
	Accounting accounting.Session
	Chat       *filtermodel.Client
	Objects    *storage.Client
	Patcher    *statepatcher.Patcher
	Config     config.Config
}

// New builds a Server from opts.
func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Engine == nil || opts.Registry == nil || opts.Dispatcher == nil ||
		opts.Filter == nil || opts.Gate == nil || opts.Limiter == nil || opts.Chat == nil || opts.Objects == nil {
		return nil, errMissingDependency
	}
	acct := opts.Accounting
	if acct == nil {
		acct = accounting.NoopSession{}
	}
	return &Server{
		store:      opts.Store,
		engine:     opts.Engine,
		registry:   opts.Registry,
		dispatcher: opts.Dispatcher,
		filter:     opts.Filter,
		gate:       opts.Gate,
		limiter:    opts.Limiter,
		accounting: acct,
		chat:       opts.Chat,
		objects:    opts.Objects,
		patcher:    opts.Patcher,
		cfg:        opts.Config,
	}, nil
}

// Handler builds the full http.Handler: the route mux wrapped by the
// recover -> tracing -> logging -> auth -> rate-limit middleware chain
// (SPEC_FULL.md §6.1), in that order, outermost first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /threads", s.handleCreateThread)
	mux.HandleFunc("GET /threads", s.handleListThreads)
	mux.HandleFunc("GET /threads/search", s.handleSearchThreads)
	mux.HandleFunc("GET /threads/{id}", s.handleGetThread)
	mux.HandleFunc("PATCH /threads/{id}", s.handleUpdateThreadTitle)
	mux.HandleFunc("DELETE /threads/{id}", s.handleDeleteThread)
	mux.HandleFunc("PATCH /threads/{id}/generate_title", s.handleGenerateTitle)
	mux.HandleFunc("GET /threads/{id}/messages", s.handleListMessages)

	mux.HandleFunc("POST /qa/chat_streamed/{thread_id}", s.handleChatStreamed)
	mux.HandleFunc("POST /qa/question_suggestions", s.handleQuestionSuggestions)
	mux.HandleFunc("GET /qa/models", s.handleListModels)

	var h http.Handler = mux
	h = s.rateLimitMiddleware(h)
	h = s.authMiddleware(h)
	h = s.loggingMiddleware(h)
	h = s.tracingMiddleware(h)
	h = s.recoverMiddleware(h)
	return h
}
