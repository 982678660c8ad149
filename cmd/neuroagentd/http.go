package main

import (
	"context"
	"net/http"
	"net/http/pprof"
	"net/url"
	"sync"
	"time"

	"goa.design/clue/log"

	"neuroagent/internal/httpapi"
)

// handleHTTPServer starts srv.Handler() on u, shutting it down gracefully
// once ctx is canceled. Grounded in example/cmd/assistant/http.go's
// goroutine/WaitGroup/Shutdown shape; the goa-generated mux and
// goa.design/clue/debug's MountPprofHandlers/MountDebugLogEnabler (which
// expect a goahttp.Muxer) have no equivalent here since httpapi.Server
// hand-routes on a plain net/http.ServeMux (SPEC_FULL.md §6.1) — pprof is
// mounted directly via net/http/pprof instead, the stdlib way of exposing
// the same profiles without a Goa-specific adapter.
func handleHTTPServer(ctx context.Context, u *url.URL, srv *httpapi.Server, wg *sync.WaitGroup, errc chan error, dbg bool) {
	var handler http.Handler = srv.Handler()
	if dbg {
		handler = mountPprof(handler)
	}
	handler = log.HTTP(ctx)(handler)

	server := &http.Server{Addr: u.Host, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", u.Host)
			errc <- server.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", u.Host)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

// mountPprof wraps next with a mux that serves net/http/pprof's handlers
// under /debug/pprof/ and falls through to next for everything else.
func mountPprof(next http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/", next)
	return mux
}
