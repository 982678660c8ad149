// Command neuroagentd is the composition root: it reads configuration,
// builds every package's concrete dependencies, wires them into an
// internal/httpapi.Server, and serves it over HTTP until signaled to stop.
//
// Grounded in example/cmd/assistant/main.go's flag/logger/signal-handling
// shape: same errc-channel-plus-sync.WaitGroup graceful shutdown, same
// goa.design/clue/log bootstrap, adapted from that file's multi-protocol
// (gRPC/websocket/JSON-RPC) service fan-out to this service's single HTTP
// surface, since there is only one transport to start.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"neuroagent/internal/accounting"
	"neuroagent/internal/authgate"
	"neuroagent/internal/config"
	"neuroagent/internal/dispatcher"
	"neuroagent/internal/httpapi"
	"neuroagent/internal/model/filtermodel"
	"neuroagent/internal/model/responses"
	"neuroagent/internal/persistence"
	"neuroagent/internal/ratelimit"
	"neuroagent/internal/storage"
	"neuroagent/internal/streamengine"
	"neuroagent/internal/tool"
	"neuroagent/internal/toolfilter"
)

func main() {
	var (
		hostF     = flag.String("host", "localhost", "Server host")
		httpPortF = flag.String("http-port", "8080", "HTTP port (overrides the host port)")
		configF   = flag.String("config", "", "Path to a YAML config file overlaying the built-in defaults")
		dbgF      = flag.Bool("debug", false, "Enable debug logs and pprof endpoints under /debug")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal(ctx, fmt.Errorf("neuroagentd: OPENAI_API_KEY is required"))
	}

	srv, err := buildServer(ctx, cfg, apiKey)
	if err != nil {
		log.Fatal(ctx, err)
	}

	addr := "http://localhost:80"
	u, err := url.Parse(addr)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if *hostF != "" {
		u.Host = *hostF
	}
	if *httpPortF != "" {
		h, _, splitErr := net.SplitHostPort(u.Host)
		if splitErr != nil {
			h = u.Host
		}
		u.Host = net.JoinHostPort(h, *httpPortF)
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	handleHTTPServer(ctx, u, srv, &wg, errc, *dbgF)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

// buildServer assembles every internal package into an httpapi.Server.
func buildServer(ctx context.Context, cfg config.Config, apiKey string) (*httpapi.Server, error) {
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("neuroagentd: connect to postgres: %w", err)
	}

	store, err := persistence.New(persistence.Options{Pool: pool})
	if err != nil {
		return nil, err
	}

	limiter, err := buildLimiter(cfg)
	if err != nil {
		return nil, err
	}

	objects, err := storage.New(ctx, storage.Config{
		Bucket:       cfg.Storage.BucketName,
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.EndpointURL,
		AccessKey:    cfg.Storage.AccessKey,
		SecretKey:    cfg.Storage.SecretKey,
		UsePathStyle: true,
	})
	if err != nil {
		return nil, fmt.Errorf("neuroagentd: build storage client: %w", err)
	}

	gate, err := authgate.New(ctx, cfg.Keycloak.Issuer)
	if err != nil {
		return nil, fmt.Errorf("neuroagentd: build auth gate: %w", err)
	}

	streamClient, err := responses.NewFromAPIKey(apiKey, cfg.Agent.Model)
	if err != nil {
		return nil, err
	}
	filterClient, err := filtermodel.NewFromAPIKey(apiKey, cfg.Agent.Model)
	if err != nil {
		return nil, err
	}

	// The ~60 thin REST-wrapper tools that call out to the platform's
	// neuroscience APIs are out of core scope (SPEC_FULL.md §1); the
	// Registry starts empty and deployments add internal Tools or an MCP
	// server's synthesized Tools here without touching the Stream Engine or
	// Dispatcher, which only ever see the tool.Registry type.
	registry, err := tool.Build(nil, nil, nil)
	if err != nil {
		return nil, err
	}

	disp, err := dispatcher.New(registry, cfg.Agent.MaxParallelToolCalls)
	if err != nil {
		return nil, err
	}

	filter, err := toolfilter.New(toolfilter.Options{Client: filterClient, Threshold: 5})
	if err != nil {
		return nil, err
	}

	engine, err := streamengine.New(streamClient, registry, streamengine.Config{
		MaxTurns:             cfg.Agent.MaxTurns,
		MaxParallelToolCalls: cfg.Agent.MaxParallelToolCalls,
	})
	if err != nil {
		return nil, err
	}

	return httpapi.New(httpapi.Options{
		Store:      store,
		Engine:     engine,
		Registry:   registry,
		Dispatcher: disp,
		Filter:     filter,
		Gate:       gate,
		Limiter:    limiter,
		Accounting: accounting.NoopSession{},
		Chat:       filterClient,
		Objects:    objects,
		Config:     cfg,
	})
}

// buildLimiter chooses a Redis-backed Limiter when cfg.Redis.Addr is set,
// falling back to ratelimit.NoLimiter (spec.md §4.6's "store not
// configured" case) so the service still runs in environments without
// Redis available, e.g. local development.
func buildLimiter(cfg config.Config) (ratelimit.Limiter, error) {
	if cfg.Redis.Addr == "" {
		return ratelimit.NoLimiter{}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	return ratelimit.New(rdb)
}
