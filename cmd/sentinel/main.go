// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sentinel starts the Aleutian Sentinel API server.
//
// Aleutian Sentinel answers epidemiological questions over the national
// SRAG surveillance database with:
//   - A bounded reasoning loop over guarded SQL and web evidence
//   - Hybrid semantic + lexical ranking of retrieved passages
//   - Deterministic Markdown reports with a visible evidence trail
//   - Daily and monthly aggregate series for the dashboard
//
// Usage:
//
//	go run ./cmd/sentinel
//	go run ./cmd/sentinel -port 9090 -db data/sentinel.db -debug
//
// The reasoning model is selected by SENTINEL_LLM_PROVIDER ("openai" by
// default, "anthropic" supported):
//
//	OPENAI_API_KEY=sk-... go run ./cmd/sentinel
//	SENTINEL_LLM_PROVIDER=anthropic ANTHROPIC_API_KEY=sk-ant-... go run ./cmd/sentinel
//
// The web search tool needs an embedder (SENTINEL_EMBEDDER_PROVIDER,
// Ollama by default via EMBEDDING_SERVICE_URL) and a Tavily key:
//
//	OPENAI_API_KEY=sk-... TAVILY_API_KEY=tvly-... go run ./cmd/sentinel
//
// Optional infrastructure, each skipped silently when unconfigured:
// INFLUX_URL/INFLUX_TOKEN/INFLUX_ORG/INFLUX_BUCKET for run accounting,
// SENTINEL_ARCHIVE_BUCKET (and SENTINEL_ARCHIVE_PREFIX) for report
// archival in GCS, SENTINEL_CACHE_DIR for the persistent embedding
// cache, SENTINEL_TRACE_MODE ("stdout" or "otlp") plus
// OTEL_EXPORTER_OTLP_ENDPOINT for span export. Logging is tuned with
// SENTINEL_LOG_LEVEL (debug, info, warn, error) and SENTINEL_LOG_FORMAT
// (text, json, auto).
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/sentinel/health
//
//	# Submit a question and wait for the report
//	curl -X POST http://localhost:8080/v1/sentinel/reports \
//	  -H "Content-Type: application/json" \
//	  -d '{"question": "Como evoluíram os casos de SRAG no último mês?", "wait": true}'
//
//	# Daily case counts for the dashboard
//	curl "http://localhost:8080/v1/sentinel/aggregates/daily?days=30" | jq
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/agent"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/archive"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/logging"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/retrieval"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/runlog"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/search"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/secrets"
	badgerstore "github.com/AleutianAI/SentinelFOSS/services/sentinel/storage/badger"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/store"
	"github.com/AleutianAI/SentinelFOSS/services/sentinel/telemetry"
)

const (
	defaultDBPath        = "data/sentinel.db"
	secretRefreshTTL     = 5 * time.Minute
	shutdownGracePeriod  = 5 * time.Second
	serviceNameForTraces = "aleutian-sentinel"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode (request logging, gin debug output)")
	configPath := flag.String("config", "", "Path to a YAML config file (embedded defaults when empty)")
	dbPath := flag.String("db", "", "Path to the case store database (SENTINEL_DB, then data/sentinel.db)")
	noWatch := flag.Bool("no-watch", false, "Disable the ingestion watcher on the case store file")
	flag.Parse()

	logging.Setup()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	traceShutdown, err := telemetry.Setup(ctx, telemetry.FromEnv())
	if err != nil {
		slog.Warn("Tracing setup failed, continuing without spans",
			slog.String("error", err.Error()))
		traceShutdown = func(context.Context) error { return nil }
	}

	cfg := loadConfig(ctx, *configPath)

	schema, err := config.GetStoreSchema(ctx)
	if err != nil {
		slog.Error("Failed to load store schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// The case store is the one hard dependency: without it neither the
	// agent's query tool nor the dashboard aggregates can answer.
	storePath := *dbPath
	if storePath == "" {
		storePath = os.Getenv("SENTINEL_DB")
	}
	if storePath == "" {
		storePath = defaultDBPath
	}
	caseStore, err := store.Open(ctx, storePath, schema, cfg.Tools.Query)
	if err != nil {
		slog.Error("Failed to open case store",
			slog.String("path", storePath),
			slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("Case store opened", slog.String("path", storePath))

	svcOpts := []sentinel.ServiceOption{sentinel.WithCloser(caseStore)}

	// The ETL pipeline publishes a new database by atomic rename; the
	// watcher invalidates the anchor date cache so the next request sees
	// the fresh data without a restart.
	if !*noWatch {
		watcher, werr := store.WatchFile(storePath, 0, caseStore.InvalidateRecencyCache)
		if werr != nil {
			slog.Warn("Store watcher unavailable, anchor date refreshes on restart only",
				slog.String("error", werr.Error()))
		} else {
			svcOpts = append(svcOpts, sentinel.WithCloser(watcher))
		}
	}

	runner, tools, agentOpts, agentEnabled := setupAgentStack(cfg, schema, caseStore)
	svcOpts = append(svcOpts, agentOpts...)

	if sink := setupRunLog(); sink != nil {
		svcOpts = append(svcOpts, sentinel.WithRunLog(sink))
	}
	if arch := setupArchive(ctx); arch != nil {
		svcOpts = append(svcOpts, sentinel.WithArchive(arch))
	}

	svc, err := sentinel.NewService(cfg, schema, caseStore, runner, tools, svcOpts...)
	if err != nil {
		slog.Error("Failed to build sentinel service", slog.String("error", err.Error()))
		os.Exit(1)
	}
	handlers := sentinel.NewHandlers(svc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceNameForTraces))
	if *debug {
		router.Use(gin.Logger())
	}

	v1 := router.Group("/v1")
	sentinel.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port, agentEnabled)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down Aleutian Sentinel server")
		if cerr := svc.Close(); cerr != nil {
			slog.Warn("Shutdown cleanup reported errors", slog.String("error", cerr.Error()))
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if terr := traceShutdown(shutdownCtx); terr != nil {
			slog.Warn("Trace pipeline shutdown failed", slog.String("error", terr.Error()))
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting Aleutian Sentinel server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadConfig resolves the runtime configuration: an explicit file wins,
// otherwise the embedded defaults apply. Errors are fatal because every
// downstream component reads timeouts and limits from here.
func loadConfig(ctx context.Context, path string) *config.Config {
	if path != "" {
		loaded, err := config.LoadConfigFile(ctx, path)
		if err != nil {
			slog.Error("Failed to load config file",
				slog.String("path", path),
				slog.String("error", err.Error()))
			os.Exit(1)
		}
		config.SetConfig(loaded)
		slog.Info("Configuration loaded", slog.String("path", path))
		return loaded
	}
	cfg, err := config.GetConfig(ctx)
	if err != nil {
		slog.Error("Failed to load embedded config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	return cfg
}

// setupAgentStack wires the reasoning loop: model client, tools,
// dispatcher, synthesizer, controller.
//
// Returns the session runner, the advertised tool definitions, extra
// service options carrying cache lifecycles, and whether a reasoning
// model is actually connected. Without one the server still answers
// health checks and aggregates; run submissions fail with a
// provider-class error until a key is configured.
func setupAgentStack(cfg *config.Config, schema *config.StoreSchema, caseStore *store.Store) (sentinel.SessionRunner, []llm.ToolDef, []sentinel.ServiceOption, bool) {
	provider := os.Getenv("SENTINEL_LLM_PROVIDER")
	client, err := llm.NewClient(provider)
	if err != nil {
		slog.Warn("Reasoning model not configured, run submissions will fail until it is",
			slog.String("provider", providerLabel(provider)),
			slog.String("error", err.Error()))
		return &unconfiguredRunner{}, nil, nil, false
	}
	slog.Info("Reasoning model connected", slog.String("provider", providerLabel(provider)))

	guard := store.NewGuard(schema, cfg.Tools.Query.MaxRows)
	queryTool, err := agent.NewQueryTool(client, caseStore, guard, schema, cfg.Tools.Query)
	if err != nil {
		slog.Error("Failed to build query tool", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tools := []agent.Tool{queryTool}

	retriever, extraOpts := setupRetrieval(cfg)
	if retriever != nil {
		searchTool, serr := agent.NewSearchTool(retriever)
		if serr != nil {
			slog.Warn("Search tool unavailable", slog.String("error", serr.Error()))
		} else {
			tools = append(tools, searchTool)
		}
	}

	dispatcher, err := agent.NewDispatcher(cfg.Agent.ToolTimeout(), tools...)
	if err != nil {
		slog.Error("Failed to build tool dispatcher", slog.String("error", err.Error()))
		os.Exit(1)
	}
	synthesizer, err := agent.NewSynthesizer(client, cfg.Agent.ModelTimeout())
	if err != nil {
		slog.Error("Failed to build synthesizer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	controller, err := agent.NewController(client, dispatcher, synthesizer, cfg.Agent)
	if err != nil {
		slog.Error("Failed to build agent controller", slog.String("error", err.Error()))
		os.Exit(1)
	}

	return controller, dispatcher.Definitions(), extraOpts, true
}

// setupRetrieval builds the hybrid retrieval pipeline behind the search
// tool. A missing embedder disables the tool entirely; embedding
// failures at query time only degrade ranking to lexical, which the
// pipeline handles internally.
func setupRetrieval(cfg *config.Config) (agent.Retriever, []sentinel.ServiceOption) {
	embedder, err := llm.NewEmbedder(os.Getenv("SENTINEL_EMBEDDER_PROVIDER"))
	if err != nil {
		slog.Warn("Embedder not configured, search tool disabled",
			slog.String("error", err.Error()))
		return nil, nil
	}

	var opts []sentinel.ServiceOption
	var db *badgerstore.DB

	cacheDir := os.Getenv("SENTINEL_CACHE_DIR")
	if cacheDir == "" {
		if home, herr := os.UserHomeDir(); herr == nil {
			cacheDir = filepath.Join(home, ".aleutian", "cache", "sentinel", "embeddings")
		}
	}
	if cacheDir != "" {
		bcfg := badgerstore.DefaultConfig()
		bcfg.Path = cacheDir
		opened, berr := badgerstore.OpenDB(bcfg)
		if berr != nil {
			slog.Warn("Embedding cache unavailable, vectors will not persist across restarts",
				slog.String("path", cacheDir),
				slog.String("error", berr.Error()))
		} else {
			db = opened
			opts = append(opts, sentinel.WithCloser(db))
			slog.Info("Embedding cache opened", slog.String("path", cacheDir))
		}
	}

	// Nil db selects the memory-only cache.
	scorer, err := retrieval.NewSemanticScorer(embedder, retrieval.NewEmbeddingCache(db, 0))
	if err != nil {
		slog.Warn("Semantic scorer unavailable, search tool disabled",
			slog.String("error", err.Error()))
		return nil, opts
	}

	secretStore := secrets.NewStore(secrets.NewEnvBackend(secretRefreshTTL))
	searchClient, err := search.NewClient(secretStore, cfg.Tools.Search)
	if err != nil {
		slog.Warn("Search client unavailable, search tool disabled",
			slog.String("error", err.Error()))
		return nil, opts
	}

	pipeline, err := retrieval.NewPipeline(searchClient, scorer, cfg.Retrieval)
	if err != nil {
		slog.Warn("Retrieval pipeline unavailable, search tool disabled",
			slog.String("error", err.Error()))
		return nil, opts
	}
	return pipeline, opts
}

// setupRunLog builds the optional InfluxDB run accounting sink from the
// environment. Absent configuration is not an error.
func setupRunLog() runlog.Sink {
	url := os.Getenv("INFLUX_URL")
	if url == "" {
		return nil
	}
	sink, err := runlog.NewInfluxSink(url, os.Getenv("INFLUX_TOKEN"),
		os.Getenv("INFLUX_ORG"), os.Getenv("INFLUX_BUCKET"))
	if err != nil {
		slog.Warn("Run log sink unavailable", slog.String("error", err.Error()))
		return nil
	}
	slog.Info("Run log sink connected", slog.String("url", url))
	return sink
}

// setupArchive builds the optional GCS report archive from the
// environment. Absent configuration is not an error.
func setupArchive(ctx context.Context) archive.Archiver {
	bucket := os.Getenv("SENTINEL_ARCHIVE_BUCKET")
	if bucket == "" {
		return nil
	}
	arch, err := archive.NewBucketArchive(ctx, bucket, os.Getenv("SENTINEL_ARCHIVE_PREFIX"))
	if err != nil {
		slog.Warn("Report archive unavailable", slog.String("error", err.Error()))
		return nil
	}
	slog.Info("Report archive connected", slog.String("bucket", bucket))
	return arch
}

// providerLabel names the effective provider, resolving the empty
// default the same way llm.NewClient does.
func providerLabel(p string) string {
	if p == "" {
		return llm.ProviderOpenAI
	}
	return p
}

// unconfiguredRunner fails every session with a provider-class error.
// Installed when no reasoning model is configured so the rest of the
// API stays useful.
type unconfiguredRunner struct{}

func (r *unconfiguredRunner) Run(ctx context.Context, s *agent.Session, events *agent.EventBuffer) (*agent.Report, error) {
	return nil, agent.Classify(agent.ClassProvider,
		fmt.Errorf("reasoning model not configured (set OPENAI_API_KEY or ANTHROPIC_API_KEY)"))
}

func printBanner(port int, agentEnabled bool) {
	agentStatus := "DISABLED (set OPENAI_API_KEY to enable)"
	if agentEnabled {
		agentStatus = "ENABLED (reasoning model connected)"
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     ALEUTIAN SENTINEL SERVER                      ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Epidemiological Q&A over the national SRAG surveillance data.    ║
║  Agent Loop: %-50s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/sentinel/health           │  ║
║  │                                                             │  ║
║  │ # Submit a question and wait for the report                 │  ║
║  │ curl -X POST http://localhost:%d/v1/sentinel/reports \ │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"question": "Casos de SRAG no último mês?",          │  ║
║  │        "wait": true}'                                       │  ║
║  │                                                             │  ║
║  │ # Daily aggregates for the dashboard                        │  ║
║  │ curl http://localhost:%d/v1/sentinel/aggregates/daily │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Reports: POST /reports, GET /reports/:id, POST .../abort    ║
║  ├── Events:  GET /reports/:id/events (WebSocket)                ║
║  ├── Data:    /aggregates/daily, /aggregates/monthly             ║
║  └── Ops:     /health, /tools, /metrics                          ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, agentStatus, port, port, port)
}
