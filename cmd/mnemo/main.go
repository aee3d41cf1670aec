package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/mnemo/internal/analysis"
	"github.com/nidhogg/mnemo/internal/api"
	"github.com/nidhogg/mnemo/internal/command"
	"github.com/nidhogg/mnemo/internal/config"
	"github.com/nidhogg/mnemo/internal/embedding"
	"github.com/nidhogg/mnemo/internal/events"
	"github.com/nidhogg/mnemo/internal/gateway"
	"github.com/nidhogg/mnemo/internal/graph"
	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/orchestrator"
	"github.com/nidhogg/mnemo/internal/planner"
	"github.com/nidhogg/mnemo/internal/provider"
	"github.com/nidhogg/mnemo/internal/research"
	"github.com/nidhogg/mnemo/internal/retrieval"
	msgrouter "github.com/nidhogg/mnemo/internal/router"
	pgstore "github.com/nidhogg/mnemo/internal/store"
	"github.com/nidhogg/mnemo/internal/vectorindex"
	"github.com/nidhogg/mnemo/internal/vectorstore"
)

// admissionWait is how long a request waits for a processing slot before
// it is rejected as busy.
const admissionWait = 5 * time.Second

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/mnemo.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("starting mnemo", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedding and memory
	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
		CacheSize: cfg.Embedding.CacheSize,
		Workers:   cfg.Embedding.Workers,
	}, logger)
	if err != nil {
		logger.Fatal("embedding setup failed", zap.Error(err))
	}
	store := memory.New(embedder, vectorindex.NewBruteForce(embedder.Dimension()), logger)
	if path := cfg.Memory.SnapshotPath; path != "" {
		if err := store.LoadFile(path); err != nil {
			logger.Fatal("memory snapshot load failed", zap.String("path", path), zap.Error(err))
		}
	}

	// Optional sinks. Each observes committed memory events.
	var pgStore *pgstore.Store
	if dsn := cfg.Database.Postgres.DSN; dsn != "" {
		ps, pgErr := pgstore.New(ctx, dsn, logger)
		if pgErr != nil {
			logger.Warn("postgres unavailable, running without archive", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(ctx, cfg.Database.Postgres.Migrations); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store.Observe(ps)
			pgStore = ps
		}
	}

	var topicGraph *graph.Graph
	if uri := cfg.Database.Neo4j.URI; uri != "" {
		g, gErr := graph.New(ctx, uri, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr != nil {
			logger.Warn("neo4j unavailable, running without topic graph", zap.Error(gErr))
		} else {
			store.Observe(g)
			topicGraph = g
		}
	}

	var bus *events.Bus
	if url := cfg.Database.Redis.URL; url != "" {
		b, bErr := events.New(ctx, url, cfg.Database.Redis.Stream, logger)
		if bErr != nil {
			logger.Warn("redis unavailable, running without event stream", zap.Error(bErr))
		} else {
			store.Observe(b)
			bus = b
		}
	}

	var (
		qdrant  *vectorstore.Client
		replica *vectorstore.Replica
	)
	if q := cfg.Database.Qdrant; q.Host != "" && embedder.Available() {
		c, qErr := vectorstore.NewClient(vectorstore.QdrantConfig{Host: q.Host, Port: q.Port, Collection: q.Collection})
		if qErr != nil {
			logger.Warn("qdrant unavailable, running without vector replica", zap.Error(qErr))
		} else {
			replica = vectorstore.NewReplica(c, q.Collection, logger)
			store.Observe(replica)
			qdrant = c
		}
	}

	// LLM collaborator
	var llm *provider.Router
	if cfg.LLMReady() {
		timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
		llm, err = provider.FromConfig(providerConfigs(cfg.LLM.Providers), timeout, logger)
		if err != nil {
			logger.Fatal("provider setup failed", zap.Error(err))
		}
	}
	llmEnabled := llm.Available()
	logger.Info("llm collaborator", zap.Bool("enabled", llmEnabled))

	// Coordinator
	var classifier planner.Classifier
	if llmEnabled {
		classifier = planner.NewLLMClassifier(llm, "")
	}
	coord := orchestrator.New(store,
		planner.New(classifier, nil, logger),
		research.New(nil, logger),
		analysis.New(logger),
		logger)
	if llmEnabled {
		coord.SetLLM(llm)
	}
	coord.SetTopK(cfg.Memory.DefaultTopK)
	coord.SetScheduler(orchestrator.NewScheduler(cfg.Memory.MaxConcurrent, admissionWait, logger))

	// Chat platforms
	gw := gateway.NewGateway(logger)
	retriever := retrieval.New(store, logger)
	commands := command.NewRegistry()
	command.RegisterMemoryCommands(commands, store, retriever)
	command.RegisterSearchCommand(commands, retriever)
	command.RegisterBuiltins(commands, gw, store)

	var sessions msgrouter.Sessions
	if pgStore != nil {
		sessions = pgStore
	}
	requestTimeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	msgRouter := msgrouter.New(coord, gw, sessions, commands, requestTimeout, logger)
	// Adapters deliver from their event loops; answer off-loop.
	gw.SetHandler(func(msg *gateway.InboundMessage) { go msgRouter.Handle(msg) })

	if s := cfg.Gateway.Slack; s.Enabled && s.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(s.BotToken, s.AppToken, logger))
	}
	if d := cfg.Gateway.Discord; d.Enabled && d.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(d.BotToken, logger))
	}
	if len(gw.StatusAll()) > 0 {
		if err := gw.ConnectAll(ctx); err != nil {
			logger.Warn("gateway adapters failed to connect", zap.Error(err))
		}
	}

	// HTTP
	handler := api.NewHandler(coord, store, logger)
	handler.SetLLMEnabled(llmEnabled)
	handler.SetTopK(cfg.Memory.DefaultTopK)
	handler.SetAdapters(gw)
	if topicGraph != nil {
		handler.SetGraph(topicGraph)
	}
	if replica != nil {
		handler.SetReplica(replica)
	}

	port := cfg.Server.Port
	if port == 0 {
		port = 8000
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("mnemo listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down mnemo")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gw.Close()
	if path := cfg.Memory.SnapshotPath; path != "" {
		if err := store.SaveFile(path); err != nil {
			logger.Error("memory snapshot save failed", zap.Error(err))
		}
	}
	if bus != nil {
		bus.Close()
	}
	if topicGraph != nil {
		topicGraph.Close(shutdownCtx)
	}
	if qdrant != nil {
		qdrant.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
	embedding.Close(embedder)
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func providerConfigs(in []config.ProviderConfig) []provider.ProviderConfig {
	out := make([]provider.ProviderConfig, 0, len(in))
	for _, pc := range in {
		out = append(out, provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		})
	}
	return out
}
