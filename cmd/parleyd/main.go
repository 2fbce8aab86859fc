// Command parleyd runs the conversation API server: migrations, provider
// setup, and the HTTP endpoints for streaming chat.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/parleyhq/parley/db"
	"github.com/parleyhq/parley/internal/api"
	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/document"
	"github.com/parleyhq/parley/internal/locker"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/tools"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parleyd:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{
		Level: parseLevel(cfg.LogLevel),
		JSON:  cfg.LogJSON,
	})
	slog.SetDefault(logger)

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	g, embedder, err := setupProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}

	relational := conversation.NewPostgresStore(pool, logger)
	transcripts := conversation.NewPostgresTranscripts(pool, logger)
	store := conversation.NewAdapter(relational, transcripts, logger)

	docs := document.NewPostgresStore(pool, embedder, logger)
	searcher := document.NewSearcher(embedder, docs, logger)

	kit := tools.NewKit(docs, searcher, logger)
	local := kit.Register(g)

	sources, err := connectToolServers(ctx, g, cfg.ToolServers, logger)
	if err != nil {
		return err
	}
	resolver := tools.NewResolver(local, sources, logger)

	locks := locker.New(locker.Config{Logger: logger})
	defer locks.Close()

	orchestrator, err := chat.New(chat.Config{
		Genkit:       g,
		Locks:        locks,
		Store:        store,
		Tools:        resolver,
		Registry:     cfg,
		DefaultModel: cfg.ModelName,
		SystemPrompt: cfg.SystemPrompt,
		MaxTurns:     cfg.MaxTurns,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	flow := chat.NewFlow(g, orchestrator)
	server := api.NewServer(orchestrator, flow, pool, logger)
	return server.Run(ctx, cfg.ListenAddr)
}

// connectToolServers establishes clients for the configured tool servers
// concurrently. One unreachable server must not take the process down, so
// failures are logged and the server is skipped.
func connectToolServers(ctx context.Context, g *genkit.Genkit, servers []config.ToolServer, logger *slog.Logger) ([]tools.Source, error) {
	results := make([]tools.Source, len(servers))
	eg, _ := errgroup.WithContext(ctx)
	for i, srv := range servers {
		eg.Go(func() error {
			source, err := tools.NewMCPSource(g, srv.Name, srv.ClientOptions())
			if err != nil {
				logger.Warn("tool server unavailable", "server", srv.Name, "error", err)
				return nil
			}
			results[i] = source
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sources := make([]tools.Source, 0, len(results))
	for _, s := range results {
		if s != nil {
			sources = append(sources, s)
		}
	}
	return sources, nil
}

// newPool creates the connection pool shared by every store.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	if cfg.PoolMaxConns > 0 {
		poolCfg.MaxConns = cfg.PoolMaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// setupProvider initializes Genkit with the configured provider and returns
// the instance together with the embedder backing document search.
func setupProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, ai.Embedder, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g := genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit registration, there is no auto-discovery.
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		embedder := ollama.Embedder(g, cfg.OllamaHost)
		if embedder == nil {
			return nil, nil, fmt.Errorf("embedder %q not found for ollama provider", cfg.EmbedderModel)
		}
		logger.Info("initialized ollama provider", "model", cfg.ModelName, "host", cfg.OllamaHost)
		return g, embedder, nil

	default: // gemini
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, nil, errors.New("initializing genkit with gemini provider")
		}
		embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
		if embedder == nil {
			return nil, nil, fmt.Errorf("embedder %q not found for gemini provider", cfg.EmbedderModel)
		}
		logger.Info("initialized gemini provider", "model", cfg.ModelName)
		return g, embedder, nil
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
