package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"strix/internal/agent"
	"strix/internal/config"
	"strix/internal/embedding"
	"strix/internal/errors"
	"strix/internal/events"
	"strix/internal/keys"
	"strix/internal/llm"
	"strix/internal/logging"
	"strix/internal/memory"
	"strix/internal/observability"
	serverhttp "strix/internal/server/http"
	"strix/internal/session"
	"strix/internal/tools"
	"strix/internal/vecstore"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "strix",
		Short: "strix is a multi-tenant autonomous agent runtime",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and agent workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("strix", version)
		},
	}

	root.AddCommand(serve, versionCmd)
	return root
}

// expandHome resolves a leading ~ against the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func runServe(cfg *config.Config) error {
	logging.SetLogFile(expandHome(cfg.Log.File))
	logger := logging.NewComponentLogger("main")
	logger.Info("Starting strix %s", version)

	storeDir := expandHome(cfg.Store.Dir)

	sessions, err := session.NewStore(filepath.Join(storeDir, "sessions"))
	if err != nil {
		return err
	}
	contexts := session.NewContextStore(sessions, cfg.Agent.MaxContextMessages)

	keyStore, err := keys.NewStore(filepath.Join(storeDir, "keys"))
	if err != nil {
		return err
	}
	resolver := keys.NewResolver(keyStore)

	registry, err := tools.NewRegistry(filepath.Join(storeDir, "tools"))
	if err != nil {
		return err
	}

	systemEmbedder, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		logger.Warn("System embedding client disabled: %v", err)
		systemEmbedder = nil
	}

	vectors, err := openVectorStore(cfg.Milvus, logger)
	if err != nil {
		return err
	}
	defer vectors.Close()

	systemCollection := keys.DeriveCollectionName(cfg.Embedding.Model, cfg.Embedding.Dimensions)
	var embedderIface embedding.Embedder
	if systemEmbedder != nil {
		embedderIface = systemEmbedder
	}
	memories := memory.NewService(vectors, embedderIface, systemCollection, resolver, cfg.Memory.MinScore)
	compressor := memory.NewCompressor(memories, resolver)

	index := tools.NewIndex(registry, resolver, embedderIface)
	executor := tools.NewExecutor(registry)

	broadcaster := events.NewBroadcaster()
	metrics := observability.NewMetrics()
	broadcaster.SetDropHook(metrics.EventsDropped.Inc)
	memories.SetOpHook(func(operation string) {
		metrics.MemoryOpCounter.WithLabelValues(operation).Inc()
	})

	systemRouter := buildSystemRouter(cfg.LLM, logger)
	systemRouter.SetObserver(func(provider string, err error, elapsed time.Duration) {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.LLMRequestCounter.WithLabelValues(provider, status).Inc()
		metrics.LLMRequestDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	})

	loop := agent.NewLoop(cfg.Agent, agent.Deps{
		Sessions:  sessions,
		Contexts:  contexts,
		Publisher: broadcaster,
		Resolver:  resolver,
		System:    systemRouter,
		Registry:  registry,
		Index:     index,
		Executor:  executor,
		Memories:  memories,
		Metrics:   metrics,
	})
	runner := agent.NewRunner(loop, cfg.Agent.MaxWorkers)

	server := serverhttp.NewServer(cfg.Server.Addr, serverhttp.Deps{
		Sessions:    sessions,
		Contexts:    contexts,
		Runner:      runner,
		Broadcaster: broadcaster,
		Memories:    memories,
		Compressor:  compressor,
		Keys:        keyStore,
		Registry:    registry,
		Index:       index,
		Metrics:     metrics,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("Received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown: %v", err)
	}
	runner.Shutdown()
	return nil
}

// buildSystemRouter wires the primary/fallback pair. Without a configured
// primary key the router still serves user-key sessions; system-routed
// calls then fail with a provider error.
func buildSystemRouter(cfg config.LLMConfig, logger logging.Logger) *llm.Router {
	breakers := errors.NewCircuitBreakerManager(errors.DefaultCircuitBreakerConfig())

	primaryName := cfg.Primary.Name
	if primaryName == "" {
		primaryName = "primary"
	}
	primary := llm.NewClient(cfg.Primary)

	var fallback llm.Caller
	fallbackName := cfg.Fallback.Name
	if cfg.Fallback.APIKey != "" || cfg.Fallback.BaseURL != "" {
		if fallbackName == "" {
			fallbackName = "fallback"
		}
		fallback = llm.NewClient(cfg.Fallback)
	} else {
		logger.Info("No fallback provider configured")
	}
	return llm.NewRouter(primary, primaryName, fallback, fallbackName, breakers)
}

func openVectorStore(cfg config.MilvusConfig, logger logging.Logger) (vecstore.Store, error) {
	if cfg.Host == "" {
		logger.Info("Milvus host not configured, using the in-process vector store")
		return vecstore.NewMemStore(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return vecstore.NewMilvusStore(ctx, cfg)
}
