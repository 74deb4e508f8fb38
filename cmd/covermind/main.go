// Command covermind runs the semantic answer-matching and scoring engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/covermind/covermind/internal/adapters/corpusstore"
	"github.com/covermind/covermind/internal/adapters/embedding"
	"github.com/covermind/covermind/internal/adapters/ledger"
	"github.com/covermind/covermind/internal/adapters/seedwatcher"
	"github.com/covermind/covermind/internal/adapters/validation"
	"github.com/covermind/covermind/internal/domain/ports"
	"github.com/covermind/covermind/internal/domain/usecases"
	"github.com/covermind/covermind/internal/infrastructure/config"
	httpserver "github.com/covermind/covermind/internal/infrastructure/http"
	"github.com/covermind/covermind/internal/infrastructure/metrics"
	"github.com/covermind/covermind/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply when empty)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "covermind: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logging.New("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable store.
	var store ports.CorpusStore
	switch cfg.Storage.Driver {
	case "memory":
		store = corpusstore.NewInMemoryStore()
	default:
		sqliteStore, err := corpusstore.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer sqliteStore.Close()
		store = sqliteStore
	}

	// Embedding service.
	var embedder ports.EmbeddingService
	switch cfg.Embedder.Provider {
	case "openai":
		embedder = embedding.NewOpenAIAdapter(
			cfg.Embedder.APIKey, cfg.Embedder.BaseURL, cfg.Embedder.Model,
			cfg.Embedder.Timeout.Std(), logging.New("embedder"))
	default:
		embedder = embedding.NewOllamaAdapter(cfg.Embedder.BaseURL, cfg.Embedder.Model, cfg.Embedder.Timeout.Std())
	}

	validator := validation.NewHTTPValidator(cfg.Validator.BaseURL, cfg.Validator.Timeout.Std())

	var sink ports.LedgerSink
	if cfg.Ledger.BaseURL != "" {
		sink = ledger.NewHTTPLedger(cfg.Ledger.BaseURL, cfg.Ledger.Timeout.Std())
	} else {
		log.Warn("no ledger configured, payouts recorded in memory only")
		sink = ledger.NewInMemoryLedger()
	}

	// Engines.
	corpus := usecases.NewCorpusManager(store, logging.New("corpus"))
	if err := corpus.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping corpus: %w", err)
	}
	snapshots := usecases.NewSnapshotManager(corpus, logging.New("snapshot"))
	scoring := usecases.NewScoringEngine(sink, logging.New("scoring"))
	rounds := usecases.NewRoundEngine(
		snapshots, corpus, scoring, validator, embedder, store,
		cfg.Rounds.FeedCorpus, logging.New("rounds"))

	metrics.RegisterEngineStats(rounds.ActiveRounds, corpus.Evictions)

	server := httpserver.NewServer(rounds, corpus, embedder, cfg.Server.Addr, logging.New("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	if cfg.Seed.Enabled {
		watcher := seedwatcher.NewWatcher(cfg.Seed.Dir, corpus, embedder, logging.New("seeds"))
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Rounds.SweepInterval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rounds.SweepTerminated(cfg.Rounds.TTL.Std())
			}
		}
	})

	return g.Wait()
}
