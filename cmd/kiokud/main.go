// Command kiokud runs the knowledge engine daemon: the WebSocket service,
// the background curator, and the scheduled decay pass.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/kioku-ai/kioku/config"
	"github.com/kioku-ai/kioku/curator"
	"github.com/kioku-ai/kioku/embedding"
	"github.com/kioku-ai/kioku/embedding/mock"
	"github.com/kioku-ai/kioku/lifecycle"
	"github.com/kioku-ai/kioku/llm"
	"github.com/kioku-ai/kioku/record"
	"github.com/kioku-ai/kioku/retrieval"
	"github.com/kioku-ai/kioku/review"
	"github.com/kioku-ai/kioku/server"
	"github.com/kioku-ai/kioku/triple"
)

func main() {
	configPath := flag.String("config", "kioku.yaml", "path to the config file")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("[MAIN] Create data dir: %v", err)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		log.Fatal("[MAIN] ANTHROPIC_API_KEY is not set")
	}
	gen := llm.NewAnthropicGenerator(apiKey, cfg.Model.Name,
		llm.WithMaxTokens(int64(cfg.Model.MaxTokens)))

	var embedder embedding.Embedder
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		embedder = embedding.NewOpenAI(key, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	} else {
		log.Printf("[MAIN] OPENAI_API_KEY not set, using local deterministic embedder")
		embedder = mock.New(cfg.Embedding.Dimensions)
	}
	cached, err := embedding.NewCached(embedder, int64(cfg.Embedding.CacheSize))
	if err != nil {
		log.Fatalf("[MAIN] Embedding cache: %v", err)
	}
	defer cached.Close()

	records, err := record.Open(cfg.RecordPath(), cached)
	if err != nil {
		log.Fatalf("[MAIN] Open record store: %v", err)
	}
	defer records.Close()

	triples, err := triple.Open(cfg.TriplePath())
	if err != nil {
		log.Fatalf("[MAIN] Open triple store: %v", err)
	}
	defer triples.Close()

	life := lifecycle.New(records, triples, lifecycle.Config{
		PromoteThreshold:   cfg.Lifecycle.PromoteThreshold,
		DecayThreshold:     cfg.Lifecycle.DecayThreshold,
		DeleteCooldown:     cfg.Lifecycle.DeleteCooldown.Std(),
		BoostValue:         cfg.Lifecycle.BoostValue,
		BoostCooldown:      cfg.Lifecycle.BoostCooldown.Std(),
		BoostDailyCap:      cfg.Lifecycle.BoostDailyCap,
		DedupSimilarity:    cfg.Lifecycle.DedupSimilarity,
		DedupBoost:         cfg.Lifecycle.DedupBoost,
		FactGrace:          cfg.Lifecycle.FactGrace.Std(),
		FactDecayFactor:    cfg.Lifecycle.FactDecayFactor,
		EpisodeGrace:       cfg.Lifecycle.EpisodeGrace.Std(),
		EpisodeDecayFactor: cfg.Lifecycle.EpisodeDecayFactor,
		EpisodeMaxAge:      cfg.Lifecycle.EpisodeMaxAge.Std(),
		KeepFloor:          cfg.Lifecycle.KeepFloor,
	})

	reviewer := review.New(gen, records)
	cur := curator.New(gen, records, triples, life, reviewer,
		curator.WithQueueSize(cfg.Curator.QueueSize))
	life.SetScheduler(cur)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cur.Start(ctx)
	defer cur.Close()

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Lifecycle.DecaySchedule, func() {
		life.DecayPass(context.Background())
	}); err != nil {
		log.Fatalf("[MAIN] Decay schedule %q: %v", cfg.Lifecycle.DecaySchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	retriever := retrieval.New(records, triples)
	srv := server.New(records, triples, life, retriever, cur, cfg.Retrieval.TopK)

	log.Printf("[MAIN] Engine ready: %d records, %d triples", records.Count(), triples.Count())
	if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		log.Fatalf("[MAIN] Serve: %v", err)
	}
}
