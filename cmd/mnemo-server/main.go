package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mnemograph/mnemo/internal/chat"
	"github.com/mnemograph/mnemo/internal/config"
	"github.com/mnemograph/mnemo/internal/llm"
	"github.com/mnemograph/mnemo/internal/memory"
	"github.com/mnemograph/mnemo/internal/pipeline"
	"github.com/mnemograph/mnemo/internal/server"
	"github.com/mnemograph/mnemo/internal/storage"
	"github.com/mnemograph/mnemo/internal/storage/postgres"
	"github.com/mnemograph/mnemo/internal/storage/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (default: $MNEMO_CONFIG)")
	flag.Parse()

	if *configPath == "" {
		*configPath = os.Getenv("MNEMO_CONFIG")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize embedding generator: %v", err)
	}
	generator, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize text generator: %v", err)
	}

	memories := memory.NewService(store, embedder, cfg.Memory)
	history := chat.NewHistoryService(store)
	chats := chat.NewProcessor(memories, history, generator)

	manifests, err := pipeline.NewFileManifestStore(cfg.Pipeline.ManifestPath)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline manifests: %v", err)
	}
	deps := pipeline.Dependencies{
		Memories:  memories,
		History:   history,
		Generator: generator,
	}
	executor := pipeline.NewExecutor(manifests, pipeline.NewDefaultRegistry(), deps, cfg.Pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := server.Start(ctx, cfg, server.Services{
		Memories:  memories,
		History:   history,
		Chats:     chats,
		Manifests: manifests,
		Executor:  executor,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Mnemo API running at http://%s", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	time.Sleep(1 * time.Second) // Give time for connections to close
}

// openStore selects the storage backend from configuration.
func openStore(cfg *config.Config) (storage.GraphStore, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		return postgres.NewGraphStore(cfg.Storage.PostgresDSN)
	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, err
		}
		return sqlite.NewGraphStore(filepath.Join(cfg.Storage.DataPath, "mnemo.db"))
	}
}
