package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/jks-lab/ragchat/internal/config"
	"github.com/jks-lab/ragchat/internal/core/ports"
	"github.com/jks-lab/ragchat/internal/infrastructure/ingest/excel"
	"github.com/jks-lab/ragchat/internal/infrastructure/llm/gemini"
	"github.com/jks-lab/ragchat/internal/infrastructure/resilience"
	"github.com/jks-lab/ragchat/internal/infrastructure/vector/chroma"
	"github.com/jks-lab/ragchat/internal/observability/logging"
)

const upsertTimeout = 60 * time.Second

// seeder reads a clinical CRF workbook, renders each row as label/value
// text, embeds it and upserts it into the CRF collection.
func main() {
	var (
		path         = flag.String("file", "", "path to the CRF workbook (.xlsx)")
		hospitalCode = flag.String("hospital", "", "corpus hospital code for every row in the workbook")
		collection   = flag.String("collection", "", "target collection (defaults to CRF_COLLECTION)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("seeder", cfg.LogLevel)

	if *path == "" || *hospitalCode == "" {
		logger.Error("both -file and -hospital are required")
		os.Exit(1)
	}
	target := *collection
	if target == "" {
		target = cfg.CRFCollection
	}

	documents, err := excel.ReadWorkbook(*path, *hospitalCode)
	if err != nil {
		logger.Error("read workbook failed", slog.String("file", *path), slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("workbook parsed",
		slog.String("file", *path),
		slog.Int("documents", len(documents)))

	executor := resilience.NewExecutor(resilience.DefaultConfig())
	embedder := gemini.New(cfg.GeminiAPIKey, gemini.Options{
		BaseURL:            cfg.GeminiBaseURL,
		EmbedModel:         cfg.GeminiEmbedModel,
		ResilienceExecutor: executor,
	})
	index := chroma.New(cfg.ChromaURL, target, chroma.Options{
		ResilienceExecutor: executor,
	})

	ctx := context.Background()
	seeded := 0
	for _, doc := range documents {
		opCtx, cancel := context.WithTimeout(ctx, upsertTimeout)
		embedding, err := embedder.Embed(opCtx, doc.Text, ports.TaskDocument)
		if err != nil {
			cancel()
			logger.Error("embed failed", slog.String("id", doc.ID), slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := index.Upsert(opCtx, doc.ID, embedding, doc.Text, doc.Metadata); err != nil {
			cancel()
			logger.Error("upsert failed", slog.String("id", doc.ID), slog.String("error", err.Error()))
			os.Exit(1)
		}
		cancel()
		seeded++
		if seeded%100 == 0 {
			logger.Info("seeding progress", slog.Int("seeded", seeded), slog.Int("total", len(documents)))
		}
	}

	logger.Info("seeding complete",
		slog.String("collection", target),
		slog.Int("documents", seeded))
}
