package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jks-lab/ragchat/internal/config"
	"github.com/jks-lab/ragchat/internal/core/classify"
	"github.com/jks-lab/ragchat/internal/core/domain"
	"github.com/jks-lab/ragchat/internal/core/memory"
	"github.com/jks-lab/ragchat/internal/core/ports"
	"github.com/jks-lab/ragchat/internal/core/usecase"
	"github.com/jks-lab/ragchat/internal/infrastructure/llm/gemini"
	"github.com/jks-lab/ragchat/internal/infrastructure/queue/nats"
	"github.com/jks-lab/ragchat/internal/infrastructure/repository/postgres"
	"github.com/jks-lab/ragchat/internal/infrastructure/resilience"
	"github.com/jks-lab/ragchat/internal/infrastructure/vector/chroma"
	"github.com/jks-lab/ragchat/internal/observability/metrics"
)

const crfProbeTimeout = 5 * time.Second

type App struct {
	Config config.Config
	Logger *slog.Logger

	Chat    *usecase.ChatUseCase
	Memory  *memory.Store
	Queue   ports.TurnQueue
	Indexes map[string]ports.VectorIndex
	Metrics *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	executor := resilience.NewExecutor(resilience.DefaultConfig())

	llm := gemini.New(cfg.GeminiAPIKey, gemini.Options{
		BaseURL:            cfg.GeminiBaseURL,
		GenModel:           cfg.GeminiGenModel,
		CodeModel:          cfg.GeminiCodeModel,
		EmbedModel:         cfg.GeminiEmbedModel,
		ResilienceExecutor: executor,
	})

	issuesIndex := chroma.New(cfg.ChromaURL, cfg.IssuesCollection, chroma.Options{
		ResilienceExecutor: executor,
	})
	memoryIndex := chroma.New(cfg.ChromaURL, cfg.MemoryCollection, chroma.Options{
		ResilienceExecutor: executor,
	})

	// The clinical collection is optional. When it cannot be reached the
	// service degrades to single-domain routing instead of refusing to start.
	var crfIndex ports.VectorIndex
	if cfg.CRFCollection != "" {
		candidate := chroma.New(cfg.ChromaURL, cfg.CRFCollection, chroma.Options{
			ResilienceExecutor: executor,
		})
		probeCtx, cancel := context.WithTimeout(ctx, crfProbeTimeout)
		count, err := candidate.Count(probeCtx)
		cancel()
		if err != nil {
			logger.Warn("crf collection unreachable, starting single-domain",
				slog.String("collection", cfg.CRFCollection),
				slog.String("error", err.Error()))
		} else {
			logger.Info("crf collection mounted",
				slog.String("collection", cfg.CRFCollection),
				slog.Int("documents", count))
			crfIndex = candidate
		}
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sessions := postgres.NewSessionRepository(db)
	if err := sessions.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure session schema: %w", err)
	}

	var queue *nats.Queue
	if cfg.NATSURL != "" {
		queue, err = nats.New(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init turn queue: %w", err)
		}
	}

	memoryOpts := []memory.Option{
		memory.WithTTL(time.Duration(cfg.MemoryTTLHours) * time.Hour),
	}
	if queue != nil {
		memoryOpts = append(memoryOpts, memory.WithQueue(queue))
	}
	conversations := memory.NewStore(memoryIndex, llm, logger, memoryOpts...)

	classifier := classify.New(hospitalTable(cfg.Hospitals))
	topK := usecase.TopKDefaults{
		General:     cfg.TopK.General,
		Technical:   cfg.TopK.Technical,
		Version:     cfg.TopK.Version,
		CRF:         cfg.TopK.CRF,
		RecentFloor: cfg.TopK.RecentFloor,
	}

	issuesEngine := usecase.NewEngine(
		domain.EngineIssues, issuesIndex, llm, llm, conversations, classifier,
		topK, usecase.DefaultIssuesConfig(cfg.IssueBaseURL), logger,
	)
	engines := map[domain.EngineID]*usecase.Engine{
		domain.EngineIssues: issuesEngine,
	}

	var router *usecase.Router
	if crfIndex != nil {
		crfCfg := usecase.DefaultCRFConfig()
		if cfg.StatsChunkChars > 0 {
			crfCfg.StatsChunkChars = cfg.StatsChunkChars
		}
		crfEngine := usecase.NewEngine(
			domain.EngineCRF, crfIndex, llm, llm, conversations, classifier,
			topK, crfCfg, logger,
		)
		engines[domain.EngineCRF] = crfEngine
		router = usecase.NewRouter(classifier, issuesEngine, crfEngine, cfg.SimilarityThreshold, logger)
	} else {
		router = usecase.NewRouter(classifier, issuesEngine, nil, cfg.SimilarityThreshold, logger)
	}

	chat := usecase.NewChatUseCase(router, engines, sessions, conversations, logger)

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	chat.ObserveRoutes(func(engine domain.EngineID, reason string) {
		httpMetrics.RecordRouteDecision("api", string(engine), reason)
	})

	indexes := map[string]ports.VectorIndex{
		"issues": issuesIndex,
		"memory": memoryIndex,
	}
	if crfIndex != nil {
		indexes["crf"] = crfIndex
	}

	var queuePort ports.TurnQueue
	if queue != nil {
		queuePort = queue
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Chat:    chat,
		Memory:  conversations,
		Queue:   queuePort,
		Indexes: indexes,
		Metrics: httpMetrics,

		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func hospitalTable(entries []config.Hospital) []classify.Hospital {
	if len(entries) == 0 {
		return nil
	}
	hospitals := make([]classify.Hospital, 0, len(entries))
	for _, entry := range entries {
		hospitals = append(hospitals, classify.Hospital{Name: entry.Name, Code: entry.Code})
	}
	return hospitals
}
