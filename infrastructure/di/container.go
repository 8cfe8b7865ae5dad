package di

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	neo4jdriver "github.com/neo4j/neo4j-go-driver/v5/neo4j"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"membank-backend/application/services"
	"membank-backend/domain/stm"
	"membank-backend/infrastructure/cache"
	"membank-backend/infrastructure/config"
	"membank-backend/infrastructure/external/openai"
	"membank-backend/infrastructure/messaging/rabbitmq"
	"membank-backend/infrastructure/persistence/milvus"
	"membank-backend/infrastructure/persistence/neo4j"
	"membank-backend/infrastructure/persistence/postgres"
	"membank-backend/infrastructure/repository"
	"membank-backend/infrastructure/worker"
	"membank-backend/pkg/resilience"
)

// Container holds the composed application. Per-request state (the L0 map,
// request id, deadline) is never stored here; it travels in the request
// context.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	// Shared connections
	Redis    *goredis.Client
	Postgres *pgxpool.Pool
	Milvus   milvusclient.Client
	Neo4j    neo4jdriver.DriverWithContext
	RabbitMQ *amqp.Connection

	// Adapters
	KV            *cache.RedisCache
	MetadataStore *postgres.MetadataStore
	VectorIndex   *milvus.VectorIndex
	GraphStore    *neo4j.GraphStore
	Queue         *rabbitmq.Queue

	// Services
	FactRepository      *repository.FactRepository
	SearchOrchestrator  *services.SearchOrchestrator
	MemoryOrchestrator  *services.MemoryOrchestrator
	STMStore            *services.STMStore
	JobManager          *services.JobManager
	ExtractionService   *services.ExtractionService
	ProactiveCacher     *services.ProactiveCacher
	ExtractionWorker    *worker.ExtractionWorker
	ProactiveScheduler  *worker.ProactiveScheduler
}

// InitializeContainer connects every backing store and wires the services.
// Connection establishment is serialised; the container is ready to serve
// when this returns.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}

	redisClient, err := ProvideRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pgPool, err := ProvidePgxPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	milvusClient, err := ProvideMilvusClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	neo4jDriver, err := ProvideNeo4jDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	amqpConn, err := ProvideRabbitMQConnection(cfg)
	if err != nil {
		return nil, err
	}

	kv := cache.NewRedisCache(redisClient, cfg.CacheL1TTL, logger)
	metadataStore := postgres.NewMetadataStore(pgPool, logger)
	vectorIndex := milvus.NewVectorIndex(milvusClient, cfg.MilvusCollection, cfg.EmbeddingDim, logger)
	graphStore := neo4j.NewGraphStore(neo4jDriver, logger)
	queue := rabbitmq.NewQueue(amqpConn, logger)

	if err := metadataStore.InitSchema(ctx); err != nil {
		return nil, err
	}
	if err := vectorIndex.InitCollection(ctx); err != nil {
		return nil, err
	}
	if err := graphStore.InitConstraints(ctx); err != nil {
		return nil, err
	}

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
	}, logger)
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.RetryMaxAttempts

	llm := openai.NewClient(openai.Config{
		BaseURL:        cfg.OpenAIBaseURL,
		APIKey:         cfg.OpenAIAPIKey,
		EmbeddingModel: cfg.OpenAIEmbeddingModel,
		LLMModel:       cfg.OpenAILLMModel,
		EmbeddingDim:   cfg.EmbeddingDim,
	}, breakers, retryCfg, logger)

	embeddingCache := cache.NewEmbeddingCache(kv, cfg.CacheL3TTL, logger)
	semanticCache := cache.NewSemanticCache(kv, cfg.SemanticCacheThreshold, cfg.SemanticCacheMaxQueries, logger)
	favoriteView := cache.NewFavoriteSummaryView(metadataStore, logger)

	hybrid := repository.NewHybridSearch(vectorIndex, metadataStore, cfg.HybridVectorWeight, cfg.HybridKeywordWeight, logger)
	if !cfg.UseHybridSearch {
		hybrid = nil
	}
	factRepo := repository.NewFactRepository(vectorIndex, graphStore, metadataStore, hybrid, logger)

	searchOrch := services.NewSearchOrchestrator(
		kv, favoriteView, semanticCache, embeddingCache, llm, factRepo,
		cfg.CacheL1TTL, cfg.DefaultScoreThreshold, logger,
	)
	stmStore := services.NewSTMStore(kv, stm.Config{
		Tier1MaxTurns:     cfg.STMTier1MaxTurns,
		Tier2SummaryTurns: cfg.STMTier2SummaryTurns,
		Tier3SummaryTurns: cfg.STMTier3SummaryTurns,
	}, cfg.STMTTL, nil, logger)
	memoryOrch := services.NewMemoryOrchestrator(stmStore, searchOrch, cfg.STMTimeout, cfg.LTMTimeout, logger)

	jobManager := services.NewJobManager(metadataStore, queue, cfg.ExtractionQueue, logger)
	extraction := services.NewExtractionService(jobManager, llm, llm, factRepo, kv, logger)
	proactive := services.NewProactiveCacher(
		factRepo, llm, embeddingCache, favoriteView, kv, metadataStore,
		cfg.ProactiveFavoriteQuery, cfg.CacheL1TTL, logger,
	)

	return &Container{
		Config:             cfg,
		Logger:             logger,
		Redis:              redisClient,
		Postgres:           pgPool,
		Milvus:             milvusClient,
		Neo4j:              neo4jDriver,
		RabbitMQ:           amqpConn,
		KV:                 kv,
		MetadataStore:      metadataStore,
		VectorIndex:        vectorIndex,
		GraphStore:         graphStore,
		Queue:              queue,
		FactRepository:     factRepo,
		SearchOrchestrator: searchOrch,
		MemoryOrchestrator: memoryOrch,
		STMStore:           stmStore,
		JobManager:         jobManager,
		ExtractionService:  extraction,
		ProactiveCacher:    proactive,
		ExtractionWorker:   worker.NewExtractionWorker(queue, cfg.ExtractionQueue, cfg.WorkerPrefetch, extraction, logger),
		ProactiveScheduler: worker.NewProactiveScheduler(proactive, cfg.ProactiveInterval, logger),
	}, nil
}

// Shutdown releases every shared connection
func (c *Container) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if c.RabbitMQ != nil {
		if err := c.RabbitMQ.Close(); err != nil {
			c.Logger.Warn("failed to close RabbitMQ connection", zap.Error(err))
		}
	}
	if c.Milvus != nil {
		if err := c.Milvus.Close(); err != nil {
			c.Logger.Warn("failed to close Milvus client", zap.Error(err))
		}
	}
	if c.Neo4j != nil {
		if err := c.Neo4j.Close(shutdownCtx); err != nil {
			c.Logger.Warn("failed to close Neo4j driver", zap.Error(err))
		}
	}
	if c.Postgres != nil {
		c.Postgres.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("failed to close Redis client", zap.Error(err))
		}
	}
}
