package di

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/expertclone/backend-go/internal/config"
	"github.com/expertclone/backend-go/internal/database"
	"github.com/expertclone/backend-go/internal/kafka"
	"github.com/expertclone/backend-go/internal/knowledge"
	"github.com/expertclone/backend-go/internal/logger"
	"github.com/expertclone/backend-go/internal/services"
	"github.com/expertclone/backend-go/internal/storage"
)

// RegisterProviders 注册所有依赖提供者。
// 真实/模拟提供商的选择只在这里发生一次，运行期不再切换。
func RegisterProviders(container *dig.Container) error {
	providers := []interface{}{
		provideConfig,
		provideDB,
		provideRedis,
		provideObjectStore,
		provideOpenAIClient,
		provideExtractor,
		provideChunker,
		provideEmbedder,
		provideChunkStore,
		provideIndexer,
		provideStoreClient,
		provideAssistantManager,
		provideKafkaProducer,
		provideTracker,
		provideMetrics,
		provideProcessingService,
		provideQueryService,
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func provideConfig() (*config.Config, error) {
	cfg := config.GetAppConfig()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return cfg, nil
}

func provideDB() (*gorm.DB, error) {
	if database.DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return database.DB, nil
}

// Redis可选，未连上时返回nil，下游自行降级
func provideRedis() *redis.Client {
	return database.RedisClient
}

func provideObjectStore(cfg *config.Config) *storage.ObjectStore {
	store, err := storage.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Warn("对象存储不可用，仅支持内联文档", zap.Error(err))
		return nil
	}
	return store
}

func provideOpenAIClient(cfg *config.Config) *openai.Client {
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY未配置，将运行在模拟模式")
		return nil
	}
	return openai.NewClient(cfg.OpenAI.APIKey)
}

func provideExtractor() *knowledge.TextExtractor {
	return knowledge.NewTextExtractor()
}

func provideChunker() *knowledge.Chunker {
	return knowledge.NewChunker()
}

func provideEmbedder(client *openai.Client, cfg *config.Config) knowledge.Embedder {
	return knowledge.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel)
}

func provideChunkStore(cfg *config.Config, db *gorm.DB) knowledge.ChunkVectorStore {
	if cfg.VectorStore.Provider == "milvus" {
		store, err := knowledge.NewMilvusChunkStore(knowledge.MilvusOptions{
			Address:          cfg.VectorStore.Milvus.Address,
			Username:         cfg.VectorStore.Milvus.Username,
			Password:         cfg.VectorStore.Milvus.Password,
			CollectionPrefix: cfg.VectorStore.Milvus.Collection,
			Database:         cfg.VectorStore.Milvus.Database,
			VectorSize:       cfg.VectorStore.Milvus.VectorSize,
			Distance:         cfg.VectorStore.Milvus.Distance,
			UseTLS:           cfg.VectorStore.Milvus.TLS,
		})
		if err != nil {
			logger.Warn("Milvus不可用，回退到数据库向量检索", zap.Error(err))
		} else {
			return store
		}
	}
	return knowledge.NewDatabaseChunkStore(db)
}

func provideIndexer(cfg *config.Config, db *gorm.DB) knowledge.FulltextIndexer {
	if cfg.Search.Provider == "elasticsearch" {
		indexer, err := knowledge.NewElasticsearchIndexer(
			cfg.Search.Elasticsearch.Addresses,
			cfg.Search.Elasticsearch.Username,
			cfg.Search.Elasticsearch.Password,
			cfg.Search.Elasticsearch.APIKey,
			cfg.Search.Elasticsearch.IndexPrefix,
		)
		if err != nil {
			logger.Warn("Elasticsearch不可用，回退到数据库全文检索", zap.Error(err))
		} else {
			return indexer
		}
	}
	return knowledge.NewDatabaseIndexer(db)
}

// provideStoreClient 启动时探活一次决定真实或模拟向量库
func provideStoreClient(client *openai.Client, cfg *config.Config, chunks knowledge.ChunkVectorStore) knowledge.StoreClient {
	if client != nil {
		real := knowledge.NewOpenAIStoreClient(client, cfg.RAG.StoreExpirationDays)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if real.Ready(ctx) {
			return real
		}
		logger.Warn("OpenAI向量库探活失败，使用模拟向量库")
	}
	return knowledge.NewSimulatedStoreClient(chunks)
}

func provideAssistantManager(client *openai.Client, cfg *config.Config, stores knowledge.StoreClient, embedder knowledge.Embedder, chunks knowledge.ChunkVectorStore, indexer knowledge.FulltextIndexer) knowledge.AssistantManager {
	if client != nil && !stores.Simulated() {
		return knowledge.NewOpenAIAssistantManager(client, cfg.OpenAI.AssistantModel)
	}
	logger.Warn("助手运行在降级模式，使用本地检索加补全")
	return knowledge.NewDegradedAssistantManager(client, cfg.OpenAI.ChatModel, embedder, chunks, indexer)
}

func provideKafkaProducer(cfg *config.Config) (*kafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err != nil {
		logger.Warn("Kafka生产者初始化失败，处理事件将不会发布", zap.Error(err))
		return nil, nil
	}
	return producer, nil
}

func provideTracker(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *services.InitializationTracker {
	return services.NewInitializationTracker(db, rdb, cfg.RAG.JobTTLHours)
}

func provideMetrics() *services.RAGMetrics {
	return services.NewRAGMetrics()
}

func provideProcessingService(
	db *gorm.DB,
	cfg *config.Config,
	objects *storage.ObjectStore,
	extractor *knowledge.TextExtractor,
	chunker *knowledge.Chunker,
	embedder knowledge.Embedder,
	stores knowledge.StoreClient,
	assistants knowledge.AssistantManager,
	chunkStore knowledge.ChunkVectorStore,
	indexer knowledge.FulltextIndexer,
	tracker *services.InitializationTracker,
	producer *kafka.Producer,
	metrics *services.RAGMetrics,
) *services.RAGProcessingService {
	return services.NewRAGProcessingService(services.RAGProcessingDeps{
		DB:         db,
		Config:     cfg,
		Objects:    objects,
		Extractor:  extractor,
		Chunker:    chunker,
		Embedder:   embedder,
		Stores:     stores,
		Assistants: assistants,
		ChunkStore: chunkStore,
		Indexer:    indexer,
		Tracker:    tracker,
		Producer:   producer,
		Metrics:    metrics,
	})
}

func provideQueryService(db *gorm.DB, cfg *config.Config, client *openai.Client, assistants knowledge.AssistantManager, metrics *services.RAGMetrics) *services.RAGQueryService {
	return services.NewRAGQueryService(db, cfg, client, assistants, metrics)
}
