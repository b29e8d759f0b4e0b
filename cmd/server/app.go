package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"rag-chat-go/internal/chunker"
	"rag-chat-go/internal/config"
	"rag-chat-go/internal/pipeline"
	"rag-chat-go/internal/repository"
	"rag-chat-go/internal/service"
	"rag-chat-go/pkg/database"
	"rag-chat-go/pkg/embedding"
	"rag-chat-go/pkg/es"
	"rag-chat-go/pkg/kafka"
	"rag-chat-go/pkg/llm"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/metrics"
	"rag-chat-go/pkg/qdrant"
	"rag-chat-go/pkg/storage"
	"rag-chat-go/pkg/tika"
	"rag-chat-go/pkg/token"
	"rag-chat-go/pkg/vectorstore"
)

// app 持有进程内的全部依赖，由 newApp 一次性装配。
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	rdb     *redis.Client
	metrics *metrics.Metrics

	userService         service.UserService
	conversationService service.ConversationService
	documentService     service.DocumentService
	searchService       service.SearchService
	chatService         service.ChatService
	consumer            *kafka.Consumer

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warnf("[App] 关闭资源失败: %v", err)
		}
	}
}

// newVectorStore 根据 vector_store.provider 创建向量库并确保索引或集合存在。
func newVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, func() error, error) {
	dims := cfg.Embedding.Dimensions
	switch cfg.VectorStore.Provider {
	case "qdrant":
		store, err := qdrant.NewStore(cfg.Qdrant, dims)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureCollection(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
		}
		store := es.NewStore(client, cfg.Elasticsearch.IndexName, dims)
		if err := store.EnsureIndex(ctx); err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}
}

// newEmbeddingClient 按配置组装 Embedding 客户端：逐条调用与 Redis 缓存都是可选的包装。
func newEmbeddingClient(cfg config.EmbeddingConfig, rdb *redis.Client) embedding.Client {
	client := embedding.NewClient(cfg)
	if cfg.PerItem {
		client = embedding.NewPerItemClient(client, cfg.Model)
	}
	if cfg.CacheTTL > 0 {
		client = embedding.NewCachedClient(client, rdb, cfg.Model, cfg.CacheTTL)
	}
	return client
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. 基础设施
	if a.db, err = database.OpenMySQL(cfg.Database.MySQL); err != nil {
		return nil, err
	}
	if sqlDB, err := a.db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if a.rdb, err = database.OpenRedis(ctx, cfg.Database.Redis); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.rdb.Close)
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	objects, err := storage.NewMinioStore(ctx, cfg.MinIO)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := newVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	producer := kafka.NewProducer(cfg.Kafka)
	a.closers = append(a.closers, producer.Close)

	// 2. Repository
	userRepo := repository.NewUserRepository(a.db)
	conversationRepo := repository.NewConversationRepository(a.db)
	documentRepo := repository.NewDocumentRepository(a.db)
	docVectorRepo := repository.NewDocumentVectorRepository(a.db)
	turnLocker := repository.NewTurnLocker(a.rdb, cfg.Chat.LockTTL)

	// 3. Service
	embeddingClient := newEmbeddingClient(cfg.Embedding, a.rdb)
	generator := llm.NewClient(cfg.LLM)
	jwtManager := token.NewJWTManager(cfg.JWT)

	a.userService = service.NewUserService(userRepo, jwtManager, a.rdb)
	a.conversationService = service.NewConversationService(conversationRepo, turnLocker)
	a.searchService = service.NewSearchService(embeddingClient, store, documentRepo, a.metrics)
	orchestrator := service.NewOrchestrator(a.searchService, generator, cfg.Chat.HistoryWindow, cfg.Chat.TopK)
	a.chatService = service.NewChatService(orchestrator, conversationRepo, turnLocker, a.metrics)
	a.documentService = service.NewDocumentService(documentRepo, docVectorRepo, store, objects, producer, cfg.Document)

	// 4. 文档处理管道
	processor := pipeline.NewProcessor(
		objects,
		tika.NewClient(cfg.Tika),
		embeddingClient,
		store,
		documentRepo,
		docVectorRepo,
		chunker.New(cfg.Document.ChunkSize, cfg.Document.ChunkOverlap),
		cfg.Embedding.Model,
		a.metrics,
	)
	a.consumer = kafka.NewConsumer(cfg.Kafka, a.rdb, processor)
	return a, nil
}
