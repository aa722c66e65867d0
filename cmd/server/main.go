// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"course-rag-go/internal/config"
	"course-rag-go/internal/handler"
	"course-rag-go/internal/middleware"
	"course-rag-go/internal/pipeline"
	"course-rag-go/internal/repository"
	"course-rag-go/internal/service"
	"course-rag-go/internal/session"
	"course-rag-go/internal/vectorindex"
	"course-rag-go/pkg/database"
	"course-rag-go/pkg/embedding"
	"course-rag-go/pkg/es"
	"course-rag-go/pkg/kafka"
	"course-rag-go/pkg/llm"
	"course-rag-go/pkg/log"
	"course-rag-go/pkg/storage"
	"course-rag-go/pkg/tika"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/minio/minio-go/v7"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化可选的外部依赖，地址为空时跳过
	var rdb *redis.Client
	if cfg.Database.Redis.Addr != "" {
		client, err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			log.Fatal("Redis 初始化失败", err)
		}
		rdb = client
		defer rdb.Close()
	}

	var docRepo repository.DocumentRepository
	if cfg.Database.MySQL.DSN != "" {
		db, err := database.InitMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Fatal("MySQL 初始化失败", err)
		}
		docRepo = repository.NewDocumentRepository(db)
	}

	var minioClient *minio.Client
	if cfg.MinIO.Endpoint != "" {
		client, err := storage.NewClient(ctx, cfg.MinIO)
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		minioClient = client
	}

	// 4. 初始化向量索引并从快照恢复
	index := vectorindex.New(cfg.Index.Dimension, snapshotStore(cfg.Index, cfg.MinIO, minioClient))
	if err := index.Load(ctx); err != nil {
		log.Fatal("向量索引快照加载失败", err)
	}
	log.Infof("向量索引就绪, 分块数: %d, 维度: %d", index.Len(), index.Dimension())

	// 5. 初始化客户端与索引管道
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	var procOpts []pipeline.ProcessorOption
	if docRepo != nil {
		procOpts = append(procOpts, pipeline.WithDocumentRepository(docRepo))
	}
	var archive *storage.Archive
	if minioClient != nil {
		archive = storage.NewArchive(minioClient, cfg.MinIO.BucketName)
		procOpts = append(procOpts, pipeline.WithArchive(archive))
	}
	if cfg.Elasticsearch.Addresses != "" {
		esClient, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			log.Fatal("Elasticsearch 初始化失败", err)
		}
		mirror := es.NewMirror(esClient, cfg.Elasticsearch.IndexName, cfg.VectorDimension())
		if err := mirror.EnsureIndex(ctx); err != nil {
			log.Fatal("Elasticsearch 索引创建失败", err)
		}
		procOpts = append(procOpts, pipeline.WithMirror(mirror))
	}
	processor, err := pipeline.NewProcessor(embeddingClient, index, cfg.Chunking.Size, cfg.Chunking.Overlap, cfg.Embedding.Concurrency, procOpts...)
	if err != nil {
		log.Fatal("索引管道初始化失败", err)
	}

	// 6. 初始化 Service (依赖注入)
	var storeOpts []session.Option
	storeOpts = append(storeOpts, session.WithTTL(cfg.Session.TTL))
	if rdb != nil {
		storeOpts = append(storeOpts, session.WithRepository(repository.NewSessionRepository(rdb, cfg.Session.TTL)))
	}
	sessions := session.NewStore(storeOpts...)

	searchService := service.NewSearchService(embeddingClient, index, service.SearchConfig{
		MinSimilarity: cfg.Chat.MinSimilarity,
		EmbedTimeout:  cfg.Embedding.Timeout,
	})
	chatService := service.NewChatService(
		searchService,
		sessions,
		service.NewPromptAssembler(cfg.LLM.Prompt),
		llmClient,
		service.NewConfidenceScorer(cfg.Chat.ConfidenceFloor, cfg.Chat.ConfidenceCeiling),
		service.ChatConfig{
			TopK:            cfg.Chat.TopK,
			MaxContextChars: cfg.Chat.MaxContextChars,
			HistoryMessages: cfg.Session.HistoryTurns * 2,
			GenerateTimeout: cfg.LLM.Timeout,
			FallbackAnswer:  cfg.LLM.Prompt.FallbackText,
		},
	)

	var docOpts []service.DocumentOption
	if cfg.Tika.ServerURL != "" {
		docOpts = append(docOpts, service.WithExtractor(tika.NewClient(cfg.Tika)))
	}

	// 7. 启动后台 Kafka 消费者
	if cfg.Kafka.Brokers != "" {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		var pending service.TextStore
		if archive != nil {
			pending = archive
		}
		docOpts = append(docOpts, service.WithPublisher(producer, pending))

		var attempts kafka.AttemptCounter
		if rdb != nil {
			attempts = kafka.NewRedisAttemptCounter(rdb)
		}
		consumer := kafka.NewConsumer(cfg.Kafka, processor, attempts)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error("Kafka 消费者异常退出", err)
			}
		}()
	}
	documentService := service.NewDocumentService(processor, index, embeddingClient.Model(), docOpts...)

	// 8. 定期清理过期会话
	go sweepSessions(ctx, sessions, cfg.Session.SweepInterval)

	// 9. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequestLogger(), gin.Recovery())

	chatHandler := handler.NewChatHandler(chatService)
	conversationHandler := handler.NewConversationHandler(chatService)
	documentHandler := handler.NewDocumentHandler(documentService)

	chatbot := r.Group("/api/v1/chatbot")
	{
		chatbot.POST("/index-document", documentHandler.IndexDocument)
		chatbot.POST("/index-file", handler.NewUploadHandler(documentService).IndexFile)
		chatbot.DELETE("/chapters/:course_id/:chapter_id", documentHandler.DeleteChapter)
		chatbot.GET("/vector-stats", documentHandler.VectorStats)

		chatbot.POST("/start-session", conversationHandler.StartSession)
		chatbot.POST("/ask", chatHandler.Ask)
		chatbot.GET("/history/:session_id", conversationHandler.GetHistory)
		chatbot.GET("/sessions/:session_id/summary", conversationHandler.GetSummary)

		chatbot.GET("/search", handler.NewSearchHandler(searchService).Search)
	}
	r.GET("/chat/ws", chatHandler.Handle)
	r.GET("/health", handler.NewHealthHandler(documentService).Health)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if err := index.Persist(shutdownCtx); err != nil {
		log.Errorf("停机时保存索引快照失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// snapshotStore 根据配置选择索引快照的存储位置。
func snapshotStore(idx config.IndexConfig, mc config.MinIOConfig, client *minio.Client) vectorindex.SnapshotStore {
	switch strings.ToLower(idx.SnapshotBackend) {
	case "minio":
		if client == nil {
			log.Warnf("快照后端配置为 minio 但 MinIO 未启用, 退回到本地文件")
			return vectorindex.NewFileStore(idx.SnapshotPath)
		}
		return vectorindex.NewMinIOStore(client, mc.BucketName, idx.SnapshotObject)
	case "none":
		return nil
	default:
		return vectorindex.NewFileStore(idx.SnapshotPath)
	}
}

func sweepSessions(ctx context.Context, sessions *session.Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := sessions.Sweep(now); removed > 0 {
				log.Infof("[Main] 会话清理完成, 剩余会话数: %d", sessions.Len())
			}
		}
	}
}
