package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcpg/config"
	"chatcpg/internal/component/embedding"
	"chatcpg/internal/component/indexer"
	"chatcpg/internal/component/indexer/milvus"
	"chatcpg/internal/controller"
	"chatcpg/internal/dao"
	"chatcpg/internal/database"
	"chatcpg/internal/middleware"
	"chatcpg/internal/router"
	"chatcpg/internal/service"
	"chatcpg/internal/storage"
	"chatcpg/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// 启动时最多恢复的 processing 文档数
const resumeLimit = 1000

func main() {
	config.InitConfig()
	cfg := config.GetConfig()
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("[Main] init database: %v", err)
	}
	driver, err := storage.NewDriver(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("[Main] init storage: %v", err)
	}

	provider := embedding.NewProvider(cfg.Embedding)
	if !provider.Available() {
		log.Printf("[Main] embedding provider %q not configured, vector search disabled", cfg.Embedding.Server)
	}
	index := newVectorIndex(ctx, cfg)

	pool := worker.NewPool(cfg.Worker.Workers, cfg.Worker.QueueSize, cfg.Worker.TaskTimeout)
	// worker 不跟随信号取消，由 Stop 在 HTTP 关闭后统一取消
	pool.Start(context.Background())

	kbDao := dao.NewKnowledgeBaseDao(db)
	docDao := dao.NewDocumentDao(db)
	chunkDao := dao.NewChunkDao(db)

	usageService := newUsageService(ctx, cfg, db)
	vectorService := service.NewVectorService(chunkDao, provider, index, cfg.RAG, cfg.Worker.CallTimeout)
	ingestService := service.NewIngestService(docDao, kbDao, driver, nil, vectorService, pool, service.IngestConfig{
		PreviewLength: cfg.RAG.PreviewLength,
		CallTimeout:   cfg.Worker.CallTimeout,
	})
	fileService := service.NewFileService(kbDao, docDao, driver, usageService, ingestService, cfg.Upload)
	kbService := service.NewKBService(kbDao, docDao, chunkDao, dao.NewSearchQueryDao(db), driver,
		vectorService, usageService, cfg.RAG, cfg.Embedding.Model)

	if _, err := ingestService.Resume(ctx, resumeLimit); err != nil {
		log.Printf("[Main] resume processing documents: %v", err)
	}

	r := gin.Default()
	// 配置跨域
	r.Use(middleware.SetupCORS(cfg.CORS))
	// 配置路由
	router.SetUpRouters(r,
		controller.NewKBController(kbService),
		controller.NewFileController(fileService, ingestService),
		middleware.JWTAuth(cfg.JWT.Secret),
	)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}
	go func() {
		log.Printf("[Main] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Main] serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Main] http shutdown: %v", err)
	}
	pool.Stop()
}

// newVectorIndex milvus 不可用时退化为无向量检索，服务照常启动
func newVectorIndex(ctx context.Context, cfg *config.AppConfig) indexer.VectorIndex {
	switch cfg.Vector.Type {
	case "memory":
		return indexer.NewMemory()
	case "none":
		return indexer.NewDisabled()
	}

	cli, err := database.InitMilvus(ctx, cfg.Milvus)
	if err != nil {
		log.Printf("[Main] milvus unavailable, vector search disabled: %v", err)
		return indexer.NewDisabled()
	}
	idx, err := milvus.NewMilvusIndexer(ctx, cli, cfg.Milvus)
	if err != nil {
		log.Printf("[Main] init milvus collection failed, vector search disabled: %v", err)
		return indexer.NewDisabled()
	}
	return idx
}

func newUsageService(ctx context.Context, cfg *config.AppConfig, db *gorm.DB) service.UsageService {
	if cfg.Usage.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			return service.NewRedisUsageService(client, cfg.Usage)
		}
		log.Printf("[Main] redis unavailable, usage counters fall back to database: %v", err)
		_ = client.Close()
	}
	return service.NewUsageService(dao.NewUsageDao(db), cfg.Usage)
}
