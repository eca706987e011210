package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"sync"
	"time"

	"chatcpg/internal/model"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	AppConfigInstance *AppConfig
	mu                sync.RWMutex
)

// InitConfig 初始化配置，并监听配置文件变化
func InitConfig() {
	v := newViper("./config")
	cfg, err := load(v)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	setConfig(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			log.Printf("[Config] reload %s failed: %v", e.Name, err)
			return
		}
		setConfig(next)
		log.Printf("[Config] reloaded %s", e.Name)
	})
}

// GetConfig 获取配置
func GetConfig() *AppConfig {
	mu.RLock()
	defer mu.RUnlock()
	return AppConfigInstance
}

func setConfig(cfg *AppConfig) {
	mu.Lock()
	AppConfigInstance = cfg
	mu.Unlock()
}

// LoadConfig 从目录 dir 读取 config.yaml，环境变量 CHATCPG_* 优先
func LoadConfig(dir string) (*AppConfig, error) {
	return load(newViper(dir))
}

func newViper(dir string) *viper.Viper {
	// .env 可选
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[Config] load .env failed: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("CHATCPG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func load(v *viper.Viper) (*AppConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Printf("[Config] no config file found, using defaults")
	}
	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "chatcpg.db")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "chatcpg")

	v.SetDefault("jwt.secret", "")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_dir", "uploads")

	v.SetDefault("upload.max_file_size", 50*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"pdf", "docx", "xlsx", "csv", "txt", "md", "json"})

	v.SetDefault("cors.allow_origins", []string{"*"})
	v.SetDefault("cors.allow_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allow_headers", []string{"Origin", "Content-Type", "Authorization"})
	v.SetDefault("cors.max_age", "12h")

	v.SetDefault("rag.chunk_size", 1000)
	v.SetDefault("rag.overlap_size", 200)
	v.SetDefault("rag.embed_batch_size", 10)
	v.SetDefault("rag.preview_length", 500)
	v.SetDefault("rag.vector_preview_length", 200)
	v.SetDefault("rag.search_top_k", 10)
	v.SetDefault("rag.score_threshold", 0.7)
	v.SetDefault("rag.recent_documents", 5)

	v.SetDefault("embedding.server", "openai")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-ada-002")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("vector.type", "milvus")
	v.SetDefault("milvus.address", "")
	v.SetDefault("milvus.collection_name", "document_chunks")
	v.SetDefault("milvus.vector_dimension", 1536)
	v.SetDefault("milvus.index_type", "IVF_FLAT")
	v.SetDefault("milvus.metric_type", "COSINE")
	v.SetDefault("milvus.nlist", 128)
	v.SetDefault("milvus.nprobe", 16)
	v.SetDefault("milvus.id_max_length", 256)
	v.SetDefault("milvus.kb_id_max_length", 64)
	v.SetDefault("milvus.doc_id_max_length", 64)

	v.SetDefault("usage.backend", "db")
	v.SetDefault("usage.default_tier", "free")
	v.SetDefault("usage.tiers", map[string]any{
		"free":       map[string]any{"file_uploads": 5, "storage_bytes": 10 * 1024 * 1024},
		"pro":        map[string]any{"file_uploads": 50, "storage_bytes": 100 * 1024 * 1024},
		"enterprise": map[string]any{"file_uploads": -1, "storage_bytes": 1024 * 1024 * 1024},
	})

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_size", 64)
	v.SetDefault("worker.task_timeout", 10*time.Minute)
	v.SetDefault("worker.call_timeout", time.Minute)
}

// Validate 启动时校验，切分参数不合法会导致切分死循环
func (c *AppConfig) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.OverlapSize < 0 || c.RAG.OverlapSize >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.overlap_size must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.OverlapSize)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive, got %d", c.Upload.MaxFileSize)
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return errors.New("upload.allowed_types is empty")
	}
	for _, t := range c.Upload.AllowedTypes {
		if _, ok := model.ParseFileType("x." + t); !ok {
			return fmt.Errorf("upload.allowed_types: no extractor for %q", t)
		}
	}
	if c.RAG.EmbedBatchSize <= 0 {
		return fmt.Errorf("rag.embed_batch_size must be positive, got %d", c.RAG.EmbedBatchSize)
	}
	if c.Worker.Workers <= 0 {
		return fmt.Errorf("worker.workers must be positive, got %d", c.Worker.Workers)
	}
	if _, ok := c.Usage.Tiers[c.Usage.DefaultTier]; !ok {
		return fmt.Errorf("usage.default_tier %q has no limits", c.Usage.DefaultTier)
	}
	return nil
}
