package config

import (
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin 运行模式 debug/release/test
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // mysql/sqlite
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

// JWTConfig JWT配置，这里只做校验
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

// MinioConfig Minio配置
type MinioConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
}

// MilvusConfig Milvus向量数据库配置，Address 为空时向量检索不可用
type MilvusConfig struct {
	Address         string `mapstructure:"address"`
	CollectionName  string `mapstructure:"collection_name"`
	VectorDimension int    `mapstructure:"vector_dimension"`
	IndexType       string `mapstructure:"index_type"`
	MetricType      string `mapstructure:"metric_type"`
	Nlist           int    `mapstructure:"nlist"`
	Nprobe          int    `mapstructure:"nprobe"`
	// 字段最大长度
	IDMaxLength    int `mapstructure:"id_max_length"`
	KbIDMaxLength  int `mapstructure:"kb_id_max_length"`
	DocIDMaxLength int `mapstructure:"doc_id_max_length"`
}

// GetMetricType 获取度量类型，只支持相似度越大越相近的度量
func (m *MilvusConfig) GetMetricType() entity.MetricType {
	switch m.MetricType {
	case "IP":
		return entity.IP // 内积，向量需已归一化
	default:
		return entity.COSINE // 余弦相似度，适合文本语义搜索
	}
}

// GetMilvusIndex 根据配置构建索引
func (m *MilvusConfig) GetMilvusIndex() (entity.Index, error) {
	metricType := m.GetMetricType()
	nlist := m.Nlist
	if nlist <= 0 {
		nlist = 128
	}

	switch m.IndexType {
	case "IVF_SQ8":
		return entity.NewIndexIvfSQ8(metricType, nlist)
	case "HNSW":
		// M=8, efConstruction=40
		return entity.NewIndexHNSW(metricType, 8, 40)
	case "FLAT":
		return entity.NewIndexFlat(metricType)
	default:
		return entity.NewIndexIvfFlat(metricType, nlist)
	}
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // local/oss/minio
	Local LocalConfig `mapstructure:"local"`
	OSS   OSSConfig   `mapstructure:"oss"`
	Minio MinioConfig `mapstructure:"minio"`
}

// LocalConfig 本地存储配置，BaseDir 即上传根目录
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// OSSConfig OSS配置
type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
}

// UploadConfig 上传限制
type UploadConfig struct {
	MaxFileSize  int64    `mapstructure:"max_file_size"` // 字节
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// CORSConfig CORS配置
type CORSConfig struct {
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	ExposeHeaders    []string `mapstructure:"expose_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           string   `mapstructure:"max_age"`
}

// RAGConfig 切分与检索的默认参数，知识库可以覆盖切分参数
type RAGConfig struct {
	ChunkSize       int     `mapstructure:"chunk_size"`
	OverlapSize     int     `mapstructure:"overlap_size"`
	EmbedBatchSize  int     `mapstructure:"embed_batch_size"`
	PreviewLength   int     `mapstructure:"preview_length"`        // 文档内容预览
	VectorPreview   int     `mapstructure:"vector_preview_length"` // 向量元数据中的内容预览
	SearchTopK      int     `mapstructure:"search_top_k"`
	ScoreThreshold  float64 `mapstructure:"score_threshold"`
	RecentDocuments int     `mapstructure:"recent_documents"`
}

// EmbeddingConfig 向量模型配置
type EmbeddingConfig struct {
	Server    string        `mapstructure:"server"` // openai/ollama
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	Dimension int           `mapstructure:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// VectorConfig 向量索引后端
type VectorConfig struct {
	Type string `mapstructure:"type"` // milvus/memory/none
}

// TierLimit 套餐限额，-1 表示不限
type TierLimit struct {
	FileUploads  int   `mapstructure:"file_uploads"`
	StorageBytes int64 `mapstructure:"storage_bytes"`
}

// UsageConfig 用量限制配置
type UsageConfig struct {
	Backend     string               `mapstructure:"backend"` // db/redis
	DefaultTier string               `mapstructure:"default_tier"`
	Tiers       map[string]TierLimit `mapstructure:"tiers"`
}

// Limit 返回套餐限额，未知套餐退回默认套餐
func (u *UsageConfig) Limit(tier string) TierLimit {
	if l, ok := u.Tiers[tier]; ok {
		return l
	}
	return u.Tiers[u.DefaultTier]
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig 后台处理配置
type WorkerConfig struct {
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	CallTimeout time.Duration `mapstructure:"call_timeout"` // 单次外部调用超时
}

// AppConfig 应用配置
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Upload    UploadConfig    `mapstructure:"upload"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Milvus    MilvusConfig    `mapstructure:"milvus"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
}
