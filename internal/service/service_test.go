package service

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"chatcpg/config"
	"chatcpg/internal/component/embedding"
	"chatcpg/internal/component/indexer"
	"chatcpg/internal/dao"
	"chatcpg/internal/database"
	"chatcpg/internal/model"
	"chatcpg/internal/storage"
	"chatcpg/internal/worker"

	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testDim = 256

// bagEmbedder 词袋哈希向量，包含相同词的文本相似度更高
type bagEmbedder struct {
	fail  atomic.Bool
	calls atomic.Int32
	// failOn 非空时，包含该标记的文本返回错误
	failOn string
	// during 每次调用时先执行，模拟向量化期间的并发操作
	during func()
}

func (b *bagEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...einoEmbedding.Option) ([][]float64, error) {
	b.calls.Add(1)
	if b.during != nil {
		b.during()
	}
	if b.fail.Load() {
		return nil, errors.New("embedding backend down")
	}
	if b.failOn != "" {
		for _, text := range texts {
			if strings.Contains(text, b.failOn) {
				return nil, errors.New("embedding rejected input")
			}
		}
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, testDim)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			vec[h.Sum32()%testDim]++
		}
		out[i] = vec
	}
	return out, nil
}

func (b *bagEmbedder) GetDimension() int { return testDim }
func (b *bagEmbedder) ModelName() string { return "bag" }

type bagProvider struct {
	emb *bagEmbedder
}

func (p *bagProvider) Available() bool      { return true }
func (p *bagProvider) DefaultModel() string { return "bag" }
func (p *bagProvider) Get(context.Context, string) (embedding.EmbeddingService, error) {
	return p.emb, nil
}

type envConfig struct {
	rag    config.RAGConfig
	index  indexer.VectorIndex
	upload config.UploadConfig
	usage  config.UsageConfig
}

type testEnv struct {
	db       *gorm.DB
	kbDao    dao.KnowledgeBaseDao
	docDao   dao.DocumentDao
	chunkDao dao.ChunkDao
	usageDao dao.UsageDao
	index    indexer.VectorIndex
	embedder *bagEmbedder
	baseDir  string
	driver   storage.Driver
	usage    UsageService
	vectors  VectorService
	ingest   IngestService
	files    FileService
	kbs      KBService
}

func newTestEnv(t *testing.T, opts ...func(*envConfig)) *testEnv {
	t.Helper()
	ec := &envConfig{
		rag: config.RAGConfig{
			ChunkSize:       50,
			OverlapSize:     10,
			EmbedBatchSize:  2,
			PreviewLength:   100,
			VectorPreview:   40,
			SearchTopK:      5,
			ScoreThreshold:  0.1,
			RecentDocuments: 3,
		},
		index: indexer.NewMemory(),
		upload: config.UploadConfig{
			MaxFileSize:  1024,
			AllowedTypes: []string{"pdf", "docx", "xlsx", "csv", "txt", "md", "json"},
		},
		usage: config.UsageConfig{
			DefaultTier: "free",
			Tiers:       map[string]config.TierLimit{"free": {FileUploads: 20, StorageBytes: 1 << 20}},
		},
	}
	for _, opt := range opts {
		opt(ec)
	}

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	baseDir := t.TempDir()
	driver, err := storage.NewLocalDriver(baseDir)
	require.NoError(t, err)

	rag := ec.rag

	e := &testEnv{
		db:       db,
		kbDao:    dao.NewKnowledgeBaseDao(db),
		docDao:   dao.NewDocumentDao(db),
		chunkDao: dao.NewChunkDao(db),
		usageDao: dao.NewUsageDao(db),
		index:    ec.index,
		embedder: &bagEmbedder{},
		baseDir:  baseDir,
		driver:   driver,
	}

	pool := worker.NewPool(2, 16, 30*time.Second)
	pool.Start(context.Background())

	e.usage = NewUsageService(e.usageDao, ec.usage)
	e.vectors = NewVectorService(e.chunkDao, &bagProvider{emb: e.embedder}, ec.index, rag, 5*time.Second)
	e.ingest = NewIngestService(e.docDao, e.kbDao, driver, nil, e.vectors, pool, IngestConfig{
		PreviewLength: rag.PreviewLength,
		CallTimeout:   5 * time.Second,
	})
	e.files = NewFileService(e.kbDao, e.docDao, driver, e.usage, e.ingest, ec.upload)
	e.kbs = NewKBService(e.kbDao, e.docDao, e.chunkDao, dao.NewSearchQueryDao(db), driver, e.vectors, e.usage, rag, "bag")

	t.Cleanup(func() {
		pool.Stop()
		e.kbs.(*kbService).audits.Wait()
	})
	return e
}

func (e *testEnv) createKB(t *testing.T, userID uint, name string) *model.KnowledgeBase {
	t.Helper()
	kb, err := e.kbs.CreateKB(context.Background(), userID, &model.CreateKBRequest{Name: name})
	require.NoError(t, err)
	return kb
}

// upload 上传并等待后台处理结束
func (e *testEnv) upload(t *testing.T, userID uint, kbID, filename, content string) (*model.Document, error) {
	t.Helper()
	ctx := context.Background()
	doc, h, err := e.files.Upload(ctx, &UploadInput{
		UserID:          userID,
		KnowledgeBaseID: kbID,
		Filename:        filename,
		Size:            int64(len(content)),
		Reader:          strings.NewReader(content),
	})
	require.NoError(t, err)
	require.NotNil(t, h)
	return doc, h.Wait(ctx)
}

func (e *testEnv) reload(t *testing.T, docID string) *model.Document {
	t.Helper()
	doc, err := e.docDao.GetDocumentByID(context.Background(), docID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func (e *testEnv) userVectors(t *testing.T, userID uint) []indexer.Match {
	t.Helper()
	query := make([]float32, testDim)
	query[0] = 1
	matches, err := e.index.Query(context.Background(), query, 1000, indexer.Filter{UserID: userID})
	require.NoError(t, err)
	return matches
}

const orchardText = "Apple orchards need care. The apple trees bloom in spring and farmers harvest the fruit in autumn."
const harborText = "Ships leave the harbor at dawn. Sailors load cargo and the captain checks the weather report."
