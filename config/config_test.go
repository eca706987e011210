package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.OverlapSize)
	assert.Equal(t, 10, cfg.RAG.EmbedBatchSize)
	assert.Equal(t, int64(50*1024*1024), cfg.Upload.MaxFileSize)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, time.Minute, cfg.Worker.CallTimeout)
	assert.Equal(t, 5, cfg.Usage.Limit("free").FileUploads)
	assert.Equal(t, -1, cfg.Usage.Limit("enterprise").FileUploads)
	// 未知套餐按默认套餐计算
	assert.Equal(t, cfg.Usage.Limit("free"), cfg.Usage.Limit("gold"))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
rag:
  chunk_size: 300
  overlap_size: 50
worker:
  call_timeout: 5s
upload:
  allowed_types: [txt, md]
`)
	t.Setenv("CHATCPG_SERVER_PORT", "9090")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.OverlapSize)
	assert.Equal(t, 5*time.Second, cfg.Worker.CallTimeout)
	assert.Equal(t, []string{"txt", "md"}, cfg.Upload.AllowedTypes)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"overlap equals size": "rag:\n  chunk_size: 100\n  overlap_size: 100\n",
		"negative overlap":    "rag:\n  overlap_size: -1\n",
		"zero max size":       "upload:\n  max_file_size: 0\n",
		"unknown type":        "upload:\n  allowed_types: [txt, exe]\n",
		"unknown tier":        "usage:\n  default_tier: gold\n",
	}
	for name, body := range cases {
		_, err := LoadConfig(writeConfig(t, body))
		assert.Error(t, err, name)
	}
}

func TestMilvusIndexFromConfig(t *testing.T) {
	m := MilvusConfig{IndexType: "HNSW", MetricType: "IP"}
	idx, err := m.GetMilvusIndex()
	require.NoError(t, err)
	assert.Equal(t, "HNSW", string(idx.IndexType()))
	assert.Equal(t, "IP", string(m.GetMetricType()))

	m = MilvusConfig{}
	idx, err = m.GetMilvusIndex()
	require.NoError(t, err)
	assert.Equal(t, "IVF_FLAT", string(idx.IndexType()))
	assert.Equal(t, "COSINE", string(m.GetMetricType()))
}
