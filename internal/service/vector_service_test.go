package service

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"chatcpg/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedChunks 把文档置为 completed 并写入给定内容的切片
func (e *testEnv) seedChunks(t *testing.T, doc *model.Document, contents []string) {
	t.Helper()
	chunks := make([]model.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = model.Chunk{
			ID:              fmt.Sprintf("%s-%02d", doc.ID, i),
			DocumentID:      doc.ID,
			ChunkIndex:      i,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			UserID:          doc.UserID,
			Content:         c,
			ContentLength:   len([]rune(c)),
		}
	}
	require.NoError(t, e.docDao.SaveProcessingResult(context.Background(), doc.ID,
		map[string]any{"chunk_count": len(chunks), "processing_completed_at": time.Now()}, chunks))
}

func TestEmbedBatchPartialFailure(t *testing.T) {
	e := newTestEnv(t, func(c *envConfig) { c.rag.EmbedBatchSize = 10 })
	ctx := context.Background()
	kb := e.createKB(t, 1, "partial")
	doc := e.seedProcessing(t, kb.ID, "ten", harborText)

	contents := make([]string, 10)
	for i := range contents {
		contents[i] = fmt.Sprintf("cargo manifest line %d for the harbor", i)
	}
	contents[3] += " poison"
	contents[7] += " poison"
	e.seedChunks(t, doc, contents)
	e.embedder.failOn = "poison"

	res, err := e.vectors.EmbedDocument(ctx, doc, "bag")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	require.NotNil(t, res)
	assert.Equal(t, 8, res.Embedded)
	assert.Equal(t, 2, res.Failed)

	left, err := e.chunkDao.ListUnembedded(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, 3, left[0].ChunkIndex)
	assert.Equal(t, 7, left[1].ChunkIndex)

	ids, err := e.chunkDao.VectorIDsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 8)
	assert.Len(t, e.userVectors(t, 1), 8)
}

func TestEmbedDocumentIsIdempotent(t *testing.T) {
	e := newTestEnv(t, func(c *envConfig) { c.rag.EmbedBatchSize = 10 })
	ctx := context.Background()
	kb := e.createKB(t, 1, "twice")
	doc := e.seedProcessing(t, kb.ID, "stable", orchardText)
	e.seedChunks(t, doc, []string{"apple orchards need care", "trees bloom in spring", "harvest in autumn"})

	res, err := e.vectors.EmbedDocument(ctx, doc, "bag")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Embedded)

	before, err := e.chunkDao.VectorIDsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	sort.Strings(before)
	calls := e.embedder.calls.Load()

	res, err = e.vectors.EmbedDocument(ctx, doc, "bag")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Embedded)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, calls, e.embedder.calls.Load())

	after, err := e.chunkDao.VectorIDsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	sort.Strings(after)
	assert.Equal(t, before, after)
	assert.Len(t, e.userVectors(t, 1), 3)
}
