package service

import (
	"context"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"chatcpg/internal/component/indexer"
	"chatcpg/internal/component/retriever"
	"chatcpg/internal/model"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCreateKB(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	kb, err := e.kbs.CreateKB(ctx, 1, &model.CreateKBRequest{Name: "  notes ", Tags: []string{"a", " a", "b", ""}})
	require.NoError(t, err)
	assert.Equal(t, "notes", kb.Name)
	assert.Equal(t, 50, kb.ChunkSize)
	assert.Equal(t, 10, kb.ChunkOverlap)
	assert.Equal(t, "bag", kb.EmbeddingModel)
	assert.JSONEq(t, `["a","b"]`, string(kb.Tags))

	_, err = e.kbs.CreateKB(ctx, 1, &model.CreateKBRequest{Name: "notes"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	// 名称只在同一用户内唯一
	_, err = e.kbs.CreateKB(ctx, 2, &model.CreateKBRequest{Name: "notes"})
	assert.NoError(t, err)

	_, err = e.kbs.CreateKB(ctx, 1, &model.CreateKBRequest{Name: "bad", ChunkSize: 50, ChunkOverlap: intPtr(50)})
	assert.ErrorIs(t, err, ErrInvalidChunkConfig)
	_, err = e.kbs.CreateKB(ctx, 1, &model.CreateKBRequest{Name: "bad", ChunkSize: -1})
	assert.ErrorIs(t, err, ErrInvalidChunkConfig)
	_, err = e.kbs.CreateKB(ctx, 1, &model.CreateKBRequest{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	zero, err := e.kbs.CreateKB(ctx, 1, &model.CreateKBRequest{Name: "no-overlap", ChunkSize: 80, ChunkOverlap: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, zero.ChunkOverlap)
}

func TestUpdateKB(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "alpha")
	e.createKB(t, 1, "beta")

	beta := "beta"
	_, err := e.kbs.UpdateKB(ctx, 1, kb.ID, &model.UpdateKBRequest{Name: &beta})
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = e.kbs.UpdateKB(ctx, 1, kb.ID, &model.UpdateKBRequest{ChunkOverlap: intPtr(80)})
	assert.ErrorIs(t, err, ErrInvalidChunkConfig)

	_, err = e.kbs.UpdateKB(ctx, 2, kb.ID, &model.UpdateKBRequest{})
	assert.ErrorIs(t, err, ErrForbidden)

	gamma, desc := "gamma", "updated"
	updated, err := e.kbs.UpdateKB(ctx, 1, kb.ID, &model.UpdateKBRequest{
		Name:        &gamma,
		Description: &desc,
		ChunkSize:   intPtr(200),
		Tags:        []string{"x"},
		Meta:        map[string]any{"owner": "ops"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gamma", updated.Name)
	assert.Equal(t, 200, updated.ChunkSize)
	assert.Equal(t, 10, updated.ChunkOverlap)

	stored, err := e.kbDao.GetKBByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", stored.Description)
	assert.JSONEq(t, `["x"]`, string(stored.Tags))
	var meta map[string]any
	require.NoError(t, sonic.Unmarshal(stored.Meta, &meta))
	assert.Equal(t, "ops", meta["owner"])
}

func TestKBDetailAndStats(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "detail")

	doc, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)
	_, err = e.upload(t, 1, kb.ID, "broken.json", "{not json")
	require.Error(t, err)
	processed := e.reload(t, doc.ID)

	detail, err := e.kbs.GetKB(ctx, 1, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), detail.Stats.TotalDocuments)
	assert.Equal(t, int64(len(orchardText)+len("{not json")), detail.Stats.TotalSize)
	assert.Equal(t, int64(processed.ChunkCount), detail.Stats.TotalChunks)
	assert.Equal(t, int64(1), detail.Stats.FailedDocuments)
	assert.Equal(t, int64(1), detail.Stats.StatusBreakdown[model.StatusCompleted])
	assert.Len(t, detail.RecentDocuments, 2)
	assert.NotNil(t, detail.KnowledgeBase.LastAccessed)

	kbs, err := e.kbs.ListKBs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, kbs, 1)
	assert.Equal(t, int64(2), kbs[0].TotalDocuments)
	assert.Equal(t, int64(processed.ChunkCount), kbs[0].TotalChunks)

	docs, total, err := e.kbs.ListDocuments(ctx, 1, kb.ID, model.StatusCompleted, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)

	_, total, err = e.kbs.ListDocuments(ctx, 1, kb.ID, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, err = e.kbs.GetKB(ctx, 2, kb.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.kbs.GetKB(ctx, 1, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentAndChunkDetail(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "chunks")
	doc, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)

	detail, err := e.kbs.GetDocument(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, detail.Chunks)
	assert.LessOrEqual(t, len(detail.Chunks), 10)
	for _, c := range detail.Chunks {
		assert.True(t, c.HasEmbedding)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.ContentPreview), 40)
	}

	first := detail.Chunks[0]
	plain, err := e.kbs.GetChunk(ctx, 1, first.ID, false)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, plain.DocumentID)
	assert.Equal(t, 0, plain.StartChar)
	assert.Empty(t, plain.ContextAfter)

	withCtx, err := e.kbs.GetChunk(ctx, 1, first.ID, true)
	require.NoError(t, err)
	assert.NotEmpty(t, withCtx.ContextAfter)
	assert.Empty(t, withCtx.ContextBefore)

	_, err = e.kbs.GetChunk(ctx, 2, first.ID, false)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.kbs.GetChunk(ctx, 1, "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.kbs.GetDocument(ctx, 2, doc.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSearchRanksAndEnriches(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "mixed")
	orchard, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)
	_, err = e.upload(t, 1, kb.ID, "harbor.txt", harborText)
	require.NoError(t, err)

	resp, err := e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple harvest", KnowledgeBaseID: kb.ID})
	require.NoError(t, err)
	assert.True(t, resp.VectorAvailable)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, len(resp.Results), resp.Total)

	top := resp.Results[0]
	assert.Equal(t, orchard.ID, top.DocumentID)
	assert.Equal(t, "orchard.txt", top.DocumentTitle)
	assert.Equal(t, model.FileTypeTXT, top.FileType)
	assert.Equal(t, kb.ID, top.KnowledgeBaseID)
	assert.NotEmpty(t, top.ContentPreview)
	for i, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, 0.1)
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Results[i-1].Score, r.Score)
		}
	}

	one, err := e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple harvest", TopK: 1})
	require.NoError(t, err)
	assert.Len(t, one.Results, 1)

	strict := 0.999
	none, err := e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple harvest", ScoreThreshold: &strict})
	require.NoError(t, err)
	assert.Empty(t, none.Results)

	_, err = e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	e.kbs.(*kbService).audits.Wait()
	var audits []model.SearchQuery
	require.NoError(t, e.db.Order("created_at").Find(&audits).Error)
	require.Len(t, audits, 3)
	for _, a := range audits {
		assert.Equal(t, uint(1), a.UserID)
		assert.Equal(t, "apple harvest", a.QueryText)
	}
}

func TestSearchUserIsolation(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb1 := e.createKB(t, 1, "shared-name")
	kb2 := e.createKB(t, 2, "shared-name")
	_, err := e.upload(t, 1, kb1.ID, "orchard.txt", orchardText)
	require.NoError(t, err)
	doc2, err := e.upload(t, 2, kb2.ID, "orchard.txt", orchardText)
	require.NoError(t, err)

	resp, err := e.kbs.Search(ctx, 2, &model.SearchRequest{Query: "apple"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, doc2.ID, r.DocumentID)
	}

	_, err = e.kbs.Search(ctx, 2, &model.SearchRequest{Query: "apple", KnowledgeBaseID: kb1.ID})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDeleteDocumentCascades(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "cleanup")
	orchard, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)
	harbor, err := e.upload(t, 1, kb.ID, "harbor.txt", harborText)
	require.NoError(t, err)
	harborChunks := e.reload(t, harbor.ID).ChunkCount

	require.NoError(t, e.kbs.DeleteDocument(ctx, 1, orchard.ID))

	resp, err := e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple orchards"})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, orchard.ID, r.DocumentID)
	}
	for _, m := range e.userVectors(t, 1) {
		assert.Equal(t, harbor.ID, m.Metadata.DocumentID)
	}
	assert.Len(t, e.userVectors(t, 1), harborChunks)
	assert.Equal(t, 1, countFiles(t, e.baseDir))

	_, err = e.kbs.GetDocument(ctx, 1, orchard.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.kbs.DeleteDocument(ctx, 1, orchard.ID), ErrNotFound)

	usage, err := e.usageDao.GetOrCreate(ctx, &model.UserUsage{UserID: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(len(harborText)), usage.StorageUsed)

	stored, err := e.kbDao.GetKBByID(ctx, kb.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalDocuments)
}

func TestDeleteKBCascades(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "gone")
	_, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)

	assert.ErrorIs(t, e.kbs.DeleteKB(ctx, 2, kb.ID), ErrForbidden)
	require.NoError(t, e.kbs.DeleteKB(ctx, 1, kb.ID))

	resp, err := e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple", KnowledgeBaseID: kb.ID})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Empty(t, e.userVectors(t, 1))
	assert.Zero(t, countFiles(t, e.baseDir))
	assert.Zero(t, countDocuments(t, e))

	_, err = e.kbs.GetKB(ctx, 1, kb.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	usage, err := e.usageDao.GetOrCreate(ctx, &model.UserUsage{UserID: 1})
	require.NoError(t, err)
	assert.Zero(t, usage.StorageUsed)
}

func TestDeleteKBDuringEmbeddingLeavesNoVectors(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "racing")
	doc := e.seedProcessing(t, kb.ID, "racing-doc", orchardText)
	e.seedChunks(t, doc, []string{"apple orchards need care", "harvest in autumn"})

	var once sync.Once
	var deleteErr error
	e.embedder.during = func() {
		once.Do(func() { deleteErr = e.kbs.DeleteKB(ctx, 1, kb.ID) })
	}

	res, err := e.vectors.EmbedDocument(ctx, doc, "bag")
	require.NoError(t, err)
	require.NoError(t, deleteErr)
	assert.Zero(t, res.Embedded)
	assert.Empty(t, e.userVectors(t, 1))
	assert.Zero(t, countDocuments(t, e))
}

func TestSearchDegradesWithoutIndex(t *testing.T) {
	e := newTestEnv(t, func(c *envConfig) { c.index = indexer.NewDisabled() })
	ctx := context.Background()
	kb := e.createKB(t, 1, "offline")
	doc, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)

	got := e.reload(t, doc.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	chunks, err := e.chunkDao.ListByDocument(ctx, doc.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.False(t, c.HasEmbedding())
	}
	assert.Zero(t, e.embedder.calls.Load())

	resp, err := e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple"})
	require.NoError(t, err)
	assert.False(t, resp.VectorAvailable)
	assert.True(t, resp.Degraded)
	assert.Empty(t, resp.Results)

	stats, err := e.kbs.VectorStats(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stats.Available)
	assert.Equal(t, "none", stats.Backend)
	assert.Equal(t, int64(len(chunks)), stats.TotalChunks)
	assert.Zero(t, stats.EmbeddedChunks)

	// 删除不依赖向量索引
	require.NoError(t, e.kbs.DeleteDocument(ctx, 1, doc.ID))
}

func TestReprocessRetriesEmbedding(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "retry")

	e.embedder.fail.Store(true)
	doc, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, e.reload(t, doc.ID).Status)
	assert.Empty(t, e.userVectors(t, 1))

	resp, err := e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple"})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)

	e.embedder.fail.Store(false)
	h, err := e.ingest.Reprocess(ctx, 1, doc.ID)
	require.NoError(t, err)
	require.NoError(t, h.Wait(ctx))

	stats, err := e.kbs.VectorStats(ctx, 1)
	require.NoError(t, err)
	assert.True(t, stats.Available)
	assert.Equal(t, "memory", stats.Backend)
	assert.Equal(t, stats.TotalChunks, stats.EmbeddedChunks)

	resp, err = e.kbs.Search(ctx, 1, &model.SearchRequest{Query: "apple"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestReprocessFailedDocumentIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "again")
	doc, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)
	before := e.reload(t, doc.ID).ChunkCount

	for range 2 {
		ok, err := e.docDao.TransitionStatus(ctx, doc.ID,
			[]model.DocumentStatus{model.StatusCompleted}, model.StatusFailed, nil)
		require.NoError(t, err)
		require.True(t, ok)

		h, err := e.ingest.Reprocess(ctx, 1, doc.ID)
		require.NoError(t, err)
		require.NoError(t, h.Wait(ctx))

		got := e.reload(t, doc.ID)
		assert.Equal(t, model.StatusCompleted, got.Status)
		assert.Equal(t, before, got.ChunkCount)
		assert.Len(t, e.userVectors(t, 1), before)
	}
}

func TestReprocessRejectsPendingDocument(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	kb := e.createKB(t, 1, "pending")
	doc := &model.Document{
		ID:              "pending-doc",
		UserID:          1,
		KnowledgeBaseID: kb.ID,
		Filename:        "a.txt",
		FileType:        model.FileTypeTXT,
		Status:          model.StatusPending,
		UploadedAt:      time.Now(),
	}
	require.NoError(t, e.docDao.CreateDocument(ctx, doc))

	_, err := e.ingest.Reprocess(ctx, 1, doc.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = e.ingest.Reprocess(ctx, 2, doc.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestKnowledgeRetrieverOverSearch(t *testing.T) {
	e := newTestEnv(t)
	kb := e.createKB(t, 1, "retriever")
	doc, err := e.upload(t, 1, kb.ID, "orchard.txt", orchardText)
	require.NoError(t, err)

	r, err := retriever.NewKnowledgeRetriever(&retriever.KnowledgeRetrieverConfig{
		Searcher:        e.kbs,
		UserID:          1,
		KnowledgeBaseID: kb.ID,
		ScoreThreshold:  0.1,
	})
	require.NoError(t, err)

	docs, err := r.Retrieve(context.Background(), "apple trees")
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, doc.ID, docs[0].MetaData[retriever.MetaDocumentID])
	assert.Greater(t, docs[0].Score(), 0.1)
}
