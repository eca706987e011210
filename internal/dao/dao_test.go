package dao

import (
	"context"
	"testing"
	"time"

	"chatcpg/internal/database"
	"chatcpg/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func seedDoc(t *testing.T, db *gorm.DB, kbID string, status model.DocumentStatus, size int64) *model.Document {
	t.Helper()
	doc := &model.Document{
		ID:              uuid.NewString(),
		UserID:          1,
		KnowledgeBaseID: kbID,
		Filename:        "a.txt",
		FileSize:        size,
		FileType:        model.FileTypeTXT,
		Status:          status,
		UploadedAt:      time.Now(),
	}
	require.NoError(t, NewDocumentDao(db).CreateDocument(context.Background(), doc))
	return doc
}

func TestTransitionStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	dd := NewDocumentDao(db)
	doc := seedDoc(t, db, "kb", model.StatusFailed, 10)

	ok, err := dd.TransitionStatus(ctx, doc.ID, []model.DocumentStatus{model.StatusProcessing}, model.StatusCompleted, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = dd.TransitionStatus(ctx, doc.ID, []model.DocumentStatus{model.StatusFailed}, model.StatusProcessing,
		map[string]any{"processing_error": ""})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := dd.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)

	missing, err := dd.GetDocumentByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveProcessingResult(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	dd := NewDocumentDao(db)
	cd := NewChunkDao(db)
	doc := seedDoc(t, db, "kb", model.StatusProcessing, 10)

	chunks := []model.Chunk{
		{ID: uuid.NewString(), DocumentID: doc.ID, ChunkIndex: 0, KnowledgeBaseID: "kb", UserID: 1, Content: "a"},
		{ID: uuid.NewString(), DocumentID: doc.ID, ChunkIndex: 1, KnowledgeBaseID: "kb", UserID: 1, Content: "b"},
	}
	require.NoError(t, dd.SaveProcessingResult(ctx, doc.ID, map[string]any{"chunk_count": 2}, chunks))

	got, err := dd.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.ChunkCount)

	stored, err := cd.ListByDocument(ctx, doc.ID, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 0, stored[0].ChunkIndex)

	// 文档已不在 processing，切片写入整体回滚
	err = dd.SaveProcessingResult(ctx, doc.ID, nil, []model.Chunk{
		{ID: uuid.NewString(), DocumentID: doc.ID, ChunkIndex: 0, KnowledgeBaseID: "kb", UserID: 1, Content: "x"},
	})
	assert.ErrorIs(t, err, ErrStatusConflict)
	stored, err = cd.ListByDocument(ctx, doc.ID, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestChunkVectorIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	cd := NewChunkDao(db)
	doc := seedDoc(t, db, "kb", model.StatusProcessing, 10)
	chunks := []model.Chunk{
		{ID: "c0", DocumentID: doc.ID, ChunkIndex: 0, KnowledgeBaseID: "kb", UserID: 1},
		{ID: "c1", DocumentID: doc.ID, ChunkIndex: 1, KnowledgeBaseID: "kb", UserID: 1},
	}
	require.NoError(t, NewDocumentDao(db).SaveProcessingResult(ctx, doc.ID, nil, chunks))

	ok, err := cd.SetVectorID(ctx, "c1", "1_d_c1", "m", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cd.SetVectorID(ctx, "missing", "1_d_missing", "m", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	un, err := cd.ListUnembedded(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, un, 1)
	assert.Equal(t, "c0", un[0].ID)

	ids, err := cd.VectorIDsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1_d_c1"}, ids)
	ids, err = cd.VectorIDsByKB(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, []string{"1_d_c1"}, ids)

	total, embedded, err := cd.CountByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), embedded)
}

func TestStatsByKBAndDeleteKB(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	kd := NewKnowledgeBaseDao(db)
	dd := NewDocumentDao(db)

	kb := &model.KnowledgeBase{ID: "kb", UserID: 1, Name: "brand", ChunkSize: 1000, ChunkOverlap: 200}
	require.NoError(t, kd.CreateKB(ctx, kb))
	seedDoc(t, db, "kb", model.StatusCompleted, 100)
	seedDoc(t, db, "kb", model.StatusFailed, 50)
	seedDoc(t, db, "kb", model.StatusDeleted, 999)

	stats, err := dd.StatsByKB(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalDocuments)
	assert.Equal(t, int64(150), stats.TotalSize)
	assert.Equal(t, int64(1), stats.FailedDocuments)
	assert.Equal(t, int64(1), stats.StatusBreakdown[model.StatusDeleted])

	docs, total, err := dd.ListDocuments(ctx, "kb", "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, docs, 2)

	require.NoError(t, kd.UpdateKBStats(ctx, "kb", stats))
	got, err := kd.GetKBByID(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.TotalSize)

	marked, err := dd.MarkKBDeleted(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)
	stats, err = dd.StatsByKB(ctx, "kb")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalDocuments)
	assert.Equal(t, int64(3), stats.StatusBreakdown[model.StatusDeleted])

	require.NoError(t, kd.DeleteKB(ctx, "kb"))
	got, err = kd.GetKBByID(ctx, "kb")
	require.NoError(t, err)
	assert.Nil(t, got)
	all, err := dd.ListAllByKB(ctx, "kb")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUsageDao(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ud := NewUsageDao(db)

	u, err := ud.GetOrCreate(ctx, &model.UserUsage{UserID: 5, Tier: "free", Period: "2026-09", FileUploadLimit: 5})
	require.NoError(t, err)
	assert.Equal(t, "2026-09", u.Period)

	require.NoError(t, ud.IncrementUploads(ctx, 5))
	require.NoError(t, ud.AddStorage(ctx, 5, 100))
	require.NoError(t, ud.AddStorage(ctx, 5, -300))

	u, err = ud.GetOrCreate(ctx, &model.UserUsage{UserID: 5, Tier: "pro", Period: "2026-10"})
	require.NoError(t, err)
	assert.Equal(t, "free", u.Tier)
	assert.Equal(t, 1, u.MonthlyUploads)
	assert.Equal(t, int64(0), u.StorageUsed)

	require.NoError(t, ud.ResetPeriod(ctx, 5, "2026-10"))
	u, err = ud.GetOrCreate(ctx, &model.UserUsage{UserID: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, u.MonthlyUploads)
	assert.Equal(t, "2026-10", u.Period)
}
