package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/models"
)

func TestProcessDocumentBasicFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "入库测试", "test/mini")

	resp, err := env.documentSvc.ProcessDocument(ctx, models.ProcessDocumentRequest{
		CollectionID: colID,
		Title:        "向量检索介绍",
		FileName:     "intro.txt",
		Content:      "向量检索是语义搜索的基础。它把文本映射到高维空间。相似的文本在空间中距离更近。",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.DocumentID)
	assert.Greater(t, resp.ChunkCount, 0)
	assert.Equal(t, resp.ChunkCount, resp.VectorCount)
	assert.False(t, resp.Reused)

	doc, err := env.documentSvc.GetDocument(ctx, resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, resp.ChunkCount, doc.ChunkCount)
	assert.Equal(t, "intro.txt", doc.FileName)
}

func TestProcessDocumentIdempotentGuard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "幂等测试", "test/mini")
	first := env.ingest(t, colID, "文档", "幂等处理守卫验证用的文档内容。")

	embedCallsBefore := len(env.embedder.requests)

	again, err := env.documentSvc.ProcessDocument(ctx, models.ProcessDocumentRequest{
		CollectionID: colID,
		DocumentID:   first.DocumentID,
		Title:        "文档",
		Content:      "幂等处理守卫验证用的文档内容。",
	})
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, first.ChunkCount, again.ChunkCount)
	assert.Equal(t, first.VectorCount, again.VectorCount)
	// 不触发第二次向量化
	assert.Equal(t, embedCallsBefore, len(env.embedder.requests))
}

func TestProcessDocumentIdempotentGuardCountsOwnVectors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 同一集合里有第二篇文档时，重复处理返回的必须是该文档自己的计数
	colID := env.createCollection(t, "幂等计数", "test/mini")
	first := env.ingest(t, colID, "文档一", "第一篇文档的内容只有一个分块。")
	env.ingest(t, colID, "文档二", "第二篇文档的内容同样只有一个分块。")

	again, err := env.documentSvc.ProcessDocument(ctx, models.ProcessDocumentRequest{
		CollectionID: colID,
		DocumentID:   first.DocumentID,
		Title:        "文档一",
		Content:      "第一篇文档的内容只有一个分块。",
	})
	require.NoError(t, err)
	assert.True(t, again.Reused)
	assert.Equal(t, first.ChunkCount, again.ChunkCount)
	assert.Equal(t, first.VectorCount, again.VectorCount)
}

func TestProcessDocumentSizeCeiling(t *testing.T) {
	env := newTestEnv(t)

	colID := env.createCollection(t, "大小上限", "test/mini")

	_, err := env.documentSvc.ProcessDocument(context.Background(), models.ProcessDocumentRequest{
		CollectionID: colID,
		Title:        "过大文档",
		Content:      strings.Repeat("a", MaxDocumentSize+1),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDocumentTooLarge))
}

func TestProcessDocumentUnknownCollection(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.documentSvc.ProcessDocument(context.Background(), models.ProcessDocumentRequest{
		CollectionID: "missing",
		Title:        "文档",
		Content:      "任意内容。",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestProcessDocumentProviderFailureCompensates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "补偿测试", "test/mini")
	env.embedder.err = apperrors.NewProviderError("embedding request failed", errors.New("boom"))

	_, err := env.documentSvc.ProcessDocument(ctx, models.ProcessDocumentRequest{
		CollectionID: colID,
		Title:        "失败文档",
		Content:      "这篇文档的向量化会失败。",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProvider))

	// 失败后库里不留残余文档和分块
	docs, listErr := env.documentSvc.ListDocuments(ctx, colID)
	require.NoError(t, listErr)
	assert.Empty(t, docs)

	var chunks int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(1) FROM chunks WHERE collection_id = ?", colID).Scan(&chunks))
	assert.Zero(t, chunks)
}

func TestProcessDocumentBatchesEmbedding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "批量测试", "test/mini")

	// 多个句子产生多个分块，批大小为2
	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteString(strings.Repeat("段落内容在这里持续展开，", 10))
		b.WriteString("。")
	}
	resp, err := env.documentSvc.ProcessDocument(ctx, models.ProcessDocumentRequest{
		CollectionID: colID,
		Title:        "长文档",
		Content:      b.String(),
	})
	require.NoError(t, err)
	assert.Greater(t, resp.ChunkCount, 2)
	assert.Equal(t, resp.ChunkCount, len(env.embedder.requests))
}

func TestProcessDocumentExplicitChunkParams(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "参数测试", "test/mini")
	content := strings.Repeat("短句。", 60)

	small, err := env.documentSvc.ProcessDocument(ctx, models.ProcessDocumentRequest{
		CollectionID: colID,
		Title:        "小分块",
		Content:      content,
		ChunkSize:    30,
		ChunkOverlap: 3,
	})
	require.NoError(t, err)

	large, err := env.documentSvc.ProcessDocument(ctx, models.ProcessDocumentRequest{
		CollectionID: colID,
		Title:        "大分块",
		Content:      content,
		ChunkSize:    120,
		ChunkOverlap: 10,
	})
	require.NoError(t, err)

	assert.Greater(t, small.ChunkCount, large.ChunkCount)
}

func TestDeleteDocumentRemovesVectors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "删除测试", "test/mini")
	resp := env.ingest(t, colID, "待删文档", "删除之后不应再被检索到的内容。")

	before, err := env.store.VectorCount(ctx, colID)
	require.NoError(t, err)

	require.NoError(t, env.documentSvc.DeleteDocument(ctx, resp.DocumentID))

	after, err := env.store.VectorCount(ctx, colID)
	require.NoError(t, err)
	assert.Equal(t, before-resp.ChunkCount, after)

	_, err = env.documentSvc.GetDocument(ctx, resp.DocumentID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}
