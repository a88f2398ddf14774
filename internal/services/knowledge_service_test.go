package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/models"
)

func TestCreateCollectionUsesModelDimensions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	col, err := env.knowledgeSvc.CreateCollection(ctx, models.CreateCollectionRequest{
		Name:           "技术文档",
		Description:    "测试集合",
		EmbeddingModel: "test/mini",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, col.ID)
	assert.Equal(t, testDims, col.Dimensions)

	loaded, err := env.knowledgeSvc.GetCollection(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, "技术文档", loaded.Name)
	assert.Equal(t, "test/mini", loaded.EmbeddingModel)
}

func TestCreateCollectionUnknownModel(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.knowledgeSvc.CreateCollection(context.Background(), models.CreateCollectionRequest{
		Name:           "bad",
		EmbeddingModel: "unknown/model",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
}

func TestCreateCollectionValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.knowledgeSvc.CreateCollection(context.Background(), models.CreateCollectionRequest{
		Name:           "",
		EmbeddingModel: "test/mini",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
}

func TestListCollections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.createCollection(t, "第一个", "test/mini")
	env.createCollection(t, "第二个", "test/asym")

	list, err := env.knowledgeSvc.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDeleteCollectionCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "待删除", "test/mini")
	env.ingest(t, colID, "文档一", "这是一篇将被级联删除的文档内容。")

	stats, err := env.knowledgeSvc.CollectionStats(ctx, colID)
	require.NoError(t, err)
	require.Greater(t, stats.ChunkCount, 0)
	require.Equal(t, stats.ChunkCount, stats.VectorCount)

	require.NoError(t, env.knowledgeSvc.DeleteCollection(ctx, colID))

	_, err = env.knowledgeSvc.GetCollection(ctx, colID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))

	// 分块和向量一并清掉
	var chunks, vectors int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(1) FROM chunks WHERE collection_id = ?", colID).Scan(&chunks))
	require.NoError(t, env.db.QueryRow("SELECT COUNT(1) FROM knowledge_vectors WHERE collection_id = ?", colID).Scan(&vectors))
	assert.Zero(t, chunks)
	assert.Zero(t, vectors)
}

func TestDeleteCollectionNotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.knowledgeSvc.DeleteCollection(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestSystemConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 迁移已写入种子配置
	v, err := env.knowledgeSvc.GetConfig(ctx, "similarity_threshold")
	require.NoError(t, err)
	assert.Equal(t, "0.7", v)

	require.NoError(t, env.knowledgeSvc.SetConfig(ctx, models.SetConfigRequest{
		Key:   "similarity_threshold",
		Value: "0.8",
	}))
	v, err = env.knowledgeSvc.GetConfig(ctx, "similarity_threshold")
	require.NoError(t, err)
	assert.Equal(t, "0.8", v)

	_, err = env.knowledgeSvc.GetConfig(ctx, "no_such_key")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
}

func TestResetClearsEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "要清空的", "test/mini")
	env.ingest(t, colID, "文档", "重置之前入库的一段内容。")

	require.NoError(t, env.knowledgeSvc.Reset(ctx))

	status, err := env.knowledgeSvc.SystemStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, status.CollectionCount)
	assert.Zero(t, status.DocumentCount)
	assert.Zero(t, status.VectorCount)
	assert.Zero(t, env.cache.Len())
}

func TestSystemStatusAndHealth(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	colID := env.createCollection(t, "状态", "test/mini")
	env.ingest(t, colID, "文档", "用于统计的文档内容示例。")

	status, err := env.knowledgeSvc.SystemStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.CollectionCount)
	assert.Equal(t, 1, status.DocumentCount)
	assert.Greater(t, status.VectorCount, 0)
	assert.True(t, status.Health.MetadataOK)
	assert.True(t, status.Health.VectorOK)
	assert.True(t, status.Health.DistanceFnOK)
}

func TestListModels(t *testing.T) {
	env := newTestEnv(t)

	list := env.knowledgeSvc.ListModels()
	// 内置三个 + 测试注册两个
	assert.Len(t, list, 5)

	m, err := env.knowledgeSvc.DescribeModel("BAAI/bge-m3")
	require.NoError(t, err)
	assert.Equal(t, 1024, m.Dimensions)
}
