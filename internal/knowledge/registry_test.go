package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/models"
)

func TestRegistryDescribeBuiltin(t *testing.T) {
	r := NewModelRegistry()

	m, err := r.Describe("BAAI/bge-m3")
	require.NoError(t, err)
	assert.Equal(t, 1024, m.Dimensions)
	assert.Equal(t, 900, m.ChunkSize)
	assert.Equal(t, 120, m.ChunkOverlap)
	assert.InDelta(t, 0.80, m.Threshold, 1e-9)
	assert.Empty(t, m.QueryInstruction)

	zh, err := r.Describe("BAAI/bge-large-zh-v1.5")
	require.NoError(t, err)
	assert.Equal(t, 480, zh.ChunkSize)
	assert.NotEmpty(t, zh.QueryInstruction)
}

func TestRegistryExactMatchOnly(t *testing.T) {
	r := NewModelRegistry()

	// 不做子串匹配：相近的名字也必须精确注册后才能使用
	_, err := r.Describe("bge-m3")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))

	_, err = r.Describe("BAAI/bge-large-zh")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeModelNotFound))
}

func TestRegistryRegisterAndList(t *testing.T) {
	r := NewModelRegistry()

	err := r.Register(models.EmbeddingModel{
		ID:           "custom/embedder-v1",
		Name:         "Custom",
		Dimensions:   768,
		MaxTokens:    512,
		ChunkSize:    600,
		ChunkOverlap: 60,
		Threshold:    0.6,
	})
	require.NoError(t, err)

	m, err := r.Describe("custom/embedder-v1")
	require.NoError(t, err)
	assert.Equal(t, 768, m.Dimensions)

	list := r.List()
	assert.Len(t, list, 4)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].ID, list[i].ID)
	}
}

func TestRegistryRegisterRejectsInvalid(t *testing.T) {
	r := NewModelRegistry()

	err := r.Register(models.EmbeddingModel{ID: "", Dimensions: 1024})
	require.Error(t, err)

	err = r.Register(models.EmbeddingModel{ID: "x", Dimensions: 0})
	require.Error(t, err)
}

func TestRegistryValidate(t *testing.T) {
	r := NewModelRegistry()
	require.NoError(t, r.Validate())

	require.NoError(t, r.Register(models.EmbeddingModel{
		ID:         "bad/model",
		Dimensions: 128,
		ChunkSize:  0,
	}))
	require.Error(t, r.Validate())
}
