package knowledge

import (
	"sort"
	"sync"

	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/models"
)

// bge-large-zh系列属于非对称检索模型，查询侧需要指令前缀
const bgeZhQueryInstruction = "为这个句子生成表示以用于检索相关文章："

// builtinModels 内置模型目录。按模型ID精确匹配，不做子串推断。
var builtinModels = []models.EmbeddingModel{
	{
		ID:           "BAAI/bge-m3",
		Name:         "BGE-M3",
		Dimensions:   1024,
		MaxTokens:    512,
		ChunkSize:    900,
		ChunkOverlap: 120,
		Threshold:    0.80,
	},
	{
		ID:               "BAAI/bge-large-zh-v1.5",
		Name:             "BGE-Large-ZH",
		Dimensions:       1024,
		MaxTokens:        512,
		ChunkSize:        480,
		ChunkOverlap:     80,
		Threshold:        0.75,
		QueryInstruction: bgeZhQueryInstruction,
	},
	{
		ID:           "BAAI/bge-large-en-v1.5",
		Name:         "BGE-Large-EN",
		Dimensions:   1024,
		MaxTokens:    512,
		ChunkSize:    900,
		ChunkOverlap: 100,
		Threshold:    0.70,
	},
}

// ModelRegistry 嵌入模型注册表。启动时构建并校验，之后只读。
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]models.EmbeddingModel
}

// NewModelRegistry 创建包含内置模型的注册表
func NewModelRegistry() *ModelRegistry {
	r := &ModelRegistry{
		models: make(map[string]models.EmbeddingModel, len(builtinModels)),
	}
	for _, m := range builtinModels {
		r.models[m.ID] = m
	}
	return r
}

// Register 注册或覆盖一个模型条目
func (r *ModelRegistry) Register(m models.EmbeddingModel) error {
	if m.ID == "" || m.Dimensions <= 0 {
		return apperrors.NewValidationError("model id and dimensions are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
	return nil
}

// Describe 按精确模型ID查找。未注册的模型直接报错，不回退到通用默认值。
func (r *ModelRegistry) Describe(modelID string) (models.EmbeddingModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[modelID]
	if !ok {
		return models.EmbeddingModel{}, apperrors.NewModelNotFoundError(modelID)
	}
	return m, nil
}

// List 返回全部模型，按ID排序
func (r *ModelRegistry) List() []models.EmbeddingModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.EmbeddingModel, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate 校验目录完整性，在启动时调用
func (r *ModelRegistry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.models {
		if m.Dimensions <= 0 {
			return apperrors.NewValidationError("model " + id + " has invalid dimensions")
		}
		if m.ChunkSize <= 0 || m.ChunkOverlap < 0 || m.ChunkOverlap >= m.ChunkSize {
			return apperrors.NewValidationError("model " + id + " has invalid chunk parameters")
		}
		if m.Threshold < 0 || m.Threshold > 1 {
			return apperrors.NewValidationError("model " + id + " has invalid threshold")
		}
	}
	return nil
}
