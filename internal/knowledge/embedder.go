package knowledge

import (
	"context"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/config"
	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/logger"
)

const (
	// 含CJK的文本按更紧的字符预算截断，近似token上限
	maxCharsCJK   = 512
	maxCharsLatin = 2048
)

// Embedder 定义文本向量化接口
type Embedder interface {
	Embed(ctx context.Context, text, modelID string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error)
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text, modelID string) ([]float32, error) {
	return nil, apperrors.NewProviderError("embedding provider not configured", nil)
}

func (n *NoopEmbedder) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	return nil, apperrors.NewProviderError("embedding provider not configured", nil)
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

// OpenAIEmbedder 调用OpenAI兼容的 /v1/embeddings 接口
type OpenAIEmbedder struct {
	client    *openai.Client
	batchSize int
	log       *zap.Logger
}

// NewOpenAIEmbedder 创建嵌入向量生成器。BaseURL可指向任意兼容服务。
func NewOpenAIEmbedder(cfg config.EmbeddingConfig) Embedder {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		batchSize: batchSize,
		log:       logger.Named("embedder"),
	}
}

// Embed 向量化单条文本
func (e *OpenAIEmbedder) Embed(ctx context.Context, text, modelID string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text}, modelID)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 向量化一批文本。超过批大小的请求拆成子批顺序处理，
// 子批边界处检查取消信号。任何子批失败整批报错，不返回部分结果。
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if modelID == "" {
		return nil, apperrors.NewValidationError("embedding model id is required")
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, apperrors.NewValidationError("embedding input text is empty")
		}
		prepared[i] = truncateForEmbedding(t)
	}

	out := make([][]float32, 0, len(prepared))
	for batchStart := 0; batchStart < len(prepared); batchStart += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchEnd := batchStart + e.batchSize
		if batchEnd > len(prepared) {
			batchEnd = len(prepared)
		}
		batch := prepared[batchStart:batchEnd]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(modelID),
			Input: batch,
		})
		if err != nil {
			e.log.Error("嵌入服务调用失败",
				zap.String("model", modelID),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			return nil, apperrors.NewProviderError("embedding request failed", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, apperrors.NewProviderError("embedding response size mismatch", nil)
		}

		for _, item := range resp.Data {
			if len(item.Embedding) == 0 {
				return nil, apperrors.NewProviderError("embedding response contains empty vector", nil)
			}
			vec := make([]float32, len(item.Embedding))
			copy(vec, item.Embedding)
			out = append(out, vec)
		}
	}

	return out, nil
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}

// truncateForEmbedding 按语言相关的安全字符预算截断文本
func truncateForEmbedding(text string) string {
	limit := maxCharsLatin
	if containsCJK(text) {
		limit = maxCharsCJK
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func containsCJK(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
