package services

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/require"

	"github.com/aihub/knowledge-engine/internal/config"
	"github.com/aihub/knowledge-engine/internal/knowledge"
	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/storage"
)

const testDims = 4

// fakeEmbedder 确定性向量生成器。
// 指定文本用vectors表里的向量，其余文本从内容哈希派生。
type fakeEmbedder struct {
	vectors  map[string][]float32
	requests []string
	err      error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, modelID string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text}, modelID)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		f.requests = append(f.requests, text)
		if v, ok := f.vectors[text]; ok {
			out = append(out, v)
			continue
		}
		out = append(out, deriveVector(text))
	}
	return out, nil
}

func (f *fakeEmbedder) Ready() bool { return true }

func deriveVector(text string) []float32 {
	seed := xxhash.Sum64String(text)
	v := make([]float32, testDims)
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float32(seed%1000)/1000 + 0.001
	}
	return knowledge.NormalizeVector(v)
}

// vectorAtCosine 返回与e1夹角余弦为sim的单位向量
func vectorAtCosine(sim float64) []float32 {
	v := make([]float32, testDims)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

type testEnv struct {
	db       *sql.DB
	cache    *knowledge.QueryCache
	store    *knowledge.SQLiteVectorStore
	registry *knowledge.ModelRegistry
	embedder *fakeEmbedder
	cfg      *config.Config

	knowledgeSvc *KnowledgeService
	documentSvc  *DocumentService
	searchSvc    *SearchService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Storage: config.StorageConfig{
			Path:        filepath.Join(t.TempDir(), "svc.db"),
			MaxOpenConn: 4,
			BusyTimeout: 1000,
		},
		Embedding: config.EmbeddingConfig{BatchSize: 2},
		Search: config.SearchConfig{
			DefaultLimit:    10,
			Threshold:       0.7,
			FallbackLadder:  []float64{0.40, 0.30},
			OverfetchFactor: 3,
			OverfetchCap:    100,
			CacheCapacity:   100,
			MinChunkLen:     5,
			MaxChunkLen:     5000,
		},
		Telemetry: config.TelemetryConfig{EnableSearchHistory: true},
	}

	db, err := storage.Open(cfg.Storage)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache, err := knowledge.NewQueryCache(cfg.Search.CacheCapacity)
	require.NoError(t, err)

	registry := knowledge.NewModelRegistry()
	require.NoError(t, registry.Register(models.EmbeddingModel{
		ID:           "test/mini",
		Name:         "Mini",
		Dimensions:   testDims,
		MaxTokens:    512,
		ChunkSize:    200,
		ChunkOverlap: 20,
		Threshold:    0.7,
	}))
	require.NoError(t, registry.Register(models.EmbeddingModel{
		ID:               "test/asym",
		Name:             "Asym",
		Dimensions:       testDims,
		MaxTokens:        512,
		ChunkSize:        200,
		ChunkOverlap:     20,
		Threshold:        0.7,
		QueryInstruction: "为检索生成查询表示：",
	}))

	store := knowledge.NewSQLiteVectorStore(db, cache, cfg.Search)
	embedder := newFakeEmbedder()

	return &testEnv{
		db:           db,
		cache:        cache,
		store:        store,
		registry:     registry,
		embedder:     embedder,
		cfg:          cfg,
		knowledgeSvc: NewKnowledgeService(db, store, cache, registry, cfg),
		documentSvc:  NewDocumentService(db, store, registry, embedder, nil, cfg),
		searchSvc:    NewSearchService(db, store, cache, registry, embedder, cfg),
	}
}

// createCollection 测试辅助：建集合并返回ID
func (e *testEnv) createCollection(t *testing.T, name, model string) string {
	t.Helper()
	col, err := e.knowledgeSvc.CreateCollection(context.Background(), models.CreateCollectionRequest{
		Name:           name,
		EmbeddingModel: model,
	})
	require.NoError(t, err)
	return col.ID
}

// ingest 测试辅助：入库一篇文档
func (e *testEnv) ingest(t *testing.T, collectionID, title, content string) *models.ProcessDocumentResponse {
	t.Helper()
	resp, err := e.documentSvc.ProcessDocument(context.Background(), models.ProcessDocumentRequest{
		CollectionID: collectionID,
		Title:        title,
		Content:      content,
	})
	require.NoError(t, err)
	return resp
}
