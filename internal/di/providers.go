package di

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/config"
	"github.com/aihub/knowledge-engine/internal/knowledge"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/services"
	"github.com/aihub/knowledge-engine/internal/storage"
)

// RegisterProviders 注册全部构造器。
// 存储句柄在这里构造一次并注入各组件，不暴露可变的全局单例。
func RegisterProviders(cfg *config.Config) error {
	providers := []interface{}{
		func() *config.Config { return cfg },
		func(c *config.Config) (*sql.DB, error) {
			return storage.Open(c.Storage)
		},
		func(c *config.Config) (*knowledge.QueryCache, error) {
			return knowledge.NewQueryCache(c.Search.CacheCapacity)
		},
		func() *knowledge.ModelRegistry {
			return knowledge.NewModelRegistry()
		},
		func(c *config.Config) knowledge.Embedder {
			return knowledge.NewOpenAIEmbedder(c.Embedding)
		},
		newVectorStore,
		func() services.ProgressNotifier { return services.NewLogNotifier() },
		services.NewKnowledgeService,
		services.NewDocumentService,
		services.NewSearchService,
	}

	for _, p := range providers {
		if err := Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// newVectorStore 按配置选择嵌入式SQLite后端或外部Qdrant后端
func newVectorStore(c *config.Config, db *sql.DB, cache *knowledge.QueryCache) (knowledge.VectorStore, error) {
	if c.Qdrant.Enabled {
		logger.Info("使用Qdrant向量后端",
			zap.String("host", c.Qdrant.Host),
			zap.Int("port", c.Qdrant.Port))
		return knowledge.NewQdrantVectorStore(db, cache, c.Qdrant, c.Search)
	}
	return knowledge.NewSQLiteVectorStore(db, cache, c.Search), nil
}
