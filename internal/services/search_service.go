package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/config"
	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/knowledge"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/metrics"
	"github.com/aihub/knowledge-engine/internal/models"
)

// SearchService 检索编排：解析集合与阈值、整形查询文本、
// 向量化、查缓存、降级重试、记录历史。
type SearchService struct {
	db       *sql.DB
	store    knowledge.VectorStore
	cache    *knowledge.QueryCache
	registry *knowledge.ModelRegistry
	embedder knowledge.Embedder
	validate *validator.Validate
	cfg      *config.Config
	log      *zap.Logger
}

// NewSearchService 创建检索服务
func NewSearchService(db *sql.DB, store knowledge.VectorStore, cache *knowledge.QueryCache,
	registry *knowledge.ModelRegistry, embedder knowledge.Embedder, cfg *config.Config) *SearchService {
	return &SearchService{
		db:       db,
		store:    store,
		cache:    cache,
		registry: registry,
		embedder: embedder,
		validate: validator.New(),
		cfg:      cfg,
		log:      logger.Named("search"),
	}
}

// Search 单集合检索
func (s *SearchService) Search(ctx context.Context, req models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()

	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	collectionID := req.CollectionID
	if collectionID == "" {
		collectionID = s.cfg.Search.DefaultCollection
	}
	if collectionID == "" {
		return nil, apperrors.NewValidationError("collection_id is required and no default collection is configured")
	}

	var modelID string
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding_model FROM collections WHERE id = ?", collectionID).Scan(&modelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("collection", collectionID)
	}
	if err != nil {
		return nil, apperrors.NewQueryError("failed to resolve collection", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.Search.DefaultLimit
	}

	// 阈值：请求显式值 > 模型默认 > 全局默认
	model, modelErr := s.registry.Describe(modelID)
	threshold := s.cfg.Search.Threshold
	if modelErr == nil && model.Threshold > 0 {
		threshold = model.Threshold
	}
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	// 非对称检索模型只在查询侧加指令前缀
	queryText := req.Query
	if modelErr == nil && model.QueryInstruction != "" {
		queryText = model.QueryInstruction + queryText
	}

	queryVector, err := s.embedder.Embed(ctx, queryText, modelID)
	if err != nil {
		return nil, err
	}
	queryVector = knowledge.NormalizeVector(queryVector)

	metrics.SearchTotal.WithLabelValues(collectionID).Inc()
	defer func() {
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	cacheKey := knowledge.CacheKey(collectionID, limit, threshold, queryVector)
	if cached, cachedThreshold, ok := s.cache.Get(cacheKey); ok {
		s.log.Debug("查询缓存命中",
			zap.String("collection_id", collectionID),
			zap.Int("results", len(cached)))
		return s.finish(ctx, req.Query, collectionID, modelID, cached, cachedThreshold, true, start), nil
	}

	results, err := s.store.Search(ctx, queryVector, collectionID, limit, threshold)
	if err != nil {
		return nil, err
	}

	usedThreshold := threshold
	if len(results) == 0 {
		results, usedThreshold, err = s.fallbackSearch(ctx, queryVector, collectionID, limit, threshold)
		if err != nil {
			return nil, err
		}
	}

	s.cache.Put(cacheKey, results, usedThreshold)
	return s.finish(ctx, req.Query, collectionID, modelID, results, usedThreshold, false, start), nil
}

// fallbackSearch 首轮空结果时按降级阶梯重试，只尝试严格低于原阈值的档位
func (s *SearchService) fallbackSearch(ctx context.Context, queryVector []float32, collectionID string, limit int, threshold float64) ([]models.SearchResult, float64, error) {
	for _, relaxed := range s.cfg.Search.FallbackLadder {
		if relaxed >= threshold {
			continue
		}

		metrics.FallbackActivations.Inc()
		s.log.Info("启用降级阈值重试",
			zap.String("collection_id", collectionID),
			zap.Float64("threshold", relaxed))

		results, err := s.store.Search(ctx, queryVector, collectionID, limit, relaxed)
		if err != nil {
			return nil, threshold, err
		}
		if len(results) > 0 {
			return results, relaxed, nil
		}
	}
	return nil, threshold, nil
}

func (s *SearchService) finish(ctx context.Context, query, collectionID, modelID string, results []models.SearchResult, usedThreshold float64, fromCache bool, start time.Time) *models.SearchResponse {
	elapsed := time.Since(start).Milliseconds()

	if s.cfg.Telemetry.EnableSearchHistory {
		s.recordHistory(ctx, query, collectionID, len(results), elapsed)
	}

	return &models.SearchResponse{
		Results:       results,
		Total:         len(results),
		CollectionID:  collectionID,
		Model:         modelID,
		UsedThreshold: usedThreshold,
		FromCache:     fromCache,
		ElapsedMs:     elapsed,
	}
}

// recordHistory 写搜索历史，失败只记日志不影响请求
func (s *SearchService) recordHistory(ctx context.Context, query, collectionID string, resultCount int, elapsedMs int64) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (id, collection_id, query, result_count, elapsed_ms)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), collectionID, query, resultCount, elapsedMs)
	if err != nil {
		s.log.Warn("搜索历史写入失败", zap.Error(err))
	}
}

// SearchAllCollections 对全部集合逐一执行单集合检索。
// 单个集合失败只记日志并跳过，不中断整体。
func (s *SearchService) SearchAllCollections(ctx context.Context, req models.SearchRequest) (map[string]*models.SearchResponse, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM collections ORDER BY created_at")
	if err != nil {
		return nil, apperrors.NewQueryError("failed to list collections", err)
	}
	defer rows.Close()

	var collectionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewQueryError("failed to scan collection id", err)
		}
		collectionIDs = append(collectionIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError("collection iteration failed", err)
	}

	out := make(map[string]*models.SearchResponse, len(collectionIDs))
	for _, collectionID := range collectionIDs {
		perReq := req
		perReq.CollectionID = collectionID

		resp, err := s.Search(ctx, perReq)
		if err != nil {
			s.log.Error("集合检索失败，跳过该集合",
				zap.String("collection_id", collectionID),
				zap.Error(err))
			continue
		}
		out[collectionID] = resp
	}
	return out, nil
}

// History 最近的搜索历史
func (s *SearchService) History(ctx context.Context, limit int) ([]models.SearchHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, query, result_count, elapsed_ms, created_at
		FROM search_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to list search history", err)
	}
	defer rows.Close()

	var out []models.SearchHistoryEntry
	for rows.Next() {
		var entry models.SearchHistoryEntry
		if err := rows.Scan(&entry.ID, &entry.CollectionID, &entry.Query,
			&entry.ResultCount, &entry.ElapsedMs, &entry.CreatedAt); err != nil {
			return nil, apperrors.NewQueryError("failed to scan history row", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError("history iteration failed", err)
	}
	return out, nil
}
