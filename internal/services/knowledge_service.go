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
	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/storage"
)

// KnowledgeService 集合管理与系统运维服务
type KnowledgeService struct {
	db       *sql.DB
	store    knowledge.VectorStore
	cache    *knowledge.QueryCache
	registry *knowledge.ModelRegistry
	validate *validator.Validate
	cfg      *config.Config
}

// NewKnowledgeService 创建集合管理服务
func NewKnowledgeService(db *sql.DB, store knowledge.VectorStore, cache *knowledge.QueryCache,
	registry *knowledge.ModelRegistry, cfg *config.Config) *KnowledgeService {
	return &KnowledgeService{
		db:       db,
		store:    store,
		cache:    cache,
		registry: registry,
		validate: validator.New(),
		cfg:      cfg,
	}
}

// CreateCollection 创建集合，维度取自模型目录
func (s *KnowledgeService) CreateCollection(ctx context.Context, req models.CreateCollectionRequest) (*models.KnowledgeCollection, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	model, err := s.registry.Describe(req.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	col := &models.KnowledgeCollection{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Description:    req.Description,
		EmbeddingModel: model.ID,
		Dimensions:     model.Dimensions,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, description, embedding_model, vector_dimensions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		col.ID, col.Name, col.Description, col.EmbeddingModel, col.Dimensions, col.CreatedAt, col.UpdatedAt)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to create collection", err)
	}

	logger.Info("集合已创建",
		zap.String("collection_id", col.ID),
		zap.String("name", col.Name),
		zap.String("model", col.EmbeddingModel))
	return col, nil
}

// GetCollection 获取单个集合
func (s *KnowledgeService) GetCollection(ctx context.Context, id string) (*models.KnowledgeCollection, error) {
	var col models.KnowledgeCollection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, embedding_model, vector_dimensions, created_at, updated_at
		FROM collections WHERE id = ?`, id).
		Scan(&col.ID, &col.Name, &col.Description, &col.EmbeddingModel, &col.Dimensions, &col.CreatedAt, &col.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("collection", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryError("failed to load collection", err)
	}
	return &col, nil
}

// ListCollections 列出全部集合
func (s *KnowledgeService) ListCollections(ctx context.Context) ([]models.KnowledgeCollection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, embedding_model, vector_dimensions, created_at, updated_at
		FROM collections ORDER BY created_at`)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to list collections", err)
	}
	defer rows.Close()

	var out []models.KnowledgeCollection
	for rows.Next() {
		var col models.KnowledgeCollection
		if err := rows.Scan(&col.ID, &col.Name, &col.Description, &col.EmbeddingModel,
			&col.Dimensions, &col.CreatedAt, &col.UpdatedAt); err != nil {
			return nil, apperrors.NewQueryError("failed to scan collection row", err)
		}
		out = append(out, col)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError("collection iteration failed", err)
	}
	return out, nil
}

// DeleteCollection 在一个事务里级联删除集合的文档、分块和向量，随后整体失效缓存
func (s *KnowledgeService) DeleteCollection(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewConnectionError("failed to begin delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM knowledge_vectors WHERE collection_id = ?", id); err != nil {
		return apperrors.NewQueryError("failed to delete collection vectors", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks WHERE collection_id = ?", id); err != nil {
		return apperrors.NewQueryError("failed to delete collection chunks", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM documents WHERE collection_id = ?", id); err != nil {
		return apperrors.NewQueryError("failed to delete collection documents", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return apperrors.NewQueryError("failed to delete collection", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return apperrors.NewNotFoundError("collection", id)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to commit delete transaction", err)
	}

	// 外部ANN后端还需要丢弃自己的collection
	if deleter, ok := s.store.(interface {
		DeleteCollection(ctx context.Context, collectionID string) error
	}); ok {
		if err := deleter.DeleteCollection(ctx, id); err != nil {
			logger.Warn("清理外部向量集合失败", zap.String("collection_id", id), zap.Error(err))
		}
	}

	if s.cache != nil {
		s.cache.Clear()
	}
	logger.Info("集合已删除", zap.String("collection_id", id))
	return nil
}

// CollectionStats 集合统计
func (s *KnowledgeService) CollectionStats(ctx context.Context, id string) (*models.CollectionStats, error) {
	if _, err := s.GetCollection(ctx, id); err != nil {
		return nil, err
	}

	stats := &models.CollectionStats{CollectionID: id}
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM documents WHERE collection_id = ?", id).Scan(&stats.DocumentCount)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to count documents", err)
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(1), COALESCE(SUM(LENGTH(chunk_text)), 0) FROM chunks WHERE collection_id = ?", id).
		Scan(&stats.ChunkCount, &stats.TotalChars)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to count chunks", err)
	}

	stats.VectorCount, err = s.store.VectorCount(ctx, id)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ListModels 模型目录
func (s *KnowledgeService) ListModels() []models.EmbeddingModel {
	return s.registry.List()
}

// DescribeModel 单个模型信息
func (s *KnowledgeService) DescribeModel(modelID string) (models.EmbeddingModel, error) {
	return s.registry.Describe(modelID)
}

// HealthCheck 存储健康探测
func (s *KnowledgeService) HealthCheck(ctx context.Context) (models.DatabaseHealth, error) {
	return s.store.HealthCheck(ctx)
}

// SystemStatus 系统状态汇总
func (s *KnowledgeService) SystemStatus(ctx context.Context) (*models.SystemStatus, error) {
	health, err := s.store.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}

	status := &models.SystemStatus{
		Health:      health,
		StoragePath: s.cfg.Storage.Path,
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM collections").Scan(&status.CollectionCount); err != nil {
		return nil, apperrors.NewQueryError("failed to count collections", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM documents").Scan(&status.DocumentCount); err != nil {
		return nil, apperrors.NewQueryError("failed to count documents", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM knowledge_vectors").Scan(&status.VectorCount); err != nil {
		return nil, apperrors.NewQueryError("failed to count vectors", err)
	}
	return status, nil
}

// GetConfig 读取系统配置项
func (s *KnowledgeService) GetConfig(ctx context.Context, key string) (string, error) {
	return storage.GetConfigValue(ctx, s.db, key)
}

// SetConfig 写入系统配置项
func (s *KnowledgeService) SetConfig(ctx context.Context, req models.SetConfigRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return apperrors.NewValidationError(err.Error())
	}
	return storage.SetConfigValue(ctx, s.db, req.Key, req.Value)
}

// Reset 清空知识库数据并失效缓存
func (s *KnowledgeService) Reset(ctx context.Context) error {
	if err := storage.Reset(ctx, s.db); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	return nil
}
