package knowledge

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/config"
	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/models"
)

// SQLiteVectorStore 嵌入式向量存储。
// 向量以float32小端BLOB存放，距离计算依赖驱动上注册的vec_l2函数。
type SQLiteVectorStore struct {
	db    *sql.DB
	cache *QueryCache
	log   *zap.Logger

	overfetchFactor int
	overfetchCap    int
	minChunkLen     int
	maxChunkLen     int
}

var _ VectorStore = (*SQLiteVectorStore)(nil)

// NewSQLiteVectorStore 创建嵌入式向量存储
func NewSQLiteVectorStore(db *sql.DB, cache *QueryCache, cfg config.SearchConfig) *SQLiteVectorStore {
	factor := cfg.OverfetchFactor
	if factor <= 0 {
		factor = 3
	}
	fetchCap := cfg.OverfetchCap
	if fetchCap <= 0 {
		fetchCap = 100
	}
	minLen := cfg.MinChunkLen
	if minLen <= 0 {
		minLen = 5
	}
	maxLen := cfg.MaxChunkLen
	if maxLen <= 0 {
		maxLen = 5000
	}
	return &SQLiteVectorStore{
		db:              db,
		cache:           cache,
		log:             logger.Named("vector_store"),
		overfetchFactor: factor,
		overfetchCap:    fetchCap,
		minChunkLen:     minLen,
		maxChunkLen:     maxLen,
	}
}

// InsertVectors 事务性批量插入。
// 每条记录先校验维度与所属分块存在性，任一失败整批回滚；成功后整体清空查询缓存。
func (s *SQLiteVectorStore) InsertVectors(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewConnectionError("failed to begin insert transaction", err)
	}
	defer tx.Rollback()

	dims := make(map[string]int)
	for _, rec := range records {
		want, ok := dims[rec.CollectionID]
		if !ok {
			err := tx.QueryRowContext(ctx,
				"SELECT vector_dimensions FROM collections WHERE id = ?", rec.CollectionID).Scan(&want)
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFoundError("collection", rec.CollectionID)
			}
			if err != nil {
				return apperrors.NewQueryError("failed to load collection dimensions", err)
			}
			dims[rec.CollectionID] = want
		}
		if len(rec.Embedding) != want {
			return apperrors.NewDimensionMismatchError(want, len(rec.Embedding))
		}

		// 向量行键必须等于分块主键，写前显式校验
		var chunkExists int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM chunks WHERE id = ? AND collection_id = ?",
			rec.ChunkID, rec.CollectionID).Scan(&chunkExists)
		if err != nil {
			return apperrors.NewQueryError("failed to verify chunk existence", err)
		}
		if chunkExists == 0 {
			return apperrors.NewQueryError("vector record references unknown chunk", nil).
				WithDetails(map[string]interface{}{"chunk_id": rec.ChunkID})
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO knowledge_vectors (chunk_id, collection_id, embedding) VALUES (?, ?, ?)",
			rec.ChunkID, rec.CollectionID, EncodeVector(NormalizeVector(rec.Embedding))); err != nil {
			return apperrors.NewQueryError("failed to insert vector", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to commit insert transaction", err)
	}

	if s.cache != nil {
		s.cache.Clear()
	}
	return nil
}

// Search 单集合向量检索。流程：归一化查询向量 → 超量取候选 →
// 阈值过滤 → 内容去重 → 长度过滤 → 按文档分组排序 → 展平截断。
func (s *SQLiteVectorStore) Search(ctx context.Context, queryVector []float32, collectionID string, limit int, threshold float64) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM collections WHERE id = ?", collectionID).Scan(&exists)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to check collection", err)
	}
	if exists == 0 {
		// 未知集合是明确错误，与空结果区分
		return nil, apperrors.NewNotFoundError("collection", collectionID)
	}

	normalized := NormalizeVector(queryVector)
	overfetch := limit * s.overfetchFactor
	if overfetch > s.overfetchCap {
		overfetch = s.overfetchCap
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.chunk_text, c.chunk_index, c.document_id, d.title, d.file_name,
		       vec_l2(v.embedding, ?) AS distance
		FROM knowledge_vectors v
		JOIN chunks c ON c.id = v.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE v.collection_id = ?
		ORDER BY distance ASC
		LIMIT ?`,
		EncodeVector(normalized), collectionID, overfetch)
	if err != nil {
		return nil, apperrors.NewQueryError("vector search query failed", err)
	}
	defer rows.Close()

	var candidates []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		var distance float64
		if err := rows.Scan(&r.ChunkID, &r.ChunkText, &r.ChunkIndex,
			&r.DocumentID, &r.DocumentTitle, &r.FileName, &distance); err != nil {
			return nil, apperrors.NewQueryError("failed to scan search row", err)
		}
		r.CollectionID = collectionID
		r.Similarity = L2ToCosine(distance)
		r.Score = r.Similarity
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError("search row iteration failed", err)
	}

	return s.postFilter(candidates, limit, threshold), nil
}

func (s *SQLiteVectorStore) postFilter(candidates []models.SearchResult, limit int, threshold float64) []models.SearchResult {
	return postFilterResults(candidates, limit, threshold, s.minChunkLen, s.maxChunkLen)
}

// DeleteDocument 级联删除向量、分块和文档行，成功后整体清空查询缓存
func (s *SQLiteVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewConnectionError("failed to begin delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM knowledge_vectors
		WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, documentID); err != nil {
		return apperrors.NewQueryError("failed to delete vectors", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return apperrors.NewQueryError("failed to delete chunks", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID)
	if err != nil {
		return apperrors.NewQueryError("failed to delete document", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return apperrors.NewNotFoundError("document", documentID)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to commit delete transaction", err)
	}

	if s.cache != nil {
		s.cache.Clear()
	}
	s.log.Info("文档已删除", zap.String("document_id", documentID))
	return nil
}

// VectorCount 集合内向量条数
func (s *SQLiteVectorStore) VectorCount(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM knowledge_vectors WHERE collection_id = ?", collectionID).Scan(&count)
	if err != nil {
		return 0, apperrors.NewQueryError("failed to count vectors", err)
	}
	return count, nil
}

// HealthCheck 独立探测元数据表、向量表和距离函数
func (s *SQLiteVectorStore) HealthCheck(ctx context.Context) (models.DatabaseHealth, error) {
	health := models.DatabaseHealth{}
	if s.cache != nil {
		health.CacheEntries = s.cache.Len()
		health.CacheCapacity = s.cache.Cap()
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM collections").Scan(&n); err == nil {
		health.MetadataOK = true
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM knowledge_vectors").Scan(&n); err == nil {
		health.VectorOK = true
	}

	probe := EncodeVector([]float32{1, 0})
	var distance float64
	if err := s.db.QueryRowContext(ctx, "SELECT vec_l2(?, ?)", probe, probe).Scan(&distance); err == nil && distance == 0 {
		health.DistanceFnOK = true
	}

	return health, nil
}
