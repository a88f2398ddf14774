package knowledge

import (
	"context"
	"database/sql"
	"errors"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/config"
	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/models"
)

const qdrantCollectionPrefix = "kb_"

// QdrantVectorStore 外部ANN后端实现，与嵌入式实现共用同一契约。
// 向量和检索载荷存在Qdrant，元数据仍在SQLite；进程管理不在本模块职责内。
type QdrantVectorStore struct {
	db     *sql.DB
	client *qdrant.Client
	cache  *QueryCache

	overfetchFactor int
	overfetchCap    int
	minChunkLen     int
	maxChunkLen     int
}

var _ VectorStore = (*QdrantVectorStore)(nil)

// NewQdrantVectorStore 创建Qdrant向量存储
func NewQdrantVectorStore(db *sql.DB, cache *QueryCache, qcfg config.QdrantConfig, scfg config.SearchConfig) (*QdrantVectorStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   qcfg.Host,
		Port:   qcfg.Port,
		APIKey: qcfg.APIKey,
		UseTLS: qcfg.UseTLS,
	})
	if err != nil {
		return nil, apperrors.NewConnectionError("failed to create qdrant client", err)
	}

	factor := scfg.OverfetchFactor
	if factor <= 0 {
		factor = 3
	}
	fetchCap := scfg.OverfetchCap
	if fetchCap <= 0 {
		fetchCap = 100
	}
	minLen := scfg.MinChunkLen
	if minLen <= 0 {
		minLen = 5
	}
	maxLen := scfg.MaxChunkLen
	if maxLen <= 0 {
		maxLen = 5000
	}

	return &QdrantVectorStore{
		db:              db,
		client:          client,
		cache:           cache,
		overfetchFactor: factor,
		overfetchCap:    fetchCap,
		minChunkLen:     minLen,
		maxChunkLen:     maxLen,
	}, nil
}

func qdrantCollectionName(collectionID string) string {
	return qdrantCollectionPrefix + collectionID
}

// EnsureCollection 按需创建Qdrant集合，余弦距离
func (s *QdrantVectorStore) EnsureCollection(ctx context.Context, collectionID string, dims int) error {
	name := qdrantCollectionName(collectionID)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return apperrors.NewConnectionError("failed to check qdrant collection", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperrors.NewConnectionError("failed to create qdrant collection", err)
	}
	return nil
}

// InsertVectors 批量写入Qdrant。维度与分块存在性校验逻辑与嵌入式后端一致，
// 载荷带上检索所需的文本和文档信息，点ID等于分块主键。
func (s *QdrantVectorStore) InsertVectors(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	byCollection := make(map[string][]*qdrant.PointStruct)
	dims := make(map[string]int)

	for _, rec := range records {
		want, ok := dims[rec.CollectionID]
		if !ok {
			err := s.db.QueryRowContext(ctx,
				"SELECT vector_dimensions FROM collections WHERE id = ?", rec.CollectionID).Scan(&want)
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFoundError("collection", rec.CollectionID)
			}
			if err != nil {
				return apperrors.NewQueryError("failed to load collection dimensions", err)
			}
			dims[rec.CollectionID] = want
			if err := s.EnsureCollection(ctx, rec.CollectionID, want); err != nil {
				return err
			}
		}
		if len(rec.Embedding) != want {
			return apperrors.NewDimensionMismatchError(want, len(rec.Embedding))
		}

		var chunkText, documentID, title, fileName string
		var chunkIndex int
		err := s.db.QueryRowContext(ctx, `
			SELECT c.chunk_text, c.chunk_index, c.document_id, d.title, d.file_name
			FROM chunks c JOIN documents d ON d.id = c.document_id
			WHERE c.id = ? AND c.collection_id = ?`,
			rec.ChunkID, rec.CollectionID).Scan(&chunkText, &chunkIndex, &documentID, &title, &fileName)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewQueryError("vector record references unknown chunk", nil)
		}
		if err != nil {
			return apperrors.NewQueryError("failed to load chunk for vector insert", err)
		}

		byCollection[rec.CollectionID] = append(byCollection[rec.CollectionID], &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(rec.ChunkID)),
			Vectors: qdrant.NewVectors(NormalizeVector(rec.Embedding)...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_text":     chunkText,
				"chunk_index":    int64(chunkIndex),
				"document_id":    documentID,
				"document_title": title,
				"file_name":      fileName,
			}),
		})
	}

	wait := true
	for collectionID, points := range byCollection {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: qdrantCollectionName(collectionID),
			Points:         points,
			Wait:           &wait,
		})
		if err != nil {
			return apperrors.NewConnectionError("qdrant upsert failed", err)
		}
	}

	if s.cache != nil {
		s.cache.Clear()
	}
	return nil
}

// Search 查询Qdrant并套用与嵌入式后端一致的后处理流程。
// Qdrant的余弦距离得分直接作为相似度，无需L2换算。
func (s *QdrantVectorStore) Search(ctx context.Context, queryVector []float32, collectionID string, limit int, threshold float64) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM collections WHERE id = ?", collectionID).Scan(&exists)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to check collection", err)
	}
	if exists == 0 {
		return nil, apperrors.NewNotFoundError("collection", collectionID)
	}

	overfetch := uint64(limit * s.overfetchFactor)
	if overfetch > uint64(s.overfetchCap) {
		overfetch = uint64(s.overfetchCap)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qdrantCollectionName(collectionID),
		Query:          qdrant.NewQuery(NormalizeVector(queryVector)...),
		Limit:          &overfetch,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperrors.NewConnectionError("qdrant query failed", err)
	}

	candidates := make([]models.SearchResult, 0, len(points))
	for _, point := range points {
		r := models.SearchResult{
			CollectionID: collectionID,
			Similarity:   float64(point.Score),
			Score:        float64(point.Score),
		}
		if point.Id != nil {
			r.ChunkID = int64(point.Id.GetNum())
		}
		if point.Payload != nil {
			r.ChunkText = point.Payload["chunk_text"].GetStringValue()
			r.ChunkIndex = int(point.Payload["chunk_index"].GetIntegerValue())
			r.DocumentID = point.Payload["document_id"].GetStringValue()
			r.DocumentTitle = point.Payload["document_title"].GetStringValue()
			r.FileName = point.Payload["file_name"].GetStringValue()
		}
		candidates = append(candidates, r)
	}

	return postFilterResults(candidates, limit, threshold, s.minChunkLen, s.maxChunkLen), nil
}

// DeleteDocument 删除Qdrant中该文档的点，再级联删除SQLite元数据
func (s *QdrantVectorStore) DeleteDocument(ctx context.Context, documentID string) error {
	var collectionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT collection_id FROM documents WHERE id = ?", documentID).Scan(&collectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError("document", documentID)
	}
	if err != nil {
		return apperrors.NewQueryError("failed to load document", err)
	}

	wait := true
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qdrantCollectionName(collectionID),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
		Wait: &wait,
	})
	if err != nil {
		return apperrors.NewConnectionError("qdrant delete failed", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewConnectionError("failed to begin delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return apperrors.NewQueryError("failed to delete chunks", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID); err != nil {
		return apperrors.NewQueryError("failed to delete document", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to commit delete transaction", err)
	}

	if s.cache != nil {
		s.cache.Clear()
	}
	logger.Info("文档已从Qdrant后端删除",
		zap.String("document_id", documentID),
		zap.String("collection_id", collectionID))
	return nil
}

// DeleteCollection 丢弃集合对应的Qdrant collection
func (s *QdrantVectorStore) DeleteCollection(ctx context.Context, collectionID string) error {
	if err := s.client.DeleteCollection(ctx, qdrantCollectionName(collectionID)); err != nil {
		return apperrors.NewConnectionError("qdrant collection delete failed", err)
	}
	return nil
}

// VectorCount 集合内向量条数
func (s *QdrantVectorStore) VectorCount(ctx context.Context, collectionID string) (int, error) {
	exact := true
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qdrantCollectionName(collectionID),
		Exact:          &exact,
	})
	if err != nil {
		return 0, apperrors.NewConnectionError("qdrant count failed", err)
	}
	return int(count), nil
}

// HealthCheck 探测元数据库、Qdrant服务和距离能力
func (s *QdrantVectorStore) HealthCheck(ctx context.Context) (models.DatabaseHealth, error) {
	health := models.DatabaseHealth{}
	if s.cache != nil {
		health.CacheEntries = s.cache.Len()
		health.CacheCapacity = s.cache.Cap()
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM collections").Scan(&n); err == nil {
		health.MetadataOK = true
	}

	if _, err := s.client.HealthCheck(ctx); err == nil {
		health.VectorOK = true
		// Qdrant自带距离计算，服务可达即认为距离函数可用
		health.DistanceFnOK = true
	}

	return health, nil
}
