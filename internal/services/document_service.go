package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
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

// MaxDocumentSize 单文档大小上限
const MaxDocumentSize = 10 * 1024 * 1024

// DocumentService 文档入库服务
type DocumentService struct {
	db       *sql.DB
	store    knowledge.VectorStore
	registry *knowledge.ModelRegistry
	embedder knowledge.Embedder
	notifier ProgressNotifier
	validate *validator.Validate
	cfg      *config.Config
	log      *zap.Logger
}

// NewDocumentService 创建文档服务
func NewDocumentService(db *sql.DB, store knowledge.VectorStore, registry *knowledge.ModelRegistry,
	embedder knowledge.Embedder, notifier ProgressNotifier, cfg *config.Config) *DocumentService {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	return &DocumentService{
		db:       db,
		store:    store,
		registry: registry,
		embedder: embedder,
		notifier: notifier,
		validate: validator.New(),
		cfg:      cfg,
		log:      logger.Named("ingest"),
	}
}

// ProcessDocument 文档入库主流程：
// 校验大小 → 幂等短路 → 解析分块参数 → 分块 → 分批向量化 → 持久化分块与向量。
// 分批之间检查取消信号；向量持久化失败会补偿清理已写入的分块。
func (s *DocumentService) ProcessDocument(ctx context.Context, req models.ProcessDocumentRequest) (*models.ProcessDocumentResponse, error) {
	start := time.Now()

	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	if size := int64(len(req.Content)); size > MaxDocumentSize {
		return nil, apperrors.NewDocumentTooLargeError(size, MaxDocumentSize)
	}

	var modelID string
	var dims int
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding_model, vector_dimensions FROM collections WHERE id = ?", req.CollectionID).
		Scan(&modelID, &dims)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("collection", req.CollectionID)
	}
	if err != nil {
		return nil, apperrors.NewQueryError("failed to load collection", err)
	}

	// 幂等守卫：指定了已有分块的文档ID时直接返回该文档自己的计数。
	// 向量行键等于分块主键，分块数即向量数。
	if req.DocumentID != "" {
		var existing int
		err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM chunks WHERE document_id = ?", req.DocumentID).Scan(&existing)
		if err != nil {
			return nil, apperrors.NewQueryError("failed to check existing chunks", err)
		}
		if existing > 0 {
			s.log.Info("文档已存在分块，跳过重复处理",
				zap.String("document_id", req.DocumentID),
				zap.Int("chunks", existing))
			return &models.ProcessDocumentResponse{
				DocumentID:  req.DocumentID,
				ChunkCount:  existing,
				VectorCount: existing,
				ElapsedMs:   time.Since(start).Milliseconds(),
				Reused:      true,
			}, nil
		}
	}

	chunkSize, chunkOverlap := s.resolveChunkParams(req, modelID)
	chunker := knowledge.NewChunker(chunkSize, chunkOverlap)
	chunks, err := chunker.Split(req.Content)
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(EventChunkingCompleted, map[string]interface{}{
		"collection_id": req.CollectionID,
		"chunk_count":   len(chunks),
	})

	docID := req.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	contentHash := fmt.Sprintf("%016x", xxhash.Sum64String(req.Content))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, collection_id, title, content, file_name, file_size, content_hash, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		docID, req.CollectionID, req.Title, req.Content, req.FileName, len(req.Content), contentHash)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to create document", err)
	}

	if len(chunks) == 0 {
		return &models.ProcessDocumentResponse{DocumentID: docID}, nil
	}

	// 先完成全部向量化再落库，嵌入失败时库里只有文档行可回收
	embeddings, err := s.embedChunks(ctx, chunks, modelID, req.CollectionID)
	if err != nil {
		s.compensate(docID)
		return nil, err
	}

	chunkIDs, err := s.persistChunks(ctx, docID, req.CollectionID, chunks)
	if err != nil {
		s.compensate(docID)
		return nil, err
	}

	records := make([]knowledge.VectorRecord, len(chunkIDs))
	for i, chunkID := range chunkIDs {
		records[i] = knowledge.VectorRecord{
			ChunkID:      chunkID,
			CollectionID: req.CollectionID,
			Embedding:    embeddings[i],
		}
	}
	if err := s.store.InsertVectors(ctx, records); err != nil {
		s.compensate(docID)
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE documents SET chunk_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		len(chunks), docID); err != nil {
		return nil, apperrors.NewQueryError("failed to update document chunk count", err)
	}

	metrics.DocumentsProcessed.Inc()
	metrics.ChunksEmbedded.Add(float64(len(chunks)))

	elapsed := time.Since(start)
	s.notifier.Notify(EventDocumentProcessed, map[string]interface{}{
		"document_id": docID,
		"chunk_count": len(chunks),
		"elapsed_ms":  elapsed.Milliseconds(),
	})
	s.log.Info("文档入库完成",
		zap.String("document_id", docID),
		zap.String("collection_id", req.CollectionID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", elapsed))

	return &models.ProcessDocumentResponse{
		DocumentID:  docID,
		ChunkCount:  len(chunks),
		VectorCount: len(records),
		ElapsedMs:   elapsed.Milliseconds(),
	}, nil
}

// resolveChunkParams 显式参数优先，否则取模型推荐值，最后退全局默认
func (s *DocumentService) resolveChunkParams(req models.ProcessDocumentRequest, modelID string) (int, int) {
	if req.ChunkSize > 0 {
		overlap := req.ChunkOverlap
		return req.ChunkSize, overlap
	}
	if model, err := s.registry.Describe(modelID); err == nil {
		return model.ChunkSize, model.ChunkOverlap
	}
	return 500, 50
}

// embedChunks 按批大小向量化，批间上报进度并检查取消
func (s *DocumentService) embedChunks(ctx context.Context, chunks []knowledge.Chunk, modelID, collectionID string) ([][]float32, error) {
	batchSize := s.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	out := make([][]float32, 0, len(chunks))
	for batchStart := 0; batchStart < len(chunks); batchStart += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batchEnd := batchStart + batchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}
		texts := make([]string, 0, batchEnd-batchStart)
		for _, ch := range chunks[batchStart:batchEnd] {
			texts = append(texts, ch.Text)
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts, modelID)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)

		s.notifier.Notify(EventBatchEmbedded, map[string]interface{}{
			"collection_id": collectionID,
			"done":          batchEnd,
			"total":         len(chunks),
		})
	}
	return out, nil
}

// persistChunks 单事务写入全部分块并返回自增主键
func (s *DocumentService) persistChunks(ctx context.Context, docID, collectionID string, chunks []knowledge.Chunk) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewConnectionError("failed to begin chunk transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (document_id, collection_id, chunk_index, chunk_text, token_count)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to prepare chunk insert", err)
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(chunks))
	for _, ch := range chunks {
		result, err := stmt.ExecContext(ctx, docID, collectionID, ch.Index, ch.Text, len([]rune(ch.Text)))
		if err != nil {
			return nil, apperrors.NewQueryError("failed to insert chunk", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, apperrors.NewQueryError("failed to read chunk id", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewQueryError("failed to commit chunk transaction", err)
	}
	return ids, nil
}

// compensate 入库失败后清理残留的文档行和分块，尽力而为
func (s *DocumentService) compensate(docID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", docID); err != nil {
		s.log.Error("入库补偿清理分块失败", zap.String("document_id", docID), zap.Error(err))
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", docID); err != nil {
		s.log.Error("入库补偿清理文档失败", zap.String("document_id", docID), zap.Error(err))
	}
}

// GetDocument 获取单个文档
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, collection_id, title, file_name, content_hash, file_size, chunk_count, created_at, updated_at
		FROM documents WHERE id = ?`, id).
		Scan(&doc.ID, &doc.CollectionID, &doc.Title, &doc.FileName, &doc.ContentHash,
			&doc.SizeBytes, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("document", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryError("failed to load document", err)
	}
	return &doc, nil
}

// ListDocuments 按集合列出文档
func (s *DocumentService) ListDocuments(ctx context.Context, collectionID string) ([]models.KnowledgeDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, title, file_name, content_hash, file_size, chunk_count, created_at, updated_at
		FROM documents WHERE collection_id = ? ORDER BY created_at`, collectionID)
	if err != nil {
		return nil, apperrors.NewQueryError("failed to list documents", err)
	}
	defer rows.Close()

	var out []models.KnowledgeDocument
	for rows.Next() {
		var doc models.KnowledgeDocument
		if err := rows.Scan(&doc.ID, &doc.CollectionID, &doc.Title, &doc.FileName, &doc.ContentHash,
			&doc.SizeBytes, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, apperrors.NewQueryError("failed to scan document row", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewQueryError("document iteration failed", err)
	}
	return out, nil
}

// DeleteDocument 删除文档及其分块与向量
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) error {
	return s.store.DeleteDocument(ctx, id)
}
