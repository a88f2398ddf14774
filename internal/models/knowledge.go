package models

import (
	"time"
)

// KnowledgeCollection 知识库集合
type KnowledgeCollection struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"dimensions"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// KnowledgeDocument 知识库文档
type KnowledgeDocument struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Title        string    `json:"title"`
	FileName     string    `json:"file_name"`
	ContentHash  string    `json:"content_hash"`
	SizeBytes    int64     `json:"size_bytes"`
	ChunkCount   int       `json:"chunk_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// KnowledgeChunk 文档分块。ID是整型自增主键，向量行以它为键。
type KnowledgeChunk struct {
	ID           int64     `json:"id"`
	DocumentID   string    `json:"document_id"`
	CollectionID string    `json:"collection_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	CharCount    int       `json:"char_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// VectorEmbedding 分块向量，ChunkID与所属分块主键一致
type VectorEmbedding struct {
	ChunkID      int64     `json:"chunk_id"`
	CollectionID string    `json:"collection_id"`
	Embedding    []float32 `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchResult 搜索结果条目
type SearchResult struct {
	ChunkID       int64   `json:"chunk_id"`
	ChunkText     string  `json:"chunk_text"`
	ChunkIndex    int     `json:"chunk_index"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	FileName      string  `json:"file_name"`
	CollectionID  string  `json:"collection_id"`
	Similarity    float64 `json:"similarity"`
	Score         float64 `json:"score"`
}

// CollectionStats 集合统计信息
type CollectionStats struct {
	CollectionID  string `json:"collection_id"`
	DocumentCount int    `json:"document_count"`
	ChunkCount    int    `json:"chunk_count"`
	VectorCount   int    `json:"vector_count"`
	TotalChars    int64  `json:"total_chars"`
}

// DatabaseHealth 存储健康状态
type DatabaseHealth struct {
	MetadataOK    bool `json:"metadata_ok"`
	VectorOK      bool `json:"vector_ok"`
	DistanceFnOK  bool `json:"distance_fn_ok"`
	CacheEntries  int  `json:"cache_entries"`
	CacheCapacity int  `json:"cache_capacity"`
}

// EmbeddingModel 嵌入模型目录条目
type EmbeddingModel struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Dimensions       int     `json:"dimensions"`
	MaxTokens        int     `json:"max_tokens"`
	ChunkSize        int     `json:"chunk_size"`
	ChunkOverlap     int     `json:"chunk_overlap"`
	Threshold        float64 `json:"threshold"`
	QueryInstruction string  `json:"query_instruction,omitempty"`
}

// SearchHistoryEntry 搜索历史记录
type SearchHistoryEntry struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	Query        string    `json:"query"`
	ResultCount  int       `json:"result_count"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// ---- 请求/响应 DTO ----

// CreateCollectionRequest 创建集合请求
type CreateCollectionRequest struct {
	Name           string `json:"name" validate:"required,min=1,max=200"`
	Description    string `json:"description" validate:"max=2000"`
	EmbeddingModel string `json:"embedding_model" validate:"required"`
}

// ProcessDocumentRequest 文档入库请求
type ProcessDocumentRequest struct {
	CollectionID string `json:"collection_id" validate:"required"`
	DocumentID   string `json:"document_id"` // 为空则新建
	Title        string `json:"title" validate:"required,max=500"`
	FileName     string `json:"file_name" validate:"max=500"`
	Content      string `json:"content" validate:"required"`
	ChunkSize    int    `json:"chunk_size" validate:"omitempty,min=1"`
	ChunkOverlap int    `json:"chunk_overlap" validate:"omitempty,min=0"`
}

// ProcessDocumentResponse 文档入库结果
type ProcessDocumentResponse struct {
	DocumentID  string `json:"document_id"`
	ChunkCount  int    `json:"chunk_count"`
	VectorCount int    `json:"vector_count"`
	ElapsedMs   int64  `json:"processing_time_ms"`
	Reused      bool   `json:"reused"` // 已有分块，跳过重复处理
}

// SearchRequest 搜索请求。Threshold用指针区分未传与显式0。
type SearchRequest struct {
	CollectionID string   `json:"collection_id"`
	Query        string   `json:"query" validate:"required,min=1"`
	Limit        int      `json:"limit" validate:"omitempty,min=1,max=100"`
	Threshold    *float64 `json:"threshold" validate:"omitempty,min=0,max=1"`
}

// SearchResponse 搜索响应
type SearchResponse struct {
	Results       []SearchResult `json:"results"`
	Total         int            `json:"total"`
	CollectionID  string         `json:"collection_id"`
	Model         string         `json:"model"`
	UsedThreshold float64        `json:"used_threshold"`
	FromCache     bool           `json:"from_cache"`
	ElapsedMs     int64          `json:"query_time_ms"`
}

// SetConfigRequest 系统配置写入请求
type SetConfigRequest struct {
	Key   string `json:"key" validate:"required,max=100"`
	Value string `json:"value" validate:"required,max=1000"`
}

// SystemStatus 系统状态
type SystemStatus struct {
	Health          DatabaseHealth `json:"health"`
	CollectionCount int            `json:"collection_count"`
	DocumentCount   int            `json:"document_count"`
	VectorCount     int            `json:"vector_count"`
	StoragePath     string         `json:"storage_path"`
}
