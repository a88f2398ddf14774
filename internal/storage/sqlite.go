package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"

	"github.com/aihub/knowledge-engine/internal/config"
	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/knowledge"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var registerOnce sync.Once

// RegisterVectorFunctions 在驱动上注册vec_l2标量函数。
// 必须在任何连接打开之前调用，之后打开的连接都能使用该函数。
func RegisterVectorFunctions() {
	registerOnce.Do(func() {
		if err := sqlite.RegisterDeterministicScalarFunction("vec_l2", 2, vecL2Impl); err != nil {
			logger.Warn("注册vec_l2函数失败", zap.Error(err))
		}
	})
}

func vecL2Impl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_l2: expected 2 arguments, got %d", len(args))
	}
	a, err := blobToVector(args[0])
	if err != nil {
		return nil, err
	}
	b, err := blobToVector(args[1])
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, nil
	}
	if len(a) != len(b) {
		return nil, fmt.Errorf("vec_l2: dim mismatch %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

func blobToVector(arg driver.Value) ([]float32, error) {
	switch v := arg.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return knowledge.DecodeVector(v)
	default:
		return nil, fmt.Errorf("vec_l2: unsupported argument type %T, want BLOB", arg)
	}
}

// Open 打开嵌入式存储：建目录、注册向量函数、设置连接池并执行迁移
func Open(cfg config.StorageConfig) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.NewConnectionError("failed to create storage directory", err)
		}
	}

	RegisterVectorFunctions()

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.NewConnectionError("failed to open sqlite database", err)
	}

	maxConn := cfg.MaxOpenConn
	if maxConn <= 0 {
		maxConn = 10
	}
	db.SetMaxOpenConns(maxConn)
	db.SetMaxIdleConns(maxConn)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewConnectionError("failed to ping sqlite database", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("嵌入式存储已就绪",
		zap.String("path", cfg.Path),
		zap.Int("max_open_conn", maxConn))
	return db, nil
}

// Migrate 执行嵌入的SQL迁移
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return apperrors.NewQueryError("failed to load migrations", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return apperrors.NewQueryError("failed to init migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", dbDriver)
	if err != nil {
		return apperrors.NewQueryError("failed to init migrator", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.NewQueryError("failed to apply migrations", err)
	}
	return nil
}

// SeedEmbeddingModels 将模型目录写入embedding_models表，已存在的条目覆盖
func SeedEmbeddingModels(ctx context.Context, db *sql.DB, catalog []models.EmbeddingModel) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewQueryError("failed to begin seed transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_models (id, name, dimensions, max_tokens, chunk_size, chunk_overlap, threshold, query_instruction)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			dimensions = excluded.dimensions,
			max_tokens = excluded.max_tokens,
			chunk_size = excluded.chunk_size,
			chunk_overlap = excluded.chunk_overlap,
			threshold = excluded.threshold,
			query_instruction = excluded.query_instruction`)
	if err != nil {
		return apperrors.NewQueryError("failed to prepare seed statement", err)
	}
	defer stmt.Close()

	for _, m := range catalog {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Name, m.Dimensions, m.MaxTokens,
			m.ChunkSize, m.ChunkOverlap, m.Threshold, m.QueryInstruction); err != nil {
			return apperrors.NewQueryError("failed to seed embedding model "+m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to commit seed transaction", err)
	}
	return nil
}

// GetConfigValue 读取system_config配置项
func GetConfigValue(ctx context.Context, db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, "SELECT value FROM system_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NewNotFoundError("config key", key)
	}
	if err != nil {
		return "", apperrors.NewQueryError("failed to read system config", err)
	}
	return value, nil
}

// SetConfigValue 写入system_config配置项
func SetConfigValue(ctx context.Context, db *sql.DB, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return apperrors.NewQueryError("failed to write system config", err)
	}
	return nil
}

// Reset 清空全部业务数据，保留表结构和系统配置默认值
func Reset(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewQueryError("failed to begin reset transaction", err)
	}
	defer tx.Rollback()

	tables := []string{"knowledge_vectors", "chunks", "documents", "collections", "search_history"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return apperrors.NewQueryError("failed to clear table "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryError("failed to commit reset transaction", err)
	}

	logger.Warn("知识库数据已重置")
	return nil
}
