package bootstrap

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/app/controllers"
	"github.com/aihub/knowledge-engine/internal/config"
	"github.com/aihub/knowledge-engine/internal/di"
	"github.com/aihub/knowledge-engine/internal/knowledge"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/services"
	"github.com/aihub/knowledge-engine/internal/storage"
)

// App 持有需要在关停时清理的资源
type App struct {
	db *sql.DB
}

// Init 引导配置、日志、存储与依赖注入容器，并注入控制器服务句柄
func Init() (*App, error) {
	// .env 不存在不是错误
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	di.InitContainer()
	if err := di.RegisterProviders(cfg); err != nil {
		return nil, err
	}

	app := &App{}
	err = di.Invoke(func(
		db *sql.DB,
		registry *knowledge.ModelRegistry,
		knowledgeSvc *services.KnowledgeService,
		documentSvc *services.DocumentService,
		searchSvc *services.SearchService,
	) error {
		// 模型目录启动时校验并落库
		if err := registry.Validate(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := storage.SeedEmbeddingModels(ctx, db, registry.List()); err != nil {
			return err
		}

		app.db = db
		controllers.Init(knowledgeSvc, documentSvc, searchSvc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("引导完成",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.Bool("qdrant", cfg.Qdrant.Enabled))
	return app, nil
}

// Shutdown 释放资源
func (a *App) Shutdown() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Error("关闭存储失败", zap.Error(err))
		}
	}
	logger.Sync()
}
