package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aihub/knowledge-engine/app/controllers"
	"github.com/aihub/knowledge-engine/internal/config"
)

// Init 注册全部路由，必须在bootstrap完成后调用
func Init() {
	systemController := &controllers.SystemController{}
	web.Router("/health", systemController, "get:Health")
	web.Router("/api/system/status", systemController, "get:Status")
	web.Router("/api/system/config/:key", systemController, "get:GetConfig")
	web.Router("/api/system/config", systemController, "put:SetConfig")
	web.Router("/api/system/reset", systemController, "post:Reset")

	knowledgeController := &controllers.KnowledgeController{}
	web.Router("/api/collections", knowledgeController, "get:List;post:Create")
	// 具体路由要在参数路由之前注册
	web.Router("/api/models", knowledgeController, "get:ListModels")
	web.Router("/api/models/*", knowledgeController, "get:GetModel")
	web.Router("/api/collections/:id", knowledgeController, "get:Get;delete:Delete")
	web.Router("/api/collections/:id/stats", knowledgeController, "get:Stats")

	documentController := &controllers.DocumentController{}
	web.Router("/api/collections/:id/documents", documentController, "get:List;post:Process")
	web.Router("/api/documents/:doc_id", documentController, "get:Get;delete:Delete")

	searchController := &controllers.SearchController{}
	web.Router("/api/collections/:id/search", searchController, "post:Search")
	web.Router("/api/search", searchController, "post:SearchAll")
	web.Router("/api/search/history", searchController, "get:History")

	if config.AppConfig != nil && config.AppConfig.Telemetry.MetricsEnabled {
		web.Handler("/metrics", promhttp.Handler())
	}
}
