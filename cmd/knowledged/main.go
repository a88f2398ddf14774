package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/app/bootstrap"
	"github.com/aihub/knowledge-engine/app/router"
	"github.com/aihub/knowledge-engine/internal/config"
	"github.com/aihub/knowledge-engine/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.Init()

	web.BConfig.AppName = "Knowledge Engine"
	web.BConfig.CopyRequestBody = true
	if p, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = p
	}

	logger.Info("启动知识检索服务", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
