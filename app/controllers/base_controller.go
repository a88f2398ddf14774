package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	apperrors "github.com/aihub/knowledge-engine/internal/errors"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/services"
)

// 控制器共享的服务句柄，bootstrap完成后注入一次
var (
	knowledgeSvc *services.KnowledgeService
	documentSvc  *services.DocumentService
	searchSvc    *services.SearchService
)

// Init 注入服务实例，必须在路由注册前调用
func Init(k *services.KnowledgeService, d *services.DocumentService, s *services.SearchService) {
	knowledgeSvc = k
	documentSvc = d
	searchSvc = s
}

// BaseController 统一JSON响应的基础控制器
type BaseController struct {
	web.Controller
}

// JSON 按指定状态码输出JSON
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess 输出标准成功信封
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError 输出错误信封
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 按错误类型映射HTTP状态码输出
func (c *BaseController) JSONAppError(err error) {
	appErr := apperrors.GetAppError(err)
	if appErr.HTTPCode >= http.StatusInternalServerError {
		logger.Error("请求处理失败",
			zap.String("path", c.Ctx.Request.RequestURI),
			zap.String("code", string(appErr.Code)),
			zap.Error(err))
	}
	c.JSON(appErr.HTTPCode, map[string]interface{}{
		"success": false,
		"code":    appErr.Code,
		"error":   appErr.Message,
		"details": appErr.Details,
	})
}

// BindJSON 解析请求体JSON
func (c *BaseController) BindJSON(target interface{}) error {
	return json.Unmarshal(c.Ctx.Input.RequestBody, target)
}
