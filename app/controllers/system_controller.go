package controllers

import (
	"net/http"

	"github.com/aihub/knowledge-engine/internal/models"
)

// SystemController 健康检查与系统运维接口
type SystemController struct {
	BaseController
}

// Health 存储健康探测
func (c *SystemController) Health() {
	health, err := knowledgeSvc.HealthCheck(c.Ctx.Request.Context())
	if err != nil {
		c.JSONAppError(err)
		return
	}

	status := http.StatusOK
	if !health.MetadataOK || !health.VectorOK || !health.DistanceFnOK {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, map[string]interface{}{
		"success": status == http.StatusOK,
		"data":    health,
	})
}

// Status 系统状态汇总
func (c *SystemController) Status() {
	status, err := knowledgeSvc.SystemStatus(c.Ctx.Request.Context())
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(status)
}

// GetConfig 读取系统配置项
func (c *SystemController) GetConfig() {
	key := c.Ctx.Input.Param(":key")

	value, err := knowledgeSvc.GetConfig(c.Ctx.Request.Context(), key)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]string{"key": key, "value": value})
}

// SetConfig 写入系统配置项
func (c *SystemController) SetConfig() {
	var req models.SetConfigRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	if err := knowledgeSvc.SetConfig(c.Ctx.Request.Context(), req); err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]string{"key": req.Key, "value": req.Value})
}

// Reset 清空知识库数据
func (c *SystemController) Reset() {
	if err := knowledgeSvc.Reset(c.Ctx.Request.Context()); err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]string{"status": "reset"})
}
