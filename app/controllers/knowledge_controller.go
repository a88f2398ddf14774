package controllers

import (
	"net/http"

	"github.com/aihub/knowledge-engine/internal/models"
)

// KnowledgeController 集合与模型目录接口
type KnowledgeController struct {
	BaseController
}

// Create 创建集合
func (c *KnowledgeController) Create() {
	var req models.CreateCollectionRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	col, err := knowledgeSvc.CreateCollection(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSON(http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    col,
	})
}

// List 列出集合
func (c *KnowledgeController) List() {
	collections, err := knowledgeSvc.ListCollections(c.Ctx.Request.Context())
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(collections)
}

// Get 获取单个集合
func (c *KnowledgeController) Get() {
	id := c.Ctx.Input.Param(":id")

	col, err := knowledgeSvc.GetCollection(c.Ctx.Request.Context(), id)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(col)
}

// Delete 删除集合（级联）
func (c *KnowledgeController) Delete() {
	id := c.Ctx.Input.Param(":id")

	if err := knowledgeSvc.DeleteCollection(c.Ctx.Request.Context(), id); err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]string{"deleted": id})
}

// Stats 集合统计
func (c *KnowledgeController) Stats() {
	id := c.Ctx.Input.Param(":id")

	stats, err := knowledgeSvc.CollectionStats(c.Ctx.Request.Context(), id)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(stats)
}

// ListModels 模型目录
func (c *KnowledgeController) ListModels() {
	c.JSONSuccess(knowledgeSvc.ListModels())
}

// GetModel 单个模型信息。模型ID含斜杠，用通配段接收。
func (c *KnowledgeController) GetModel() {
	id := c.Ctx.Input.Param(":splat")

	m, err := knowledgeSvc.DescribeModel(id)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(m)
}
