package controllers

import (
	"net/http"

	"github.com/aihub/knowledge-engine/internal/models"
)

// DocumentController 文档入库与管理接口
type DocumentController struct {
	BaseController
}

// Process 文档入库
func (c *DocumentController) Process() {
	var req models.ProcessDocumentRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	req.CollectionID = c.Ctx.Input.Param(":id")

	resp, err := documentSvc.ProcessDocument(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(resp)
}

// List 按集合列出文档
func (c *DocumentController) List() {
	collectionID := c.Ctx.Input.Param(":id")

	docs, err := documentSvc.ListDocuments(c.Ctx.Request.Context(), collectionID)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(docs)
}

// Get 获取单个文档
func (c *DocumentController) Get() {
	id := c.Ctx.Input.Param(":doc_id")

	doc, err := documentSvc.GetDocument(c.Ctx.Request.Context(), id)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(doc)
}

// Delete 删除文档及其分块与向量
func (c *DocumentController) Delete() {
	id := c.Ctx.Input.Param(":doc_id")

	if err := documentSvc.DeleteDocument(c.Ctx.Request.Context(), id); err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]string{"deleted": id})
}
