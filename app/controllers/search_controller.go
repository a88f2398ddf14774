package controllers

import (
	"net/http"

	"github.com/aihub/knowledge-engine/internal/models"
)

// SearchController 语义检索接口
type SearchController struct {
	BaseController
}

// Search 单集合检索
func (c *SearchController) Search() {
	var req models.SearchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if id := c.Ctx.Input.Param(":id"); id != "" {
		req.CollectionID = id
	}

	resp, err := searchSvc.Search(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(resp)
}

// SearchAll 全集合扇出检索
func (c *SearchController) SearchAll() {
	var req models.SearchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := searchSvc.SearchAllCollections(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(results)
}

// History 最近搜索历史
func (c *SearchController) History() {
	limit, _ := c.GetInt("limit", 50)

	history, err := searchSvc.History(c.Ctx.Request.Context(), limit)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(history)
}
