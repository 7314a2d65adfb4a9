package handler

import (
	"io"

	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/interfaces/http/dto"
	"z-novel-canon-api/pkg/logger"
)

// SeriesHandler 系列处理器
type SeriesHandler struct {
	svc *canon.Service
}

// NewSeriesHandler 创建系列处理器
func NewSeriesHandler(svc *canon.Service) *SeriesHandler {
	return &SeriesHandler{svc: svc}
}

// ListSeries 获取系列列表
// @Summary 获取系列列表
// @Tags Series
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[dto.SeriesListResponse]
// @Router /v1/series [get]
func (h *SeriesHandler) ListSeries(c *gin.Context) {
	page := dto.BindPage(c)

	result, err := h.svc.ListSeries(c.Request.Context(), page.Pagination())
	if err != nil {
		respondError(c, err, "failed to list series")
		return
	}

	meta := dto.NewPageMeta(page.Page, page.PageSize, int(result.Total))
	dto.SuccessWithPage(c, dto.SeriesListResponse{Series: result.Items}, meta)
}

// CreateSeries 创建系列
// @Summary 创建系列
// @Description 创建系列并写入系列级默认锁定规则
// @Tags Series
// @Accept json
// @Produce json
// @Param body body dto.CreateSeriesRequest true "系列信息"
// @Success 201 {object} dto.Response[entity.Series]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/series [post]
func (h *SeriesHandler) CreateSeries(c *gin.Context) {
	var req dto.CreateSeriesRequest
	if !bindJSON(c, &req) {
		return
	}

	series, err := h.svc.CreateSeries(c.Request.Context(), req.ToSeriesEntity())
	if err != nil {
		respondError(c, err, "failed to create series")
		return
	}

	logger.Info(logger.WithSeries(c.Request.Context(), series.ID), "series created", "title", series.Title)
	dto.Created(c, series)
}

// GetSeries 获取系列详情
// @Summary 获取系列详情
// @Tags Series
// @Produce json
// @Param sid path string true "系列 ID"
// @Success 200 {object} dto.Response[entity.Series]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/series/{sid} [get]
func (h *SeriesHandler) GetSeries(c *gin.Context) {
	series, err := h.svc.GetSeries(c.Request.Context(), dto.BindSeriesID(c))
	if err != nil {
		respondError(c, err, "failed to get series")
		return
	}
	dto.Success(c, series)
}

// UpdateSeries 更新系列
// @Summary 更新系列
// @Tags Series
// @Accept json
// @Produce json
// @Param sid path string true "系列 ID"
// @Param body body dto.UpdateSeriesRequest true "更新内容"
// @Success 200 {object} dto.Response[entity.Series]
// @Router /v1/series/{sid} [put]
func (h *SeriesHandler) UpdateSeries(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.UpdateSeriesRequest
	if !bindJSON(c, &req) {
		return
	}

	series, err := h.svc.GetSeries(ctx, dto.BindSeriesID(c))
	if err != nil {
		respondError(c, err, "failed to get series")
		return
	}
	req.ApplyTo(series)

	updated, err := h.svc.UpdateSeries(ctx, series)
	if err != nil {
		respondError(c, err, "failed to update series")
		return
	}
	dto.Success(c, updated)
}

// PatchSeries 以 JSON Patch 更新系列
// @Summary 以 JSON Patch 更新系列
// @Description 仅支持 add/replace，路径限于 /title /genre /target_book_count /config/tone /config/pacing
// @Tags Series
// @Accept json-patch+json
// @Produce json
// @Param sid path string true "系列 ID"
// @Success 200 {object} dto.Response[entity.Series]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/series/{sid} [patch]
func (h *SeriesHandler) PatchSeries(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		dto.BadRequest(c, "failed to read request body")
		return
	}

	series, err := h.svc.GetSeries(ctx, dto.BindSeriesID(c))
	if err != nil {
		respondError(c, err, "failed to get series")
		return
	}
	if err := dto.ApplySeriesPatch(series, body); err != nil {
		dto.BadRequest(c, err.Error())
		return
	}

	updated, err := h.svc.UpdateSeries(ctx, series)
	if err != nil {
		respondError(c, err, "failed to update series")
		return
	}
	dto.Success(c, updated)
}

// GetState 截至某卷的状态快照
// @Summary 状态快照
// @Description 重建截至第 book 卷末的权威状态；book 缺省为系列最新卷
// @Tags Series
// @Produce json
// @Param sid path string true "系列 ID"
// @Param book query int false "卷号"
// @Success 200 {object} dto.Response[statestore.StateSnapshot]
// @Router /v1/series/{sid}/state [get]
func (h *SeriesHandler) GetState(c *gin.Context) {
	ctx := c.Request.Context()
	seriesID := dto.BindSeriesID(c)

	book := dto.BindBook(c)
	if book <= 0 {
		series, err := h.svc.GetSeries(ctx, seriesID)
		if err != nil {
			respondError(c, err, "failed to get series")
			return
		}
		book = series.TargetBookCount
	}

	snapshot, err := h.svc.GetState(ctx, seriesID, book)
	if err != nil {
		respondError(c, err, "failed to reconstruct state")
		return
	}
	dto.Success(c, snapshot)
}
