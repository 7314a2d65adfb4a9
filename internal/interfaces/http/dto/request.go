// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/domain/repository"
)

// IdempotencyKeyHeader 修订应用的幂等键请求头
const IdempotencyKeyHeader = "Idempotency-Key"

// PageRequest 分页请求参数
type PageRequest struct {
	Page     int `form:"page" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

// Normalize 规范化分页参数
func (r *PageRequest) Normalize() {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize < 1 {
		r.PageSize = 20
	}
	if r.PageSize > 100 {
		r.PageSize = 100
	}
}

// Pagination 转换为仓储分页参数
func (r PageRequest) Pagination() repository.Pagination {
	return repository.NewPagination(r.Page, r.PageSize)
}

// BindPage 从 Gin Context 绑定分页参数
func BindPage(c *gin.Context) PageRequest {
	req := PageRequest{
		Page:     parseIntWithDefault(c.Query("page"), 1),
		PageSize: parseIntWithDefault(c.Query("page_size"), 20),
	}
	req.Normalize()
	return req
}

// parseIntWithDefault 解析整数，失败时返回默认值
func parseIntWithDefault(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// BindSeriesID 从 URI 绑定系列 ID
func BindSeriesID(c *gin.Context) string {
	return c.Param("sid")
}

// BindCharacterID 从 URI 绑定角色 ID
func BindCharacterID(c *gin.Context) string {
	return c.Param("cid")
}

// BindViolationID 从 URI 绑定违规 ID
func BindViolationID(c *gin.Context) string {
	return c.Param("vid")
}

// BindArcID 从 URI 绑定故事线 ID
func BindArcID(c *gin.Context) string {
	return c.Param("aid")
}

// BindActor 请求操作者，由 RequestID 中间件写入
func BindActor(c *gin.Context) string {
	return c.GetString("actor")
}

// BindBook 解析 book 查询参数；缺省或非法时返回 0
func BindBook(c *gin.Context) int {
	return parseIntWithDefault(c.Query("book"), 0)
}

// BindViolationFilter 解析违规过滤条件，status 支持逗号分隔多值
func BindViolationFilter(c *gin.Context) *repository.ViolationFilter {
	filter := &repository.ViolationFilter{
		Severity:         entity.Severity(c.Query("severity")),
		RuleID:           c.Query("rule_id"),
		OffendingFactRef: c.Query("fact_ref"),
		SubjectID:        c.Query("subject_id"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, entity.ViolationStatus(s))
			}
		}
	}
	return filter
}
