package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h *Handlers) {
	// 系列
	series := v1.Group("/series")
	{
		series.GET("", h.Series.ListSeries)
		series.POST("", h.Series.CreateSeries)
		series.GET("/:sid", h.Series.GetSeries)
		series.PUT("/:sid", h.Series.UpdateSeries)
		series.PATCH("/:sid", h.Series.PatchSeries)
		series.GET("/:sid/state", h.Series.GetState)

		// 系列下的角色与世界元素
		series.GET("/:sid/characters", h.Character.ListCharacters)
		series.POST("/:sid/characters", h.Character.CreateCharacter)
		series.GET("/:sid/world-elements", h.Character.ListWorldElements)
		series.POST("/:sid/world-elements", h.Character.CreateWorldElement)

		// 设定规则
		series.GET("/:sid/rules", h.Rule.ListRules)
		series.POST("/:sid/rules", h.Rule.DefineRule)

		// 校验与提交
		series.POST("/:sid/validate", h.Continuity.Validate)
		series.POST("/:sid/commit", h.Continuity.Commit)
		series.GET("/:sid/violations", h.Continuity.ListViolations)

		// 故事线
		series.GET("/:sid/arcs", h.Arc.ListArcs)
		series.POST("/:sid/arcs", h.Arc.CreateArc)

		// 修订
		series.POST("/:sid/revisions/plan", h.Revision.Plan)
		series.POST("/:sid/revisions/apply", h.Revision.Apply)

		// 生成上下文
		series.POST("/:sid/context", h.Context.Compile)
	}

	characters := v1.Group("/characters")
	{
		characters.GET("/:cid", h.Character.GetCharacter)
		characters.GET("/:cid/timeline", h.Character.GetTimeline)
	}

	v1.PATCH("/violations/:vid", h.Continuity.UpdateViolation)
	v1.PATCH("/arcs/:aid", h.Arc.UpdateArc)
}
