package controller

import (
	"errors"

	"edurank_backend/internal/service"
	"edurank_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type LearnerController struct {
	Aggregates *service.AggregateService
}

func NewLearnerController(aggregates *service.AggregateService) *LearnerController {
	return &LearnerController{Aggregates: aggregates}
}

// @Summary 获取学员聚合视图
// @Description 获取学员的全局汇总、各单元/学科KPI及学科位次历史
// @Tags 学员
// @Produce json
// @Security BearerAuth
// @Param learnerId path string true "学员ID"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/learners/{learnerId}/aggregate [get]
func (c *LearnerController) GetAggregate(ctx *gin.Context) {
	learnerID := ctx.Param("learnerId")

	view, err := c.Aggregates.GetLearnerAggregate(ctx.Request.Context(), learnerID)
	if err != nil {
		if errors.Is(err, util.ErrLearnerNotFound) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, view)
}
