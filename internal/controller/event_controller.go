package controller

import (
	"errors"

	"edurank_backend/internal/model"
	"edurank_backend/internal/service"
	"edurank_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type EventController struct {
	Updater *service.KPIUpdaterService
}

func NewEventController(updater *service.KPIUpdaterService) *EventController {
	return &EventController{Updater: updater}
}

// @Summary 提交学习事件
// @Description 提交一个测验/引导学习/自由学习事件，增量更新归属学员的KPI聚合
// @Tags 事件
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param event body model.StudyEvent true "学习事件"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/events [post]
func (c *EventController) SubmitEvent(ctx *gin.Context) {
	var event model.StudyEvent
	if err := ctx.ShouldBindJSON(&event); err != nil {
		util.BadRequest(ctx, "Invalid event payload")
		return
	}

	result, err := c.Updater.Apply(ctx.Request.Context(), &event)
	if err != nil {
		if errors.Is(err, model.ErrInvalidEvent) || errors.Is(err, model.ErrInvalidEventType) ||
			errors.Is(err, util.ErrScoreRegression) {
			util.BadRequest(ctx, err.Error())
			return
		}
		util.LogInternalError(ctx, err)
		return
	}

	util.Success(ctx, result)
}
