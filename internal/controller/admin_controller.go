package controller

import (
	"edurank_backend/internal/model"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/service"
	"edurank_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type AdminController struct {
	Bulk       *service.BulkWriteService
	RosterRepo *repository.RosterRepository
}

func NewAdminController(bulk *service.BulkWriteService, rosterRepo *repository.RosterRepository) *AdminController {
	return &AdminController{Bulk: bulk, RosterRepo: rosterRepo}
}

// BulkRosterRequest 批量名册同步负载
type BulkRosterRequest struct {
	Learners []model.Learner `json:"learners"`
	Units    []model.Unit    `json:"units"`
	Subjects []model.Subject `json:"subjects"`
}

// @Summary 批量名册同步
// @Description 批量写入学员/单元/学科，按存储限制自动分块提交，返回"N of M"执行结果
// @Tags 管理
// @Accept json
// @Produce json
// @Param X-Admin-Key header string true "管理密钥"
// @Param payload body BulkRosterRequest true "名册数据"
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/admin/bulk [post]
func (c *AdminController) BulkUpsert(ctx *gin.Context) {
	var req BulkRosterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, "Invalid bulk payload")
		return
	}

	ops := make([]service.WriteOp, 0, len(req.Subjects)+len(req.Learners)+len(req.Units))
	// 学科先于单元写入，单元的学科外键才能解析
	for i := range req.Subjects {
		ops = append(ops, service.WriteOp{Kind: service.OpPut, Entity: &req.Subjects[i]})
	}
	for i := range req.Learners {
		ops = append(ops, service.WriteOp{Kind: service.OpPut, Entity: &req.Learners[i]})
	}
	for i := range req.Units {
		ops = append(ops, service.WriteOp{Kind: service.OpPut, Entity: &req.Units[i]})
	}

	result := c.Bulk.Execute(ctx.Request.Context(), ops, nil)
	util.Success(ctx, result)
}

// @Summary 注册学员
// @Tags 管理
// @Accept json
// @Produce json
// @Param X-Admin-Key header string true "管理密钥"
// @Param learner body model.Learner true "学员"
// @Success 201 {object} util.Response
// @Router /api/admin/learners [post]
func (c *AdminController) UpsertLearner(ctx *gin.Context) {
	var learner model.Learner
	if err := ctx.ShouldBindJSON(&learner); err != nil {
		util.BadRequest(ctx, "Invalid learner payload")
		return
	}
	if err := c.RosterRepo.UpsertLearner(&learner); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, learner)
}

// @Summary 注册学习单元
// @Tags 管理
// @Accept json
// @Produce json
// @Param X-Admin-Key header string true "管理密钥"
// @Param unit body model.Unit true "学习单元"
// @Success 201 {object} util.Response
// @Router /api/admin/units [post]
func (c *AdminController) UpsertUnit(ctx *gin.Context) {
	var unit model.Unit
	if err := ctx.ShouldBindJSON(&unit); err != nil {
		util.BadRequest(ctx, "Invalid unit payload")
		return
	}
	if err := c.RosterRepo.UpsertUnit(&unit); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, unit)
}

// @Summary 注册学科
// @Tags 管理
// @Accept json
// @Produce json
// @Param X-Admin-Key header string true "管理密钥"
// @Param subject body model.Subject true "学科"
// @Success 201 {object} util.Response
// @Router /api/admin/subjects [post]
func (c *AdminController) UpsertSubject(ctx *gin.Context) {
	var subject model.Subject
	if err := ctx.ShouldBindJSON(&subject); err != nil {
		util.BadRequest(ctx, "Invalid subject payload")
		return
	}
	if err := c.RosterRepo.UpsertSubject(&subject); err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Created(ctx, subject)
}
