package controller

import (
	"errors"
	"strconv"

	"edurank_backend/internal/repository"
	"edurank_backend/internal/service"
	"edurank_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type RankingController struct {
	Ranking    *service.RankingService
	Exporter   *service.ReportExportService
	RosterRepo *repository.RosterRepository
}

func NewRankingController(
	ranking *service.RankingService,
	exporter *service.ReportExportService,
	rosterRepo *repository.RosterRepository,
) *RankingController {
	return &RankingController{Ranking: ranking, Exporter: exporter, RosterRepo: rosterRepo}
}

// @Summary 获取单元排名表
// @Description 获取某学习单元在机构内的全员排名，未传机构时从单元归属学员解析
// @Tags 排名
// @Produce json
// @Security BearerAuth
// @Param unitId path string true "单元ID"
// @Param institutionId query string false "机构ID"
// @Param limit query int false "返回条数上限" default(0)
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/rankings/units/{unitId} [get]
func (c *RankingController) GetUnitRanking(ctx *gin.Context) {
	unitID := ctx.Param("unitId")
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "0"))

	institutionID := ctx.Query("institutionId")
	if institutionID == "" {
		id, err := c.resolveUnitInstitution(unitID)
		if err != nil {
			if errors.Is(err, util.ErrUnitNotFound) || errors.Is(err, util.ErrLearnerNotFound) {
				util.NotFound(ctx)
				return
			}
			util.LogInternalError(ctx, err)
			return
		}
		institutionID = id
	}

	snapshot, err := c.Ranking.GetRankingTable(ctx.Request.Context(), service.ScopeUnit, unitID, institutionID, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, snapshot)
}

// @Summary 获取学科排名表
// @Description 获取某学科在指定机构内的全员排名
// @Tags 排名
// @Produce json
// @Security BearerAuth
// @Param subjectId path string true "学科ID"
// @Param institutionId query string true "机构ID"
// @Param limit query int false "返回条数上限" default(0)
// @Success 200 {object} util.Response
// @Failure 400 {object} util.Response
// @Router /api/rankings/subjects/{subjectId} [get]
func (c *RankingController) GetSubjectRanking(ctx *gin.Context) {
	subjectID := ctx.Param("subjectId")
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "0"))

	institutionID := ctx.Query("institutionId")
	if institutionID == "" {
		util.BadRequest(ctx, "institutionId is required")
		return
	}

	snapshot, err := c.Ranking.GetRankingTable(ctx.Request.Context(), service.ScopeSubject, subjectID, institutionID, limit)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, snapshot)
}

// @Summary 导出单元排名表CSV
// @Description 把单元当前排名表导出为CSV文件，返回文件访问路径
// @Tags 排名
// @Produce json
// @Security BearerAuth
// @Param unitId path string true "单元ID"
// @Param institutionId query string false "机构ID"
// @Success 200 {object} util.Response
// @Router /api/rankings/units/{unitId}/export [get]
func (c *RankingController) ExportUnitRanking(ctx *gin.Context) {
	unitID := ctx.Param("unitId")

	institutionID := ctx.Query("institutionId")
	if institutionID == "" {
		id, err := c.resolveUnitInstitution(unitID)
		if err != nil {
			util.NotFound(ctx)
			return
		}
		institutionID = id
	}

	c.export(ctx, service.ScopeUnit, unitID, institutionID)
}

// @Summary 导出学科排名表CSV
// @Description 把学科当前排名表导出为CSV文件，返回文件访问路径
// @Tags 排名
// @Produce json
// @Security BearerAuth
// @Param subjectId path string true "学科ID"
// @Param institutionId query string true "机构ID"
// @Success 200 {object} util.Response
// @Router /api/rankings/subjects/{subjectId}/export [get]
func (c *RankingController) ExportSubjectRanking(ctx *gin.Context) {
	institutionID := ctx.Query("institutionId")
	if institutionID == "" {
		util.BadRequest(ctx, "institutionId is required")
		return
	}
	c.export(ctx, service.ScopeSubject, ctx.Param("subjectId"), institutionID)
}

func (c *RankingController) export(ctx *gin.Context, scopeKind, scopeID, institutionID string) {
	url, err := c.Exporter.ExportRankingCSV(ctx.Request.Context(), scopeKind, scopeID, institutionID)
	if err != nil {
		if errors.Is(err, util.ErrScopeEmpty) {
			util.NotFound(ctx)
			return
		}
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"url": url})
}

func (c *RankingController) resolveUnitInstitution(unitID string) (string, error) {
	unit, err := c.RosterRepo.FindUnit(unitID)
	if err != nil {
		return "", err
	}
	learner, err := c.RosterRepo.FindLearner(unit.OwnerID)
	if err != nil {
		return "", err
	}
	return learner.InstitutionID, nil
}
