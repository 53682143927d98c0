package app

import (
	"edurank_backend/docs"
	"edurank_backend/internal/middleware"
	"edurank_backend/internal/model"
	"edurank_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/health", c.health.HealthCheck)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware())
	{
		// 事件摄入：学习/测验子系统以学生或教师身份上报
		authGroup.POST("/events", c.event.SubmitEvent)

		// 看板读取
		authGroup.GET("/learners/:learnerId/aggregate", c.learner.GetAggregate)
		authGroup.GET("/rankings/units/:unitId", c.ranking.GetUnitRanking)
		authGroup.GET("/rankings/subjects/:subjectId", c.ranking.GetSubjectRanking)

		// 导出仅限教师/管理员
		authGroup.GET("/rankings/units/:unitId/export",
			middleware.RoleMiddleware(model.Teacher), c.ranking.ExportUnitRanking)
		authGroup.GET("/rankings/subjects/:subjectId/export",
			middleware.RoleMiddleware(model.Teacher), c.ranking.ExportSubjectRanking)
	}

	// 3. 管理接口：独立API密钥鉴权，供后台作业调用
	adminGroup := router.Group("/api/admin")
	adminGroup.Use(middleware.AdminKeyMiddleware())
	{
		adminGroup.POST("/bulk", c.admin.BulkUpsert)
		adminGroup.POST("/learners", c.admin.UpsertLearner)
		adminGroup.POST("/units", c.admin.UpsertUnit)
		adminGroup.POST("/subjects", c.admin.UpsertSubject)
	}
}
