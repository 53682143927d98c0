package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edurank_backend/internal/config"
	"edurank_backend/internal/controller"
	"edurank_backend/internal/repository"
	"edurank_backend/internal/service"
	"edurank_backend/pkg/database"
	"edurank_backend/pkg/logger"
	"edurank_backend/pkg/monitoring"
	"edurank_backend/pkg/security"
	"edurank_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Live     *config.Store
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
}

type repositories struct {
	roster    *repository.RosterRepository
	aggregate *repository.AggregateRepository
	history   *repository.PositionHistoryRepository
}

type services struct {
	storage  *service.StorageService
	bulk     *service.BulkWriteService
	history  *service.PositionHistoryService
	ranking  *service.RankingService
	worker   *service.RankingWorker
	updater  *service.KPIUpdaterService
	views    *service.AggregateService
	exporter *service.ReportExportService
}

type controllers struct {
	event   *controller.EventController
	learner *controller.LearnerController
	ranking *controller.RankingController
	admin   *controller.AdminController
	health  *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		roster:    repository.NewRosterRepository(db),
		aggregate: repository.NewAggregateRepository(db),
		history:   repository.NewPositionHistoryRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.bulk = service.NewBulkWriteService(db, cfg.Bulk)
	s.history = service.NewPositionHistoryService(repos.history)
	s.ranking = service.NewRankingService(repos.aggregate, repos.roster, s.history, s.bulk, rdb, cfg.Ranking)
	s.worker = service.NewRankingWorker(s.ranking, repos.aggregate, cfg.Ranking)
	s.updater = service.NewKPIUpdaterService(repos.aggregate, repos.roster, s.bulk, s.worker)
	s.views = service.NewAggregateService(repos.aggregate, repos.roster, s.history)
	s.exporter = service.NewReportExportService(s.ranking, s.storage)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		event:   controller.NewEventController(s.updater),
		learner: controller.NewLearnerController(s.views),
		ranking: controller.NewRankingController(s.ranking, s.exporter, repos.roster),
		admin:   controller.NewAdminController(s.bulk, repos.roster),
		health:  controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	// 中间件从请求上下文取配置；每个请求读当前生效的快照，
	// 热更新替换快照时在途请求不受影响
	router.Use(func(c *gin.Context) {
		c.Set("config", a.Live.Load())
		c.Next()
	})

	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 10000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.MigrateOnStartup())
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Redis 只承载排名表缓存，连不上时降级为直查数据库
		logger.Log.Warn("Redis unavailable, ranking cache disabled", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		Live:   config.NewStore(cfg),
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, repos, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("edurank-backend", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers)

	if cfg.Storage.Type == "local" {
		router.Static("/exports", cfg.Storage.LocalPath)
	}

	services.worker.Start()

	return app
}

// ReloadConfig 热更新：整体替换配置快照，按请求读取的项（JWT密钥、管理密钥哈希等）
// 下一个请求即生效；启动期一次性项（端口、数据库连接、中间件参数）仍需重启
func (a *App) ReloadConfig(cfg *config.Config) {
	a.Live.Replace(cfg)
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 先停排名调度器，把队列里已确认的任务跑完
	if a.services != nil && a.services.worker != nil {
		a.services.worker.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}
