package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tfs-insight/backend/config"
	"tfs-insight/backend/internal/api/handler"
	"tfs-insight/backend/internal/api/middleware"
	"tfs-insight/backend/pkg/redis"
)

// Pinger 健康检查依赖（数据库）
type Pinger interface {
	Ping(ctx context.Context) error
}

// Setup 初始化并返回 Gin 路由引擎
// rdb 为 nil 时限流降级放行
func Setup(cfg *config.Config, h *handler.Handler, db Pinger, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "db": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	uploadLimit := int64(cfg.Server.MaxUploadMB) << 20
	heavy := middleware.RateLimit(rdb, cfg.Server.RateLimit.Requests,
		time.Duration(cfg.Server.RateLimit.WindowSeconds)*time.Second, logger)

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 导入模块
		imports := v1.Group("/imports")
		{
			imports.POST("", middleware.BodyLimit(uploadLimit), heavy, h.Import.Import)
			imports.POST("/preview", middleware.BodyLimit(uploadLimit), heavy, h.Import.Preview)
			imports.GET("", h.Import.ListImports)
			imports.GET("/:id", h.Import.GetImport)
		}

		// 任务模块
		tasks := v1.Group("/tasks")
		tasks.Use(middleware.BodyLimit(1 << 20))
		{
			tasks.GET("", h.Task.ListTasks)
			tasks.GET("/:tfs_id", h.Task.GetTask)
			tasks.PUT("/:tfs_id", h.Task.UpdateTask)
			tasks.DELETE("/:tfs_id", h.Task.DeleteTask)
		}

		v1.GET("/developers", h.Developer.ListDevelopers)

		// 估算引擎
		estimates := v1.Group("/estimates")
		{
			estimates.POST("/calculate", heavy, h.Engine.CalculateEstimates)
			estimates.GET("/preview", h.Engine.PreviewEstimates)
			estimates.POST("/fix-low", heavy, h.Engine.FixLowEstimates)
			estimates.GET("/fix-low/preview", h.Engine.PreviewFixLow)
		}

		// 质量引擎
		quality := v1.Group("/quality")
		{
			quality.POST("/calculate", heavy, h.Engine.CalculateQuality)
			quality.GET("/preview", h.Engine.PreviewQuality)
		}

		reports := v1.Group("/reports")
		{
			reports.GET("/summary", h.Report.Summary)
			reports.GET("/developers", h.Report.Developers)
		}

		v1.GET("/export/tasks", h.Export.ExportTasks)
	}

	return r
}
