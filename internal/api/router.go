package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jar-analysis/jar-analysis-go/internal/api/handlers"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/middleware"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
	"github.com/sirupsen/logrus"
)

// Version 服务版本
const Version = "1.0.0"

// RouterDeps 路由依赖，可选项为 nil 时对应端点不注册或降级
type RouterDeps struct {
	Config      *config.Config
	Logger      *logrus.Logger
	ScanService service.ScanService
	Publisher   queue.Publisher               // 可选，异步扫描
	Metrics     *middleware.PrometheusMetrics // 可选
	Memory      *middleware.MemoryMonitor     // 可选
	Live        *handlers.LiveHandler         // 可选，实时推送
	Ready       func(ctx context.Context) error
}

func SetupRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	logger := deps.Logger

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware())
		r.GET("/metrics/prometheus", deps.Metrics.Handler())
	}
	if deps.Memory != nil {
		r.GET("/metrics", deps.Memory.MetricsEndpoint())
	}
	if deps.Live != nil {
		r.GET("/ws/scans", deps.Live.HandleWebSocket)
	}

	scanHandler := handlers.NewScanHandler(deps.ScanService, deps.Publisher, cfg.JarDir, cfg.Loader.MaxArchiveBytes, logger)
	threatHandler := handlers.NewThreatHandler(deps.ScanService, logger)

	v1 := r.Group("/api")
	{
		v1.GET("/health", func(c *gin.Context) {
			if deps.Ready != nil {
				ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
				defer cancel()
				if err := deps.Ready(ctx); err != nil {
					c.JSON(http.StatusServiceUnavailable, gin.H{
						"status": "degraded",
						"error":  err.Error(),
					})
					return
				}
			}
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": Version,
			})
		})

		v1.GET("/stats", scanHandler.GetStats)

		// 扫描
		v1.POST("/scans", scanHandler.Submit)
		v1.POST("/scans/async", scanHandler.SubmitAsync)
		v1.GET("/scans", scanHandler.ListScans)
		v1.GET("/scans/export", scanHandler.ExportFeatures) // 必须在 :id 之前
		v1.GET("/scans/hash/:hash", scanHandler.GetLatestByHash)
		v1.GET("/scans/:id", scanHandler.GetScan)

		// 已知样本
		v1.GET("/threats", threatHandler.ListThreats)
		v1.GET("/threats/:hash", threatHandler.GetThreat)
		v1.PUT("/threats/:hash", middleware.AdminAuth(cfg.Server.AdminToken), threatHandler.OverrideThreat)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
