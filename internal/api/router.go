package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/api/handlers"
	"github.com/apk-scanner/apk-scanner-go/internal/config"
	"github.com/apk-scanner/apk-scanner-go/internal/middleware"
	"github.com/apk-scanner/apk-scanner-go/internal/service"
)

// SetupRouter 组装 HTTP 路由
//
// capabilities 为外部工具探测函数表（aapt2/apktool），
// 健康检查时逐个执行并上报可用性。
func SetupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	scanService *service.ScanService,
	promMetrics *middleware.PrometheusMetrics,
	progressHandler *handlers.ProgressHandler,
	capabilities map[string]func() error,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
		r.GET("/metrics", promMetrics.Handler())
	}

	maxFileSizeMB := cfg.Pipeline.MaxFileSizeMB
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = 100
	}
	maxUploadSize := int64(maxFileSizeMB) * 1024 * 1024
	scanHandler := handlers.NewScanHandler(scanService, maxUploadSize, logger)

	// WebSocket 进度推送
	if progressHandler != nil {
		r.GET("/ws/scans/:id", progressHandler.HandleWebSocket)
	}

	v1 := r.Group("/api")
	{
		// 健康检查（含外部工具可用性）
		v1.GET("/health", func(c *gin.Context) {
			caps := gin.H{}
			healthy := true
			for name, probe := range capabilities {
				err := probe()
				caps[name] = err == nil
				if err != nil {
					healthy = false
				}
			}
			status := "ok"
			if !healthy {
				// 工具缺失时服务降级运行，不算不可用
				status = "degraded"
			}
			c.JSON(200, gin.H{
				"status":       status,
				"capabilities": caps,
			})
		})

		// 系统统计
		v1.GET("/stats", scanHandler.GetStats)

		// 扫描任务
		v1.POST("/scans", scanHandler.CreateScan)
		v1.GET("/scans", scanHandler.ListScans)
		v1.GET("/scans/:id", scanHandler.GetScan)
		v1.GET("/scans/:id/report", scanHandler.GetReport)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  method,
			"path":    path,
			"latency": latency.Milliseconds(),
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
