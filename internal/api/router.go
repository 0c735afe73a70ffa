package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/handler"
	"github.com/jengzang/fieldscan-backend-go/internal/middleware"
)

// Handlers groups the HTTP handlers mounted by SetupRouter
type Handlers struct {
	Parcels *handler.ParcelHandler
	Jobs    *handler.JobHandler
	Layers  *handler.LayerHandler
	Alerts  *handler.AlertHandler
}

// Job creation is limited per organization
const (
	jobRequestsPerWindow = 30
	jobRequestWindow     = time.Minute
)

// SetupRouter 设置路由
func SetupRouter(cfg *config.Config, h Handlers, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger))

	// CORS 中间件
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Fieldscan API is running",
		})
	})

	limit := middleware.RateLimit(middleware.NewRateLimiter(jobRequestsPerWindow, jobRequestWindow))

	// API 路由组
	api := r.Group("/api/v1", middleware.Auth(cfg.JWTSecret))
	{
		// 地块
		parcels := api.Group("/parcels")
		{
			parcels.POST("", h.Parcels.Create)
			parcels.GET("", h.Parcels.List)
			parcels.GET("/:id", h.Parcels.Get)
			parcels.PUT("/:id/boundary", h.Parcels.UpdateBoundary)
			parcels.GET("/:id/revisions", h.Parcels.Revisions)
			parcels.PUT("/:id/schedule", h.Parcels.UpdateSchedule)

			parcels.POST("/:id/analyses", limit, h.Jobs.CreateAnalysis)
			parcels.GET("/:id/analyses", h.Jobs.ListAnalyses)
			parcels.POST("/:id/exports", limit, h.Jobs.CreateExport)
			parcels.GET("/:id/layers", h.Layers.List)
		}

		api.GET("/analyses/:id", h.Jobs.GetAnalysis)
		api.GET("/exports/:id", h.Jobs.GetExport)

		// 图层与瓦片
		api.GET("/layers/:id/metadata", h.Layers.Metadata)
		api.GET("/layers/:id/download", h.Layers.Download)
		api.GET("/tiles/:id", h.Layers.TileJSON)

		// 告警
		api.GET("/alerts", h.Alerts.List)
		api.POST("/alerts/:id/ack", h.Alerts.Acknowledge)

		api.GET("/flags", h.Alerts.Flags)
		api.PUT("/flags/:key", h.Alerts.SetFlag)
	}

	return r
}
