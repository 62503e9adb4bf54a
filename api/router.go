package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/offline-downloader/api/handlers"
	"github.com/yourusername/offline-downloader/api/middleware"
	"github.com/yourusername/offline-downloader/internal/app"
)

// SetupRouter sets up the HTTP command surface and the event stream
func SetupRouter(registry *app.Registry, hub *handlers.EventHub, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))

	healthHandler := handlers.NewHealthHandler(registry)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Download events toward the host application
	router.GET("/ws/events", hub.HandleWebSocket)

	v1 := router.Group("/api/v1")
	{
		downloadHandler := handlers.NewDownloadHandler(registry, log)
		downloads := v1.Group("/downloads")
		{
			downloads.GET("", downloadHandler.List)
			downloads.GET("/completed", downloadHandler.Completed)
			downloads.POST("/prepare", downloadHandler.Prepare)
			downloads.POST("/start", downloadHandler.Start)
			downloads.POST("/resume", downloadHandler.Resume)
			downloads.POST("/pause", downloadHandler.Pause)
			downloads.POST("/delete", downloadHandler.Delete)
			downloads.POST("/batch-delete", downloadHandler.BatchDelete)
			downloads.POST("/renew", downloadHandler.RenewLicense)
			downloads.PUT("/quality", downloadHandler.SetQuality)
		}
	}

	return router
}
