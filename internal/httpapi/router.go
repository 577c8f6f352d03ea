package httpapi

import (
	"github.com/gin-gonic/gin"

	"ragkb/internal/logger"
)

type RouterConfig struct {
	Handler *Handler
	Log     *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(cfg.Log))
	router.Use(CORS())
	router.MaxMultipartMemory = 32 << 20

	router.GET("/healthz", cfg.Handler.Health)
	api := router.Group("/api")
	{
		api.GET("/stats", cfg.Handler.Stats)
		api.POST("/ingest", cfg.Handler.Ingest)
		api.POST("/query", cfg.Handler.Query)
		api.POST("/reset", cfg.Handler.Reset)
	}
	return router
}
