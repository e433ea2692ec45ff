package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "live-collab-sync/docs"
	"live-collab-sync/internal/auth"
	"live-collab-sync/internal/config"
	"live-collab-sync/internal/documents"
	"live-collab-sync/internal/middleware"
	"live-collab-sync/internal/revisions"
	"live-collab-sync/internal/shares"
	"live-collab-sync/internal/websocket"
)

type routerDeps struct {
	cfg       *config.Config
	log       zerolog.Logger
	auth      *auth.AuthService
	documents revisions.Store
	shares    shares.Store
	ws        *websocket.WebSocketHandler
	gatherer  prometheus.Gatherer
	ping      func(ctx context.Context) error
}

func corsConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if cfg.AllowsAnyOrigin() {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
		c.AllowCredentials = true
	}
	return c
}

func newRouter(d routerDeps) *gin.Engine {
	documentHandler := &documents.DocumentHandler{
		Store:       d.documents,
		AuthService: d.auth,
		Log:         d.log,
	}
	shareHandler := &shares.ShareHandler{
		Shares:      d.shares,
		Documents:   d.documents,
		AuthService: d.auth,
		BaseURL:     d.cfg.ShareBaseUrl,
		Log:         d.log,
	}
	limiter := middleware.NewRateLimiter(d.cfg.HTTPRate, d.cfg.HTTPBurst)

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(d.log), middleware.Metrics(), cors.New(corsConfig(d.cfg)))

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/ws", d.ws.HandleWebSocket)

	api := router.Group("/", limiter.Middleware())
	api.POST("/register", d.auth.Register)
	api.POST("/login", d.auth.Login)
	api.GET("/api/share/:token", shareHandler.GetShared)

	owner := api.Group("/", d.auth.AuthMiddleware())
	owner.GET("/me", d.auth.Me)
	owner.POST("/documents", documentHandler.Create)
	owner.POST("/shares/:token/toggle", shareHandler.Toggle)
	owner.DELETE("/shares/:token", shareHandler.Revoke)

	document := owner.Group("/documents/:id", documents.DocumentOwnerMiddleware(d.auth, d.documents))
	document.GET("", documentHandler.GetByID)
	document.DELETE("", documentHandler.Delete)
	document.GET("/revisions", documentHandler.Revisions)
	document.POST("/shares", shareHandler.Create)
	document.GET("/shares", shareHandler.List)

	return router
}
