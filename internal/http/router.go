package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/servicedesk_bot/backend/internal/config"
	"github.com/servicedesk_bot/backend/internal/http/handlers"
	"github.com/servicedesk_bot/backend/internal/http/middleware"

	_ "github.com/servicedesk_bot/backend/docs"
)

// Deps are the collaborators the HTTP surface talks to.
type Deps struct {
	Chats   handlers.ChatHandler
	Drafts  handlers.DraftReader
	History handlers.HistoryStats
	Bans    handlers.BanAdmin
	Catalog handlers.CatalogReloader
}

func Router(cfg config.Config, deps Deps, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.OTELEnabled {
		r.Use(otelgin.Middleware(cfg.OTELServiceName))
	}
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id", "X-Skip-Reason"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Chats:          deps.Chats,
		Drafts:         deps.Drafts,
		History:        deps.History,
		Bans:           deps.Bans,
		Catalog:        deps.Catalog,
		Validator:      validator.New(),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
	}

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/messages", h.PostMessage)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.GET("/chats/stats", h.ChatStats)
		admin.GET("/chats/:id/draft", h.GetDraft)
		admin.POST("/chats/:id/reset", h.ResetChat)
		admin.DELETE("/chats/:id/ban", h.Unban)
		admin.POST("/catalog/reload", h.ReloadCatalog)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
