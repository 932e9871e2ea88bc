// Package api assembles the HTTP surface of docgate.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"docgate/internal/access"
	"docgate/internal/api/handler"
	"docgate/internal/api/middleware"
	"docgate/internal/api/websocket"
	"docgate/internal/model"
)

// Deps are the services behind the routes.
type Deps struct {
	DB         *gorm.DB
	Manager    *access.Manager
	Authorizer *access.Authorizer
	Dashboards *access.Dashboards
	Profiles   handler.ProfileCache
	// Documents serves document metadata and is pinged by the detailed
	// health check. Nil when no document repository is configured.
	Documents handler.DocumentSource

	JWTSecret    string
	JWTTTL       time.Duration
	CORSOrigins  []string
	PushInterval time.Duration
	BotToken     func() string
	Clock        clock.Clock
	Logger       zerolog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Logger.With().Str("component", "http").Logger()))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORSMiddleware(d.CORSOrigins))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := r.Group("/api")
	{
		public.POST("/auth/login", handler.Login(d.DB, d.JWTSecret, d.JWTTTL))
		public.GET("/health", handler.Health())
		public.GET("/health/detailed", handler.DetailedHealth(d.DB, d.Documents))
	}

	auth := r.Group("/api")
	auth.Use(middleware.AuthMiddleware(d.DB, d.JWTSecret))
	admin := middleware.RoleCheck(model.RoleAdmin)
	{
		// Self-service access routes. Registered before /access/:id.
		auth.GET("/access/my-accesses", handler.MyAccesses(d.Dashboards))
		auth.GET("/access/check/:document_id", handler.CheckAccess(d.Authorizer))
		auth.GET("/access/dashboard", handler.AccessDashboard(d.Dashboards))

		// Documents, gated on the caller's grants
		auth.GET("/documents", handler.ListDocuments(d.Authorizer, d.Documents))
		auth.GET("/documents/:id", handler.GetDocument(d.Authorizer, d.Documents))

		// Grant management
		auth.GET("/access", admin, handler.ListAccesses(d.Manager))
		auth.POST("/access", admin, handler.CreateAccess(d.Manager))
		auth.POST("/access/batch", admin, handler.CreateAccessBatch(d.Manager))
		auth.GET("/access/:id", admin, handler.GetAccess(d.Manager))
		auth.PUT("/access/:id", admin, handler.UpdateAccess(d.Manager))
		auth.PATCH("/access/:id", admin, handler.UpdateAccess(d.Manager))
		auth.POST("/access/:id/revoke", admin, handler.RevokeAccess(d.Manager))
		auth.DELETE("/access/:id", admin, handler.DeleteAccess(d.Manager))

		// User Management
		auth.GET("/users", admin, handler.ListUsers(d.DB))
		auth.POST("/users", admin, handler.CreateUser(d.DB))
		auth.PUT("/users/:id", admin, handler.UpdateUser(d.DB, d.Profiles))
		auth.DELETE("/users/:id", admin, handler.DeleteUser(d.DB, d.Profiles))
		auth.PUT("/users/:id/reset-password", admin, handler.ResetUserPassword(d.DB))

		// Self-service routes
		auth.PUT("/users/change-password", handler.ChangePassword(d.DB))
		auth.POST("/users/bind-telegram", handler.BindTelegram(d.DB, d.BotToken))

		// Config Management
		auth.GET("/config/telegram", admin, handler.GetTelegramConfig(d.DB))
		auth.PUT("/config/telegram", admin, handler.UpdateTelegramConfig(d.DB))

		// Telegram WebApp endpoints
		telegram := auth.Group("/telegram")
		{
			telegram.GET("/info", handler.GetTelegramUserInfo(d.DB))
			telegram.GET("/summary", handler.GetTelegramQuickSummary(d.Dashboards))
		}
	}

	streamer := websocket.NewDashboardStreamer(d.Dashboards, d.PushInterval, d.Clock, d.Logger)
	ws := r.Group("/ws")
	ws.Use(middleware.AuthMiddleware(d.DB, d.JWTSecret))
	{
		ws.GET("/access/dashboard", streamer.Handle)
	}

	return r
}
