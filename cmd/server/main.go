// Package main runs the Egida HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/egida/backend/config"
	"github.com/egida/backend/internal/audit"
	"github.com/egida/backend/internal/auth"
	"github.com/egida/backend/internal/email"
	"github.com/egida/backend/internal/graph"
	"github.com/egida/backend/internal/groups"
	"github.com/egida/backend/internal/invites"
	"github.com/egida/backend/internal/middleware"
	"github.com/egida/backend/internal/organizations"
	"github.com/egida/backend/internal/spheres"
	"github.com/egida/backend/pkg/database"
	"github.com/egida/backend/pkg/redis"
	"github.com/egida/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxConns), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	mailer := email.NewService(email.Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUser,
		Password: cfg.Email.SMTPPass,
		From:     cfg.Email.FromAddress,
		FromName: cfg.Email.FromName,
		AppName:  "Egida",
	}, logger)

	// Audit trail (best-effort, shared by the services below)
	auditRepo := audit.NewRepository(pool, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, mailer, logger, cfg.Invite.BaseURL, cfg.JWT.RefreshExpireHours)

	// Organizations and membership roles
	orgService := organizations.NewService(organizations.NewRepository(pool), auditRepo)
	orgHandler := organizations.NewHandler(orgService, logger)
	auditHandler := audit.NewHandler(auditRepo, orgService, logger)

	// Groups
	groupsRepo := groups.NewRepository(pool)
	groupsHandler := groups.NewHandler(groupsRepo, orgService, logger)

	// Spheres
	spheresRepo := spheres.NewRepository(pool)
	spheresHandler := spheres.NewHandler(spheresRepo, groupsRepo, orgService, logger)

	// Graph (nodes, edges, import/export, map)
	graphCache := graph.NewCache(rdb.Client, logger)
	graphService := graph.NewService(graph.NewRepository(pool), orgService, spheresRepo, graphCache, auditRepo)
	graphHandler := graph.NewHandler(graphService, logger)

	// Invites
	invitesService := invites.NewService(invites.NewRepository(pool), orgService, mailer, auditRepo, logger, invites.Config{
		ExpireHours: cfg.Invite.ExpireHours,
		BaseURL:     cfg.Invite.BaseURL,
	})
	invitesHandler := invites.NewHandler(invitesService, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.POST("/password-reset/request", authHandler.RequestPasswordReset)
		authGroup.POST("/password-reset/confirm", authHandler.ConfirmPasswordReset)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/auth/me", authHandler.Me)

		// Organizations and members
		api.POST("/organizations", orgHandler.Create)
		api.GET("/organizations", orgHandler.List)
		api.GET("/organizations/:id", orgHandler.Get)
		api.PUT("/organizations/:id", orgHandler.Update)
		api.DELETE("/organizations/:id", orgHandler.Delete)
		api.GET("/organizations/:id/members", orgHandler.Members)
		api.PUT("/organizations/:id/members/:userID/role", orgHandler.ChangeRole)
		api.DELETE("/organizations/:id/members/:userID", orgHandler.RemoveMember)
		api.GET("/organizations/:id/audit", auditHandler.List)

		// Groups
		api.POST("/organizations/:id/groups", groupsHandler.Create)
		api.GET("/organizations/:id/groups", groupsHandler.List)
		api.PUT("/groups/:id", groupsHandler.Update)
		api.DELETE("/groups/:id", groupsHandler.Delete)
		api.GET("/groups/:id/members", groupsHandler.Members)
		api.POST("/groups/:id/members", groupsHandler.AddMember)
		api.DELETE("/groups/:id/members/:userID", groupsHandler.RemoveMember)

		// Spheres
		api.POST("/organizations/:id/spheres", spheresHandler.Create)
		api.GET("/organizations/:id/spheres", spheresHandler.List)
		api.PUT("/organizations/:id/spheres/layout", spheresHandler.UpdateLayout)
		api.GET("/spheres/:id", spheresHandler.Get)
		api.PUT("/spheres/:id", spheresHandler.Update)
		api.DELETE("/spheres/:id", spheresHandler.Delete)

		// Graph
		api.POST("/organizations/:id/graph/nodes", graphHandler.CreateNode)
		api.GET("/organizations/:id/graph/nodes", graphHandler.ListNodes)
		api.GET("/organizations/:id/graph/search", graphHandler.SearchNodes)
		api.GET("/graph/nodes/:id", graphHandler.GetNode)
		api.PATCH("/graph/nodes/:id", graphHandler.UpdateNode)
		api.DELETE("/graph/nodes/:id", graphHandler.DeleteNode)
		api.POST("/organizations/:id/graph/edges", graphHandler.CreateEdge)
		api.GET("/organizations/:id/graph/edges", graphHandler.ListEdges)
		api.PATCH("/graph/edges/:id", graphHandler.UpdateEdge)
		api.DELETE("/graph/edges/:id", graphHandler.DeleteEdge)
		api.GET("/organizations/:id/graph/export", graphHandler.Export)
		api.POST("/organizations/:id/graph/import", graphHandler.Import)
		api.GET("/organizations/:id/map", graphHandler.MapView)

		// Invites
		api.POST("/organizations/:id/invites", invitesHandler.Create)
		api.GET("/organizations/:id/invites", invitesHandler.List)
		api.POST("/invites/accept", invitesHandler.Accept)
		api.POST("/invites/:id/revoke", invitesHandler.Revoke)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
