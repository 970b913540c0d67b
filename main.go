package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/handler"
	"github.com/AnTengye/contractrisk/middleware"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/service"
	"github.com/AnTengye/contractrisk/session"
	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
)

const sweepInterval = time.Minute

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "analysis_url", cfg.Analysis.BaseURL, "stage", cfg.Stage.Driver)

	stage, err := newStage(context.Background(), &cfg.Stage)
	if err != nil {
		slog.Error("failed to initialize file stage", "driver", cfg.Stage.Driver, "error", err)
		os.Exit(1)
	}

	analysis := service.NewAnalysisClient(&cfg.Analysis)
	clients := func(token string) session.AnalysisService {
		// a configured service token takes precedence over the user's
		if cfg.Analysis.APIToken != "" {
			return analysis
		}
		return analysis.WithCredentials(token)
	}

	store := session.NewStore(&cfg.Session, stage, clock.New())
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go store.RunSweeper(sweepCtx, sweepInterval)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg, store)
	sessionHandler := handler.NewSessionHandler(store, clients)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS())
	router.Use(middleware.CacheControl())
	router.Use(middleware.RateLimit(cfg.RateLimit.Requests, cfg.RateLimit.Window))

	if dir := cfg.Server.StaticDir; dir != "" {
		slog.Info("serving static files", "directory", dir)
		router.Static("/static", dir)
		router.StaticFile("/", filepath.Join(dir, "index.html"))
		router.StaticFile("/index.html", filepath.Join(dir, "index.html"))
		router.StaticFile("/login.html", filepath.Join(dir, "login.html"))
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"sessions":  store.Count(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.GET("/personas", sessionHandler.Personas)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/auth/logout", authHandler.Logout)

		protected.POST("/sessions", sessionHandler.Create)
		protected.GET("/sessions", sessionHandler.List)
		protected.GET("/sessions/:id", sessionHandler.Get)
		protected.DELETE("/sessions/:id", sessionHandler.Delete)
		protected.POST("/sessions/:id/file", sessionHandler.SelectFile)
		protected.POST("/sessions/:id/upload", sessionHandler.Upload)
		protected.PUT("/sessions/:id/persona", sessionHandler.SetPersona)
		protected.GET("/sessions/:id/dashboard", sessionHandler.Dashboard)
		protected.POST("/sessions/:id/dashboard/:documentId", sessionHandler.OpenDocument)
		protected.POST("/sessions/:id/clauses/:clauseId/counter-offer", sessionHandler.RequestCounterOffer)
		protected.DELETE("/sessions/:id/clauses/:clauseId/counter-offer", sessionHandler.ResetCounterOffer)
		protected.GET("/sessions/:id/export", sessionHandler.Export)
	}

	// Create server. Uploads wait for the analysis service, so the write timeout
	// must outlast the upload bound.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.Analysis.UploadTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	stopSweeper()
	store.CloseAll()

	slog.Info("server exited gracefully")
}

// newStage builds the file stage named by the config
func newStage(ctx context.Context, cfg *config.StageConfig) (service.FileStage, error) {
	switch cfg.Driver {
	case config.StageMinio:
		stage, err := service.NewMinioStage(&cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := stage.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return stage, nil
	case config.StageMemory:
		return service.NewMemoryStage(), nil
	default:
		return nil, fmt.Errorf("unknown stage driver %q", cfg.Driver)
	}
}
