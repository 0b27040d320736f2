package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AlirezaZareeiD/hamfounder-sub000/config"
	"github.com/AlirezaZareeiD/hamfounder-sub000/handler"
	"github.com/AlirezaZareeiD/hamfounder-sub000/middleware"
	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/logger"
	"github.com/AlirezaZareeiD/hamfounder-sub000/pkg/mq"
	"github.com/AlirezaZareeiD/hamfounder-sub000/service"
)

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

	slog.Info("configuration loaded successfully")

	// Initialize blob storage
	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		os.Exit(1)
	}

	if err := minioSvc.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure MINIO bucket", "error", err)
		os.Exit(1)
	}

	// Connect to the document store
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := service.NewSurrealStore(ctx, &cfg.Surreal)
	cancel()
	if err != nil {
		slog.Error("failed to connect to surrealdb", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Message queue is optional; without it blob cleanup runs inline
	var publisher *mq.Publisher
	if cfg.MQ.Enabled {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			slog.Error("failed to connect to message queue", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		consumer, err := mq.NewConsumer(cfg.MQ.URL, "project-cleanup", mq.RoutingKeyProjectDeleted)
		if err != nil {
			slog.Error("failed to start cleanup consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		worker := service.NewCleanupWorker(consumer, minioSvc)
		go func() {
			if err := worker.Run(); err != nil {
				slog.Error("cleanup worker stopped", "error", err)
			}
		}()
	}

	// Edit sessions and the submit pipeline
	uploader := service.NewUploader(minioSvc)
	sessions := service.NewSessionRegistry(uploader, minioSvc, minioSvc.Bucket())
	defer sessions.Stop()
	form := service.NewFormController(store)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	projectHandler := handler.NewProjectHandler(store, minioSvc, minioSvc.Bucket(), eventPublisher(publisher))
	draftHandler := handler.NewDraftHandler(sessions, form)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.Me)

		protected.GET("/projects", projectHandler.List)
		protected.GET("/projects/watch", projectHandler.Watch)
		protected.GET("/projects/:id", projectHandler.Get)
		protected.DELETE("/projects/:id", projectHandler.Delete)

		protected.POST("/drafts", draftHandler.Open)
		protected.GET("/drafts/:id", draftHandler.Get)
		protected.DELETE("/drafts/:id", draftHandler.Close)
		protected.POST("/drafts/:id/documents", draftHandler.AddDocument)
		protected.PATCH("/drafts/:id/documents/:docID", draftHandler.UpdateDocument)
		protected.DELETE("/drafts/:id/documents/:docID", draftHandler.RemoveDocument)
		protected.PUT("/drafts/:id/documents/:docID/file", draftHandler.UploadFile)
		protected.POST("/drafts/:id/submit", draftHandler.Submit)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// eventPublisher keeps a nil *mq.Publisher from becoming a non-nil
// interface value.
func eventPublisher(p *mq.Publisher) handler.EventPublisher {
	if p == nil {
		return nil
	}
	return p
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
