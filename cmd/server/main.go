package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pop-reconciliation-backend/internal/config"
	"pop-reconciliation-backend/internal/events"
	"pop-reconciliation-backend/internal/routes"
	"pop-reconciliation-backend/internal/services/extraction"
	"pop-reconciliation-backend/internal/services/intake"
	"pop-reconciliation-backend/internal/storage"
	"pop-reconciliation-backend/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	if err := telemetry.InitTelemetry("pop-reconciliation", cfg.OTelEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	db, err := config.InitDB(cfg)
	if err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	blobs, err := storage.NewFileStore(cfg.BlobDir, routes.BlobPath)
	if err != nil {
		telemetry.Logger.Fatal("Failed to initialize blob store", zap.Error(err))
	}

	deps := routes.Dependencies{
		Blobs:      blobs,
		Capability: extraction.NewVisionClient(cfg.OpenAIAPIKey, cfg.OpenAIModel),
		Media:      intake.NewGraphClient(cfg.WhatsAppGraphURL, cfg.WhatsAppAccessToken),
	}

	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer redisClient.Close()
		deps.Guard = intake.NewRedisGuard(redisClient)
	}

	if cfg.KafkaBrokers != "" {
		publisher := events.NewKafkaPublisher(strings.Split(cfg.KafkaBrokers, ","), events.TopicStatusChanged)
		defer publisher.Close()
		deps.Publisher = publisher
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "X-Trace-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	background := routes.RegisterRoutes(r, db, cfg, deps)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		telemetry.Logger.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Let in-flight analysis and statement imports finish writing.
	background.Wait()
	telemetry.Logger.Info("Server exited")
}
