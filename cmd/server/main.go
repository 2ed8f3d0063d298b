package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/transitpay/backoffice/docs"
	"github.com/transitpay/backoffice/internal/audit"
	"github.com/transitpay/backoffice/internal/config"
	"github.com/transitpay/backoffice/internal/database"
	"github.com/transitpay/backoffice/internal/handlers"
	"github.com/transitpay/backoffice/internal/logger"
	"github.com/transitpay/backoffice/internal/metrics"
	mW "github.com/transitpay/backoffice/internal/middleware"
	"github.com/transitpay/backoffice/internal/services"
	"github.com/transitpay/backoffice/internal/store"
)

// @title Settlement Reconciliation API
// @version 1.0
// @description Back-office API for settlement reconciliation and passenger credit issuance
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	config.Load()

	log := logger.New()
	if level, err := zerolog.ParseLevel(viper.GetString("log.level")); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	logger.SetDefault(log)
	ctx := logger.WithContext(context.Background(), log)

	port := viper.GetString("server.port")

	docs.SwaggerInfo.Host = "localhost:" + port

	reconCfg := config.LoadReconciliationConfig()

	db := database.InitDatabase(ctx)
	defer db.Close()

	redisClient := database.InitRedis(ctx)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics.Init()

	st := store.NewPostgres(db)
	directory := services.NewCachedDirectory(
		services.NewReaderDirectory(st, reconCfg.DirectoryTimeout),
		redisClient,
		reconCfg.DirectoryCacheTTL,
	)
	auditLogger := audit.NewLogger()
	reconService := services.NewReconciliationService(st, directory, redisClient, reconCfg, auditLogger)
	settlementHandler := handlers.NewSettlementHandler(reconService, reconCfg)
	authService := services.NewAuthService(db, redisClient)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "healthy", "database": "up", "redis": "disabled"}
		code := http.StatusOK
		if err := db.PingContext(r.Context()); err != nil {
			status["status"], status["database"] = "degraded", "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			status["redis"] = "up"
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				status["redis"] = "down"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/me", authService.GetOperator)
			r.With(mW.RequireRole(mW.RoleAdmin)).Post("/auth/operators", authService.Register)

			settlementHandler.Register(r)
		})
	})

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("port", port).Msg("[SERVER] Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("[SERVER] Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("[SERVER] Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("[SERVER] Server forced to shutdown")
	}

	log.Info().Msg("[SERVER] Server stopped")
}
